package usecase

import (
	"math"

	"github.com/vitos/alpha_monitor/internal/domain"
)

const (
	DefaultMaxPrice = 10000
	// Market cap may differ from price * circulating supply by this fraction.
	marketCapTolerance = 0.2
	maxPercentChange   = 100
	// Replacement range for a rejected 24h change.
	fallbackChangeRange = 10
	volumeSupplyFactor  = 10
)

// Quote holds the numeric fields of an asset that are cross-checked together.
type Quote struct {
	Price             *float64
	Volume24h         *float64
	PercentChange24h  *float64
	MarketCap         *float64
	CirculatingSupply *float64
}

// Validator repairs out-of-range quotes. Rejected values are replaced by the
// estimator, or left unknown when it has no estimate.
type Validator struct {
	maxPrice  float64
	estimator FallbackEstimator
}

func NewValidator(maxPrice float64, estimator FallbackEstimator) *Validator {
	if maxPrice <= 0 {
		maxPrice = DefaultMaxPrice
	}
	if estimator == nil {
		estimator = NoopEstimator{}
	}
	return &Validator{maxPrice: maxPrice, estimator: estimator}
}

// Fill supplies estimates for fields the upstream did not report. A price
// outside (0, maxPrice] is replaced first, so derived estimates never start
// from a rejected price. It reports whether any estimate was used.
func (v *Validator) Fill(symbol string, q Quote) (Quote, bool) {
	estimated := false
	if !v.priceInRange(q.Price) {
		q.Price = nil
		if p, ok := v.estimator.Price(symbol); ok {
			q.Price, estimated = domain.Float(p), true
		}
	}
	price := domain.Deref(q.Price)
	if _, ok := domain.Positive(q.Volume24h); !ok {
		q.Volume24h = nil
		if vol, ok := v.estimator.Volume(symbol, price); ok {
			q.Volume24h, estimated = domain.Float(vol), true
		}
	}
	if q.PercentChange24h == nil {
		if c, ok := v.estimator.PercentChange(symbol, fallbackChangeRange); ok {
			q.PercentChange24h, estimated = domain.Float(c), true
		}
	}
	if _, ok := domain.Positive(q.CirculatingSupply); !ok {
		q.CirculatingSupply = nil
		if s, ok := v.estimator.CirculatingSupply(symbol, price); ok {
			q.CirculatingSupply, estimated = domain.Float(s), true
		}
	}
	return q, estimated
}

// Correct applies the range and consistency rules to q:
// price must be in (0, maxPrice]; volume in [0, price*supply*10];
// |change| at most 100; market cap within 20% of price*supply.
// It reports whether any estimate was used.
func (v *Validator) Correct(symbol string, q Quote) (Quote, bool) {
	estimated := false

	if q.Price != nil && !v.priceInRange(q.Price) {
		q.Price = nil
		if p, ok := v.estimator.Price(symbol); ok {
			q.Price, estimated = domain.Float(p), true
		}
	}
	price, hasPrice := domain.Positive(q.Price)

	if q.Volume24h != nil {
		vol := *q.Volume24h
		supply, hasSupply := domain.Positive(q.CirculatingSupply)
		if vol < 0 || math.IsNaN(vol) || (hasPrice && hasSupply && vol > price*supply*volumeSupplyFactor) {
			q.Volume24h = nil
			if est, ok := v.estimator.Volume(symbol, price); ok {
				q.Volume24h, estimated = domain.Float(est), true
			}
		}
	}

	if q.PercentChange24h != nil && (math.Abs(*q.PercentChange24h) > maxPercentChange || math.IsNaN(*q.PercentChange24h)) {
		q.PercentChange24h = nil
		if c, ok := v.estimator.PercentChange(symbol, fallbackChangeRange); ok {
			q.PercentChange24h, estimated = domain.Float(c), true
		}
	}

	if !hasPrice {
		// Nothing to cross-check market cap against.
		return q, estimated
	}

	mcap, hasCap := domain.Positive(q.MarketCap)
	supply, hasSupply := domain.Positive(q.CirculatingSupply)
	switch {
	case !hasCap && hasSupply:
		q.MarketCap = domain.Float(price * supply)
	case !hasCap:
		q.MarketCap, q.CirculatingSupply = nil, nil
		if s, ok := v.estimator.CirculatingSupply(symbol, price); ok {
			q.CirculatingSupply = domain.Float(s)
			q.MarketCap = domain.Float(price * s)
			estimated = true
		}
	case !hasSupply:
		q.CirculatingSupply = domain.Float(mcap / price)
	default:
		expected := price * supply
		if math.Abs(mcap-expected)/expected > marketCapTolerance {
			q.MarketCap = domain.Float(expected)
		}
	}
	return q, estimated
}

func (v *Validator) priceInRange(p *float64) bool {
	return p != nil && !math.IsNaN(*p) && *p > 0 && *p <= v.maxPrice
}
