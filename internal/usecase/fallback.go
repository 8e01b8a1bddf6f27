package usecase

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
)

// FallbackEstimator supplies values when upstream data is missing or rejected.
// A false return means no estimate is available and the value stays unknown.
type FallbackEstimator interface {
	Price(symbol string) (float64, bool)
	Volume(symbol string, price float64) (float64, bool)
	PercentChange(symbol string, maxAbs float64) (float64, bool)
	CirculatingSupply(symbol string, price float64) (float64, bool)
}

// NewFallbackEstimator returns the estimator registered under name.
// Unknown names fall back to synthetic.
func NewFallbackEstimator(name string) FallbackEstimator {
	if name == "none" {
		return NoopEstimator{}
	}
	return SyntheticEstimator{}
}

// NoopEstimator never estimates.
type NoopEstimator struct{}

func (NoopEstimator) Price(string) (float64, bool) { return 0, false }
func (NoopEstimator) Volume(string, float64) (float64, bool) { return 0, false }
func (NoopEstimator) PercentChange(string, float64) (float64, bool) { return 0, false }
func (NoopEstimator) CirculatingSupply(string, float64) (float64, bool) {
	return 0, false
}

// SyntheticEstimator produces plausible values seeded from the symbol, so the
// same symbol always yields the same estimate.
type SyntheticEstimator struct{}

func (SyntheticEstimator) Price(symbol string) (float64, bool) {
	r := seeded(symbol, "price")
	switch symbolBand(symbol) {
	case 0:
		return r.Float64()*450 + 50, true
	case 1:
		return r.Float64()*49 + 1, true
	case 2:
		return r.Float64()*0.99 + 0.01, true
	default:
		return r.Float64()*0.0099 + 0.0001, true
	}
}

func (SyntheticEstimator) Volume(symbol string, price float64) (float64, bool) {
	if price <= 0 {
		price = 1
	}
	r := seeded(symbol, "volume")
	base := r.Float64()*1_000_000 + 100_000
	mult := math.Sqrt(1 / price)
	if price > 1 {
		mult = 1 / math.Sqrt(price)
	}
	return base * mult * (0.5 + r.Float64()), true
}

func (SyntheticEstimator) PercentChange(symbol string, maxAbs float64) (float64, bool) {
	r := seeded(symbol, "change")
	return (r.Float64() - 0.5) * 2 * maxAbs, true
}

func (SyntheticEstimator) CirculatingSupply(symbol string, price float64) (float64, bool) {
	r := seeded(symbol, "supply")
	switch {
	case price > 100:
		return r.Float64()*50_000_000 + 10_000_000, true
	case price > 10:
		return r.Float64()*200_000_000 + 50_000_000, true
	case price > 1:
		return r.Float64()*500_000_000 + 100_000_000, true
	default:
		return r.Float64()*2_000_000_000 + 500_000_000, true
	}
}

func symbolBand(symbol string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return h.Sum64() % 4
}

func seeded(symbol, field string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte{0})
	h.Write([]byte(field))
	sum := h.Sum64()
	return rand.New(rand.NewPCG(sum, sum>>1|1))
}
