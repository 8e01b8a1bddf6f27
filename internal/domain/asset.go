package domain

import (
	"sort"
	"time"
)

// DerivativeSummary describes the perpetual market of an asset, if any.
// ListedAt is only set when Listed is true.
type DerivativeSummary struct {
	Listed        bool       `json:"listed"`
	ListedAt      *time.Time `json:"listed_at,omitempty"`
	Price         *float64   `json:"price,omitempty"`
	OpenInterest  *float64   `json:"open_interest,omitempty"` // Quote currency (contracts * price)
	Volume24h     *float64   `json:"volume_24h,omitempty"`
	Spread        *float64   `json:"spread,omitempty"` // Percent, (derivative - spot) / spot
	OIToMarketCap *float64   `json:"oi_to_market_cap,omitempty"`
}

// Normalize enforces that an unlisted summary carries no listing time.
func (d *DerivativeSummary) Normalize() {
	if !d.Listed {
		d.ListedAt = nil
	}
}

func (d DerivativeSummary) Clone() DerivativeSummary {
	out := d
	out.ListedAt = cloneTime(d.ListedAt)
	out.Price = cloneFloat(d.Price)
	out.OpenInterest = cloneFloat(d.OpenInterest)
	out.Volume24h = cloneFloat(d.Volume24h)
	out.Spread = cloneFloat(d.Spread)
	out.OIToMarketCap = cloneFloat(d.OIToMarketCap)
	return out
}

// AssetRecord is the reconciled state of one tracked asset.
// Nil numeric fields mean "unknown"; they are never encoded as zero.
type AssetRecord struct {
	Symbol            string             `json:"symbol"`
	Name              string             `json:"name"`
	FirstSeen         time.Time          `json:"first_seen"`
	Active            bool               `json:"active"`
	Price             *float64           `json:"price,omitempty"`
	Volume24h         *float64           `json:"volume_24h,omitempty"`
	PercentChange24h  *float64           `json:"percent_change_24h,omitempty"`
	CirculatingSupply *float64           `json:"circulating_supply,omitempty"`
	TotalSupply       *float64           `json:"total_supply,omitempty"`
	FDV               *float64           `json:"fdv,omitempty"`
	MarketCap         *float64           `json:"market_cap,omitempty"`
	Derivative        *DerivativeSummary `json:"derivative,omitempty"`
	Synthetic         bool               `json:"synthetic"` // Some values came from the fallback estimator
	UpdatedAt         time.Time          `json:"updated_at"`
}

// IsListed reports whether the asset has a listed derivative market.
func (r AssetRecord) IsListed() bool {
	return r.Derivative != nil && r.Derivative.Listed
}

func (r AssetRecord) Clone() AssetRecord {
	out := r
	out.Price = cloneFloat(r.Price)
	out.Volume24h = cloneFloat(r.Volume24h)
	out.PercentChange24h = cloneFloat(r.PercentChange24h)
	out.CirculatingSupply = cloneFloat(r.CirculatingSupply)
	out.TotalSupply = cloneFloat(r.TotalSupply)
	out.FDV = cloneFloat(r.FDV)
	out.MarketCap = cloneFloat(r.MarketCap)
	if r.Derivative != nil {
		d := r.Derivative.Clone()
		out.Derivative = &d
	}
	return out
}

// Snapshot maps symbol to its record at a point in time.
type Snapshot map[string]AssetRecord

func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v.Clone()
	}
	return out
}

// Records returns copies of all records ordered by symbol.
func (s Snapshot) Records() []AssetRecord {
	out := make([]AssetRecord, 0, len(s))
	for _, v := range s {
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Positive returns the value and true when p is set and greater than zero.
func Positive(p *float64) (float64, bool) {
	if p == nil || *p <= 0 {
		return 0, false
	}
	return *p, true
}

// Deref returns the value or zero.
func Deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
