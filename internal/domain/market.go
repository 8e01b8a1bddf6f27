package domain

import "time"

// UniverseAsset is one entry of the upstream asset universe, together with
// whatever figures the aggregator reports for it.
type UniverseAsset struct {
	Symbol            string
	Name              string
	Price             *float64
	Volume24h         *float64
	PercentChange24h  *float64
	MarketCap         *float64
	CirculatingSupply *float64
	TotalSupply       *float64
	FDV               *float64
	ListedAt          *time.Time
}

// Ticker is a spot 24h ticker.
type Ticker struct {
	Symbol           string  `json:"symbol"`
	LastPrice        float64 `json:"last_price"`
	Volume24h        float64 `json:"volume_24h"`
	PercentChange24h float64 `json:"percent_change_24h"`
}
