package storage

import (
	"time"

	"github.com/vitos/alpha_monitor/internal/domain"
)

// assetRow is an assets row joined with its optional derivatives row.
type assetRow struct {
	Symbol            string    `db:"symbol"`
	Name              string    `db:"name"`
	FirstSeen         time.Time `db:"first_seen"`
	Active            bool      `db:"active"`
	Price             *float64  `db:"price"`
	Volume24h         *float64  `db:"volume_24h"`
	PercentChange24h  *float64  `db:"percent_change_24h"`
	CirculatingSupply *float64  `db:"circulating_supply"`
	TotalSupply       *float64  `db:"total_supply"`
	FDV               *float64  `db:"fdv"`
	MarketCap         *float64  `db:"market_cap"`
	Synthetic         bool      `db:"synthetic"`
	UpdatedAt         time.Time `db:"updated_at"`

	DListed        *bool      `db:"d_listed"`
	DListedAt      *time.Time `db:"d_listed_at"`
	DPrice         *float64   `db:"d_price"`
	DOpenInterest  *float64   `db:"d_open_interest"`
	DVolume24h     *float64   `db:"d_volume_24h"`
	DSpread        *float64   `db:"d_spread"`
	DOIToMarketCap *float64   `db:"d_oi_to_market_cap"`
}

type notificationRow struct {
	ID        int64     `db:"id"`
	Level     string    `db:"level"`
	Title     string    `db:"title"`
	Message   string    `db:"message"`
	Symbol    string    `db:"symbol"`
	CreatedAt time.Time `db:"created_at"`
}

func toAssetRow(r domain.AssetRecord) assetRow {
	return assetRow{
		Symbol:            r.Symbol,
		Name:              r.Name,
		FirstSeen:         r.FirstSeen.UTC(),
		Active:            r.Active,
		Price:             r.Price,
		Volume24h:         r.Volume24h,
		PercentChange24h:  r.PercentChange24h,
		CirculatingSupply: r.CirculatingSupply,
		TotalSupply:       r.TotalSupply,
		FDV:               r.FDV,
		MarketCap:         r.MarketCap,
		Synthetic:         r.Synthetic,
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

func (r assetRow) toDomain() domain.AssetRecord {
	rec := domain.AssetRecord{
		Symbol:            r.Symbol,
		Name:              r.Name,
		FirstSeen:         r.FirstSeen.UTC(),
		Active:            r.Active,
		Price:             r.Price,
		Volume24h:         r.Volume24h,
		PercentChange24h:  r.PercentChange24h,
		CirculatingSupply: r.CirculatingSupply,
		TotalSupply:       r.TotalSupply,
		FDV:               r.FDV,
		MarketCap:         r.MarketCap,
		Synthetic:         r.Synthetic,
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
	if r.DListed != nil {
		d := domain.DerivativeSummary{
			Listed:        *r.DListed,
			ListedAt:      utcPtr(r.DListedAt),
			Price:         r.DPrice,
			OpenInterest:  r.DOpenInterest,
			Volume24h:     r.DVolume24h,
			Spread:        r.DSpread,
			OIToMarketCap: r.DOIToMarketCap,
		}
		d.Normalize()
		rec.Derivative = &d
	}
	return rec
}

func rowsToSnapshot(rows []assetRow) domain.Snapshot {
	snap := make(domain.Snapshot, len(rows))
	for _, r := range rows {
		snap[r.Symbol] = r.toDomain()
	}
	return snap
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
