package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/alpha_monitor/internal/domain"
)

func TestValidator_Correct(t *testing.T) {
	v := NewValidator(DefaultMaxPrice, SyntheticEstimator{})

	t.Run("negative price is regenerated", func(t *testing.T) {
		q, estimated := v.Correct("NEG", Quote{Price: domain.Float(-5)})
		require.NotNil(t, q.Price)
		assert.Greater(t, *q.Price, 0.0)
		assert.LessOrEqual(t, *q.Price, float64(DefaultMaxPrice))
		assert.True(t, estimated)
	})

	t.Run("price above cap is regenerated", func(t *testing.T) {
		q, _ := v.Correct("BIG", Quote{Price: domain.Float(20000)})
		require.NotNil(t, q.Price)
		assert.LessOrEqual(t, *q.Price, float64(DefaultMaxPrice))
	})

	t.Run("market cap outside tolerance is recomputed", func(t *testing.T) {
		price, supply := 2.0, 1_000_000.0
		q, estimated := v.Correct("CAP", Quote{
			Price:             domain.Float(price),
			MarketCap:         domain.Float(price * supply * 5),
			CirculatingSupply: domain.Float(supply),
		})
		require.NotNil(t, q.MarketCap)
		assert.InDelta(t, price*supply, *q.MarketCap, 1e-6)
		assert.False(t, estimated)
	})

	t.Run("market cap within tolerance is kept", func(t *testing.T) {
		q, _ := v.Correct("OK", Quote{
			Price:             domain.Float(2),
			MarketCap:         domain.Float(2_300_000),
			CirculatingSupply: domain.Float(1_000_000),
		})
		assert.InDelta(t, 2_300_000, *q.MarketCap, 1e-6)
	})

	t.Run("supply derived from market cap", func(t *testing.T) {
		q, _ := v.Correct("SUP", Quote{Price: domain.Float(4), MarketCap: domain.Float(400)})
		require.NotNil(t, q.CirculatingSupply)
		assert.InDelta(t, 100, *q.CirculatingSupply, 1e-9)
	})

	t.Run("excessive volume is regenerated", func(t *testing.T) {
		q, estimated := v.Correct("VOL", Quote{
			Price:             domain.Float(1),
			Volume24h:         domain.Float(1_000_001),
			CirculatingSupply: domain.Float(100_000),
			MarketCap:         domain.Float(100_000),
		})
		require.NotNil(t, q.Volume24h)
		assert.NotEqual(t, 1_000_001.0, *q.Volume24h)
		assert.True(t, estimated)
	})

	t.Run("percent change beyond 100 is regenerated within 10", func(t *testing.T) {
		q, _ := v.Correct("CHG", Quote{Price: domain.Float(1), PercentChange24h: domain.Float(-250)})
		require.NotNil(t, q.PercentChange24h)
		assert.LessOrEqual(t, *q.PercentChange24h, 10.0)
		assert.GreaterOrEqual(t, *q.PercentChange24h, -10.0)
	})
}

func TestValidator_Correct_WithoutEstimator(t *testing.T) {
	v := NewValidator(DefaultMaxPrice, NoopEstimator{})

	q, estimated := v.Correct("NEG", Quote{
		Price:            domain.Float(-5),
		PercentChange24h: domain.Float(300),
		MarketCap:        domain.Float(100),
	})
	assert.False(t, estimated)
	assert.Nil(t, q.Price)
	assert.Nil(t, q.PercentChange24h)
	// Unchecked without a price.
	assert.InDelta(t, 100, *q.MarketCap, 1e-9)
}

func TestValidator_Fill(t *testing.T) {
	v := NewValidator(DefaultMaxPrice, SyntheticEstimator{})

	q, estimated := v.Fill("FILL", Quote{Price: domain.Float(0)})
	assert.True(t, estimated)
	require.NotNil(t, q.Price)
	require.NotNil(t, q.Volume24h)
	require.NotNil(t, q.PercentChange24h)
	require.NotNil(t, q.CirculatingSupply)

	full := Quote{
		Price:             domain.Float(1),
		Volume24h:         domain.Float(10),
		PercentChange24h:  domain.Float(0),
		CirculatingSupply: domain.Float(100),
	}
	_, estimated = v.Fill("FULL", full)
	assert.False(t, estimated)
}

func TestValidator_FillRejectsPriceBeforeDerivingEstimates(t *testing.T) {
	est := SyntheticEstimator{}
	v := NewValidator(DefaultMaxPrice, est)

	q, estimated := v.Fill("HOT", Quote{Price: domain.Float(61000)})
	assert.True(t, estimated)
	require.NotNil(t, q.Price)
	assert.LessOrEqual(t, *q.Price, float64(DefaultMaxPrice))

	wantVol, _ := est.Volume("HOT", *q.Price)
	wantSupply, _ := est.CirculatingSupply("HOT", *q.Price)
	require.NotNil(t, q.Volume24h)
	require.NotNil(t, q.CirculatingSupply)
	assert.InDelta(t, wantVol, *q.Volume24h, 1e-9)
	assert.InDelta(t, wantSupply, *q.CirculatingSupply, 1e-9)

	corrected, _ := v.Correct("HOT", q)
	assert.Equal(t, *q.Price, *corrected.Price)
}
