package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyntheticEstimator_Deterministic(t *testing.T) {
	est := SyntheticEstimator{}

	p1, ok := est.Price("PEPE")
	assert.True(t, ok)
	p2, _ := est.Price("PEPE")
	assert.Equal(t, p1, p2)

	v1, _ := est.Volume("PEPE", p1)
	v2, _ := est.Volume("PEPE", p1)
	assert.Equal(t, v1, v2)
}

func TestSyntheticEstimator_Ranges(t *testing.T) {
	est := SyntheticEstimator{}
	for _, sym := range []string{"A", "BB", "CCC", "DDDD", "EEEEE", "F1", "G22", "H333"} {
		p, _ := est.Price(sym)
		assert.Greater(t, p, 0.0, sym)
		assert.LessOrEqual(t, p, 500.0, sym)

		c, _ := est.PercentChange(sym, 10)
		assert.LessOrEqual(t, c, 10.0, sym)
		assert.GreaterOrEqual(t, c, -10.0, sym)

		s, _ := est.CirculatingSupply(sym, p)
		assert.GreaterOrEqual(t, s, 10_000_000.0, sym)

		v, _ := est.Volume(sym, p)
		assert.Greater(t, v, 0.0, sym)
	}
}

func TestNewFallbackEstimator(t *testing.T) {
	assert.IsType(t, NoopEstimator{}, NewFallbackEstimator("none"))
	assert.IsType(t, SyntheticEstimator{}, NewFallbackEstimator("synthetic"))

	_, ok := NoopEstimator{}.Price("X")
	assert.False(t, ok)
}
