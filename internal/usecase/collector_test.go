package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/alpha_monitor/internal/domain"
)

func newTestCollector(client *fakeClient, store *fakeStore, pub *fakePublisher, opts ...CollectorOption) *Collector {
	opts = append([]CollectorOption{WithValidator(NewValidator(1_000_000, NoopEstimator{}))}, opts...)
	c := NewCollector(client, store, pub, opts...)
	c.timeNow = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestCollector_RunCycle_EndToEnd(t *testing.T) {
	prevBTC := domain.AssetRecord{
		Symbol:    "BTC",
		Name:      "Bitcoin",
		FirstSeen: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Active:    true,
		Price:     domain.Float(60000),
	}
	store := newFakeStore(prevBTC)
	client := newFakeClient(
		domain.UniverseAsset{Symbol: "BTC", Name: "Bitcoin", Price: domain.Float(61000), CirculatingSupply: domain.Float(19_000_000)},
		domain.UniverseAsset{Symbol: "XYZ", Name: "Xyz", Price: domain.Float(2), CirculatingSupply: domain.Float(1_000_000)},
	)
	client.derivs["XYZ"] = &domain.DerivativeSummary{Listed: true, Price: domain.Float(2.02)}
	pub := &fakePublisher{}

	c := newTestCollector(client, store, pub)
	run, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)

	assert.Equal(t, domain.RunSuccess, run.Status)
	assert.Equal(t, 2, run.RecordsProcessed)
	assert.NotNil(t, run.CompletedAt)

	prices := pub.on(domain.ChannelPriceUpdate)
	require.Len(t, prices, 1)
	records, err := prices[0].Records()
	require.NoError(t, err)
	assert.Len(t, records, 2)

	added := pub.on(domain.ChannelNewCoin)
	require.Len(t, added, 1)
	rec, err := added[0].Record()
	require.NoError(t, err)
	assert.Equal(t, "XYZ", rec.Symbol)

	listed := pub.on(domain.ChannelNewFutures)
	require.Len(t, listed, 1)
	rec, err = listed[0].Record()
	require.NoError(t, err)
	assert.Equal(t, "XYZ", rec.Symbol)

	assert.Equal(t, 1, pub.invalidations)
	assert.Len(t, pub.on(domain.ChannelDataSync), 1)
	assert.Len(t, pub.on(domain.ChannelNotification), 2)

	// Persisted state and the committed snapshot agree.
	assert.InDelta(t, 61000, *store.assets["BTC"].Price, 1e-9)
	assert.Equal(t, prevBTC.FirstSeen, store.assets["BTC"].FirstSeen)
	assert.True(t, store.assets["XYZ"].IsListed())
	assert.NotNil(t, store.assets["XYZ"].Derivative.ListedAt)
	assert.Equal(t, 2, store.history)
	assert.Len(t, c.Current(), 2)

	stored := store.runs[run.ID]
	require.NotNil(t, stored)
	assert.Equal(t, domain.RunSuccess, stored.Status)
}

func TestCollector_RunCycle_SkipsWhileRunning(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient(domain.UniverseAsset{Symbol: "AAA", Price: domain.Float(1)})
	client.started = make(chan struct{})
	client.release = make(chan struct{})
	c := newTestCollector(client, store, &fakePublisher{})

	type result struct {
		run *domain.CollectionRun
		err error
	}
	done := make(chan result, 1)
	go func() {
		run, err := c.RunCycle(context.Background())
		done <- result{run, err}
	}()

	<-client.started
	assert.True(t, c.Running())

	run, err := c.RunCycle(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, run)

	close(client.release)
	first := <-done
	require.NoError(t, first.err)
	require.NotNil(t, first.run)
	assert.Equal(t, domain.RunSuccess, first.run.Status)

	assert.Equal(t, 1, store.started)
	assert.Len(t, store.runs, 1)
	assert.False(t, c.Running())
	assert.EqualValues(t, 1, c.Stats().TotalRuns)
}

func TestCollector_RunCycle_BoundsConcurrency(t *testing.T) {
	var assets []domain.UniverseAsset
	for i := 0; i < 25; i++ {
		symbol := fmt.Sprintf("A%02d", i)
		assets = append(assets, domain.UniverseAsset{Symbol: symbol, Price: domain.Float(1)})
	}
	client := newFakeClient(assets...)
	client.delay = 20 * time.Millisecond
	// Listed without open interest, so each asset also makes the OI call.
	for _, a := range assets {
		client.derivs[a.Symbol] = &domain.DerivativeSummary{Listed: true, Price: domain.Float(1)}
		client.openInt[a.Symbol] = 10
	}
	store := newFakeStore()

	c := newTestCollector(client, store, &fakePublisher{}, WithConcurrency(10))
	run, err := c.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 25, run.RecordsProcessed)
	assert.EqualValues(t, 25, client.tickerCalls.Load())

	// Ticker and derivative status run together per asset; open interest follows.
	calls, inFlight := client.peaks()
	assert.LessOrEqual(t, inFlight, 10)
	assert.Greater(t, inFlight, 1)
	assert.LessOrEqual(t, calls, 20)
	assert.Greater(t, calls, 10)
}

func TestCollector_RunCycle_UniverseFailure(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	client.universeErr = errBoom
	pub := &fakePublisher{}

	c := newTestCollector(client, store, pub)
	run, err := c.RunCycle(context.Background())
	require.ErrorIs(t, err, domain.ErrUniverseFetch)
	require.NotNil(t, run)

	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Contains(t, run.Error, "boom")
	assert.Empty(t, pub.events)
	assert.Zero(t, pub.invalidations)
	assert.Zero(t, store.history)
	assert.Nil(t, c.Current())

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.FailedRuns)
	assert.EqualValues(t, 1, stats.ConsecutiveFailures)
}

func TestCollector_RunCycle_PersistenceFailureRollsBack(t *testing.T) {
	prev := domain.AssetRecord{Symbol: "AAA", Price: domain.Float(1)}
	store := newFakeStore(prev)
	store.writeErr = errBoom
	client := newFakeClient(
		domain.UniverseAsset{Symbol: "AAA", Price: domain.Float(3)},
		domain.UniverseAsset{Symbol: "BBB", Price: domain.Float(4)},
	)
	client.derivs["BBB"] = &domain.DerivativeSummary{Listed: true}
	pub := &fakePublisher{}

	c := newTestCollector(client, store, pub)
	run, err := c.RunCycle(context.Background())
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Zero(t, run.RecordsProcessed)

	// Previous state remains authoritative.
	assert.Len(t, store.assets, 1)
	assert.InDelta(t, 1, *store.assets["AAA"].Price, 1e-9)
	assert.Zero(t, store.history)
	assert.Empty(t, pub.events)

	// The next successful cycle resets the failure streak.
	store.writeErr = nil
	_, err = c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, c.Stats().ConsecutiveFailures)
	assert.EqualValues(t, 1, c.Stats().FailedRuns)
}

func TestCollector_RunCycle_LoadFailure(t *testing.T) {
	store := newFakeStore()
	store.loadErr = errBoom
	client := newFakeClient(domain.UniverseAsset{Symbol: "AAA", Price: domain.Float(1)})

	c := newTestCollector(client, store, &fakePublisher{})
	_, err := c.RunCycle(context.Background())
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.Zero(t, client.tickerCalls.Load())
}

func TestCollector_RunCycle_SkipsFailedAsset(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient(
		domain.UniverseAsset{Symbol: "AAA", Price: domain.Float(1)},
		domain.UniverseAsset{Symbol: "BBB", Price: domain.Float(2)},
		domain.UniverseAsset{Symbol: "CCC", Price: domain.Float(3)},
	)
	client.tickerErr["BBB"] = errBoom
	pub := &fakePublisher{}

	c := newTestCollector(client, store, pub)
	run, err := c.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.RunSuccess, run.Status)
	assert.Equal(t, 2, run.RecordsProcessed)
	assert.NotContains(t, store.assets, "BBB")
	assert.Len(t, pub.on(domain.ChannelNewCoin), 2)
}

func TestCollector_RunCycle_AlreadyListedDerivative(t *testing.T) {
	listedAt := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	prev := domain.AssetRecord{
		Symbol:     "BBB",
		Price:      domain.Float(5),
		Derivative: &domain.DerivativeSummary{Listed: true, ListedAt: &listedAt, Price: domain.Float(5)},
	}
	store := newFakeStore(prev)
	client := newFakeClient(domain.UniverseAsset{Symbol: "BBB", Price: domain.Float(6)})
	client.derivs["BBB"] = &domain.DerivativeSummary{Listed: true, Price: domain.Float(6.6), Volume24h: domain.Float(1000)}
	pub := &fakePublisher{}

	c := newTestCollector(client, store, pub)
	_, err := c.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Empty(t, pub.on(domain.ChannelNewFutures))
	assert.Empty(t, pub.on(domain.ChannelNewCoin))
	d := store.assets["BBB"].Derivative
	require.NotNil(t, d)
	assert.Equal(t, listedAt, *d.ListedAt)
	require.NotNil(t, d.Spread)
	assert.InDelta(t, 10, *d.Spread, 1e-9)
}

func TestCollector_RunCycle_OpenInterestInQuoteCurrency(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient(domain.UniverseAsset{Symbol: "CCC", Price: domain.Float(2), MarketCap: domain.Float(2000), CirculatingSupply: domain.Float(1000)})
	client.derivs["CCC"] = &domain.DerivativeSummary{Listed: true, Price: domain.Float(2.5)}
	client.openInt["CCC"] = 400

	c := newTestCollector(client, store, &fakePublisher{})
	_, err := c.RunCycle(context.Background())
	require.NoError(t, err)

	d := store.assets["CCC"].Derivative
	require.NotNil(t, d.OpenInterest)
	assert.InDelta(t, 1000, *d.OpenInterest, 1e-9)
	require.NotNil(t, d.OIToMarketCap)
	assert.InDelta(t, 0.5, *d.OIToMarketCap, 1e-9)
}

func TestCollector_RunCycle_PublishErrorsDoNotFailCycle(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient(domain.UniverseAsset{Symbol: "AAA", Price: domain.Float(1)})
	pub := &fakePublisher{publishErr: errBoom}

	c := newTestCollector(client, store, pub)
	run, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunSuccess, run.Status)
	assert.Contains(t, store.assets, "AAA")
}

func TestCollector_RunCycle_EmptyUniverse(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}

	c := newTestCollector(newFakeClient(), store, pub)
	run, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunSuccess, run.Status)
	assert.Zero(t, run.RecordsProcessed)
	assert.Empty(t, pub.events)
}

func TestCollector_RunCycle_TickerFallbackAndSynthetic(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient(
		domain.UniverseAsset{Symbol: "TCK"},
		domain.UniverseAsset{Symbol: "SYN"},
	)
	client.tickers["TCK"] = &domain.Ticker{Symbol: "TCK", LastPrice: 3, Volume24h: 500, PercentChange24h: -2}

	c := NewCollector(client, store, &fakePublisher{})
	_, err := c.RunCycle(context.Background())
	require.NoError(t, err)

	tck := store.assets["TCK"]
	assert.InDelta(t, 3, *tck.Price, 1e-9)
	assert.InDelta(t, -2, *tck.PercentChange24h, 1e-9)

	syn := store.assets["SYN"]
	assert.True(t, syn.Synthetic)
	require.NotNil(t, syn.Price)
	assert.Greater(t, *syn.Price, 0.0)
	require.NotNil(t, syn.MarketCap)
	assert.InDelta(t, *syn.Price**syn.CirculatingSupply, *syn.MarketCap, 1e-6**syn.MarketCap)
}
