package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/alpha_monitor/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency  = 10
	DefaultFetchTimeout = 10 * time.Second
)

// EventPublisher is the broker surface the collector writes to.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, event domain.Event) error
	InvalidateAll(ctx context.Context) error
}

// CycleObserver receives collector outcomes, e.g. for metrics.
type CycleObserver interface {
	CycleFinished(run *domain.CollectionRun)
	CycleSkipped()
	AssetFailed()
	EventsPublished(channel string, n int)
}

type nopObserver struct{}

func (nopObserver) CycleFinished(*domain.CollectionRun) {}
func (nopObserver) CycleSkipped() {}
func (nopObserver) AssetFailed() {}
func (nopObserver) EventsPublished(string, int) {}

// CollectorStats summarises past cycles.
type CollectorStats struct {
	TotalRuns           int64                 `json:"total_runs"`
	FailedRuns          int64                 `json:"failed_runs"`
	ConsecutiveFailures int64                 `json:"consecutive_failures"`
	Running             bool                  `json:"running"`
	LastRun             *domain.CollectionRun `json:"last_run,omitempty"`
}

type CollectorOption func(*Collector)

func WithConcurrency(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithFetchTimeout(d time.Duration) CollectorOption {
	return func(c *Collector) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

func WithCollectorLogger(l *zap.Logger) CollectorOption {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithObserver(o CycleObserver) CollectorOption {
	return func(c *Collector) {
		if o != nil {
			c.observer = o
		}
	}
}

func WithValidator(v *Validator) CollectorOption {
	return func(c *Collector) {
		if v != nil {
			c.validator = v
		}
	}
}

// Collector runs collection cycles: fetch, validate, diff, persist, publish.
// At most one cycle runs at a time.
type Collector struct {
	client    domain.MarketDataClient
	store     domain.Store
	publisher EventPublisher
	validator *Validator
	observer  CycleObserver
	logger    *zap.Logger

	concurrency  int
	fetchTimeout time.Duration

	running atomic.Bool
	current atomic.Pointer[domain.Snapshot]

	totalRuns   atomic.Int64
	failedRuns  atomic.Int64
	consecutive atomic.Int64
	lastRunMu   sync.Mutex
	lastRun     *domain.CollectionRun
	timeNow     func() time.Time // For testing
}

func NewCollector(client domain.MarketDataClient, store domain.Store, publisher EventPublisher, opts ...CollectorOption) *Collector {
	c := &Collector{
		client:       client,
		store:        store,
		publisher:    publisher,
		validator:    NewValidator(DefaultMaxPrice, SyntheticEstimator{}),
		observer:     nopObserver{},
		logger:       zap.NewNop(),
		concurrency:  DefaultConcurrency,
		fetchTimeout: DefaultFetchTimeout,
		timeNow:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunCycle runs one collection cycle. A call made while another cycle is in
// flight returns (nil, nil) without doing anything.
// The returned error wraps domain.ErrUniverseFetch or domain.ErrPersistence.
func (c *Collector) RunCycle(ctx context.Context) (*domain.CollectionRun, error) {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Info("Collection already in progress, skipping cycle")
		c.observer.CycleSkipped()
		return nil, nil
	}
	defer c.running.Store(false)

	run := &domain.CollectionRun{
		ID:        uuid.NewString(),
		TaskType:  domain.TaskFullCollection,
		Status:    domain.RunRunning,
		StartedAt: c.timeNow(),
	}
	if err := c.store.StartRun(ctx, run); err != nil {
		c.logger.Warn("Failed to record run start", zap.String("run_id", run.ID), zap.Error(err))
	}

	processed, err := c.cycle(ctx, run)
	c.finish(ctx, run, processed, err)
	return run, err
}

// Running reports whether a cycle is in flight.
func (c *Collector) Running() bool {
	return c.running.Load()
}

// Current returns a copy of the snapshot committed by the last successful
// cycle, or nil before the first one.
func (c *Collector) Current() domain.Snapshot {
	p := c.current.Load()
	if p == nil {
		return nil
	}
	return p.Clone()
}

func (c *Collector) Stats() CollectorStats {
	c.lastRunMu.Lock()
	var last *domain.CollectionRun
	if c.lastRun != nil {
		r := *c.lastRun
		last = &r
	}
	c.lastRunMu.Unlock()

	return CollectorStats{
		TotalRuns:           c.totalRuns.Load(),
		FailedRuns:          c.failedRuns.Load(),
		ConsecutiveFailures: c.consecutive.Load(),
		Running:             c.running.Load(),
		LastRun:             last,
	}
}

func (c *Collector) cycle(ctx context.Context, run *domain.CollectionRun) (int, error) {
	prev, err := c.store.GetAllAssets(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: load snapshot: %w", domain.ErrPersistence, err)
	}

	universe, err := c.client.ListAssetUniverse(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrUniverseFetch, err)
	}
	if len(universe) == 0 {
		c.logger.Info("Asset universe is empty, nothing to collect")
		return 0, nil
	}

	records := c.fetchAll(ctx, universe, prev)
	if len(records) == 0 {
		c.logger.Warn("No asset could be fetched this cycle", zap.Int("universe", len(universe)))
		return 0, nil
	}

	changes := DiffSnapshot(prev, records)
	now := c.timeNow()
	notes := notificationsFor(changes, now)

	err = c.store.RunInTx(ctx, func(w domain.AssetWriter) error {
		if err := w.UpsertAssets(ctx, records); err != nil {
			return fmt.Errorf("upsert assets: %w", err)
		}
		if err := w.AppendPriceHistory(ctx, records, now); err != nil {
			return fmt.Errorf("append price history: %w", err)
		}
		for _, rec := range records {
			if rec.Derivative == nil {
				continue
			}
			if err := w.UpsertDerivative(ctx, rec.Symbol, *rec.Derivative); err != nil {
				return fmt.Errorf("upsert derivative %s: %w", rec.Symbol, err)
			}
		}
		for i := range notes {
			if err := w.SaveNotification(ctx, &notes[i]); err != nil {
				return fmt.Errorf("save notification: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	next := MergeSnapshot(prev, records)
	c.current.Store(&next)

	c.publish(ctx, run, records, changes, notes)
	return len(records), nil
}

// fetchAll processes the universe in sequential batches of c.concurrency.
// Failed assets are logged and left out.
func (c *Collector) fetchAll(ctx context.Context, universe []domain.UniverseAsset, prev domain.Snapshot) []domain.AssetRecord {
	records := make([]domain.AssetRecord, 0, len(universe))
	for start := 0; start < len(universe); start += c.concurrency {
		end := min(start+c.concurrency, len(universe))
		batch := universe[start:end]
		results := make([]*domain.AssetRecord, len(batch))

		var g errgroup.Group
		for i, asset := range batch {
			g.Go(func() error {
				rec, err := c.fetchAsset(ctx, asset, prev)
				if err != nil {
					c.observer.AssetFailed()
					c.logger.Warn("Skipping asset for this cycle", zap.String("symbol", asset.Symbol), zap.Error(err))
					return nil
				}
				results[i] = rec
				return nil
			})
		}
		_ = g.Wait()

		for _, rec := range results {
			if rec != nil {
				records = append(records, *rec)
			}
		}
	}
	return records
}

func (c *Collector) fetchAsset(ctx context.Context, asset domain.UniverseAsset, prev domain.Snapshot) (*domain.AssetRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	var (
		ticker *domain.Ticker
		deriv  *domain.DerivativeSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ticker, err = c.client.GetTicker(gctx, asset.Symbol)
		if err != nil {
			return fmt.Errorf("ticker: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		deriv, err = c.client.GetDerivativeStatus(gctx, asset.Symbol)
		if err != nil {
			return fmt.Errorf("derivative status: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rec := c.buildRecord(asset, ticker, prev)

	if deriv != nil {
		d := deriv.Clone()
		if d.Listed && d.OpenInterest == nil {
			contracts, err := c.client.GetOpenInterest(ctx, asset.Symbol)
			if err != nil {
				return nil, fmt.Errorf("open interest: %w", err)
			}
			if contracts != nil {
				if p, ok := domain.Positive(d.Price); ok {
					d.OpenInterest = domain.Float(*contracts * p)
				}
			}
		}
		c.completeDerivative(&d, rec, prev)
		rec.Derivative = &d
	}
	return rec, nil
}

// buildRecord prefers the aggregator's own figures when its price is positive,
// then the spot ticker, then the estimator; the result is validated.
func (c *Collector) buildRecord(asset domain.UniverseAsset, ticker *domain.Ticker, prev domain.Snapshot) *domain.AssetRecord {
	var q Quote
	if _, ok := domain.Positive(asset.Price); ok {
		q.Price = asset.Price
		q.Volume24h = asset.Volume24h
		q.PercentChange24h = asset.PercentChange24h
	} else if ticker != nil {
		q.Price = domain.Float(ticker.LastPrice)
		q.Volume24h = domain.Float(ticker.Volume24h)
		q.PercentChange24h = domain.Float(ticker.PercentChange24h)
	}
	q.MarketCap = asset.MarketCap
	q.CirculatingSupply = asset.CirculatingSupply

	q, filled := c.validator.Fill(asset.Symbol, q)
	q, corrected := c.validator.Correct(asset.Symbol, q)

	now := c.timeNow()
	rec := &domain.AssetRecord{
		Symbol:            asset.Symbol,
		Name:              asset.Name,
		FirstSeen:         now,
		Active:            true,
		Price:             q.Price,
		Volume24h:         q.Volume24h,
		PercentChange24h:  q.PercentChange24h,
		CirculatingSupply: q.CirculatingSupply,
		TotalSupply:       asset.TotalSupply,
		MarketCap:         q.MarketCap,
		Synthetic:         filled || corrected,
		UpdatedAt:         now,
	}
	if rec.Name == "" {
		rec.Name = asset.Symbol
	}
	if old, ok := prev[asset.Symbol]; ok {
		rec.FirstSeen = old.FirstSeen
	} else if asset.ListedAt != nil {
		rec.FirstSeen = *asset.ListedAt
	}
	rec.FDV = fullyDilutedValue(q.Price, asset.TotalSupply, asset.FDV, q.MarketCap)
	return rec
}

func (c *Collector) completeDerivative(d *domain.DerivativeSummary, rec *domain.AssetRecord, prev domain.Snapshot) {
	if d.Listed {
		if old, ok := prev[rec.Symbol]; ok && old.IsListed() && old.Derivative.ListedAt != nil {
			d.ListedAt = old.Derivative.ListedAt
		}
		if d.ListedAt == nil {
			t := c.timeNow()
			d.ListedAt = &t
		}
	}
	d.Normalize()

	spot, hasSpot := domain.Positive(rec.Price)
	if fp, ok := domain.Positive(d.Price); ok && hasSpot {
		d.Spread = domain.Float((fp - spot) / spot * 100)
	}
	if oi, ok := domain.Positive(d.OpenInterest); ok {
		if mcap, ok := domain.Positive(rec.MarketCap); ok {
			d.OIToMarketCap = domain.Float(oi / mcap)
		}
	}
}

// fullyDilutedValue is price * total supply, else the reported value, else market cap.
func fullyDilutedValue(price, totalSupply, reported, marketCap *float64) *float64 {
	if p, ok := domain.Positive(price); ok {
		if ts, ok := domain.Positive(totalSupply); ok {
			return domain.Float(p * ts)
		}
	}
	if v, ok := domain.Positive(reported); ok {
		return domain.Float(v)
	}
	if v, ok := domain.Positive(marketCap); ok {
		return domain.Float(v)
	}
	return nil
}

func notificationsFor(ch Changes, at time.Time) []domain.Notification {
	notes := make([]domain.Notification, 0, len(ch.Added)+len(ch.Listed))
	for _, rec := range ch.Listed {
		notes = append(notes, domain.Notification{
			Level:     "success",
			Title:     "Derivative listed",
			Message:   fmt.Sprintf("%s perpetual contract is now listed", rec.Symbol),
			Symbol:    rec.Symbol,
			CreatedAt: at,
		})
	}
	for _, rec := range ch.Added {
		notes = append(notes, domain.Notification{
			Level:     "info",
			Title:     "New asset",
			Message:   fmt.Sprintf("%s was added to the asset universe", rec.Symbol),
			Symbol:    rec.Symbol,
			CreatedAt: at,
		})
	}
	return notes
}

// publish emits the cycle's events. Broker and cache failures are logged only.
func (c *Collector) publish(ctx context.Context, run *domain.CollectionRun, records []domain.AssetRecord, ch Changes, notes []domain.Notification) {
	now := c.timeNow()
	send := func(channel string, ev domain.Event, err error) {
		if err == nil {
			err = c.publisher.Publish(ctx, channel, ev)
		}
		if err != nil {
			c.logger.Warn("Failed to publish event", zap.String("channel", channel), zap.Error(err))
			return
		}
		c.observer.EventsPublished(channel, 1)
	}

	ev, err := domain.NewPriceUpdateEvent(records, now)
	send(domain.ChannelPriceUpdate, ev, err)
	for _, rec := range ch.Added {
		ev, err := domain.NewCoinEvent(rec, now)
		send(domain.ChannelNewCoin, ev, err)
	}
	for _, rec := range ch.Listed {
		ev, err := domain.NewFuturesEvent(rec, now)
		send(domain.ChannelNewFutures, ev, err)
	}
	for _, n := range notes {
		ev, err := domain.NewNotificationEvent(n, now)
		send(domain.ChannelNotification, ev, err)
	}

	if err := c.publisher.InvalidateAll(ctx); err != nil {
		c.logger.Warn("Failed to invalidate cache", zap.Error(err))
	}

	ev, err = domain.NewDataSyncEvent(domain.DataSync{RunID: run.ID, RecordsProcessed: len(records)}, now)
	send(domain.ChannelDataSync, ev, err)
}

func (c *Collector) finish(ctx context.Context, run *domain.CollectionRun, processed int, cycleErr error) {
	completed := c.timeNow()
	run.CompletedAt = &completed
	run.Duration = completed.Sub(run.StartedAt)
	run.RecordsProcessed = processed
	run.Status = domain.RunSuccess

	c.totalRuns.Add(1)
	if cycleErr != nil {
		run.Status = domain.RunFailed
		run.Error = cycleErr.Error()
		c.failedRuns.Add(1)
		c.consecutive.Add(1)
		fields := []zap.Field{zap.String("run_id", run.ID), zap.Duration("duration", run.Duration), zap.Error(cycleErr)}
		if errors.Is(cycleErr, domain.ErrUniverseFetch) {
			c.logger.Error("Collection cycle failed fetching universe", fields...)
		} else {
			c.logger.Error("Collection cycle failed", fields...)
		}
	} else {
		c.consecutive.Store(0)
		c.logger.Info("Collection cycle complete",
			zap.String("run_id", run.ID),
			zap.Int("records", processed),
			zap.Duration("duration", run.Duration))
	}

	if err := c.store.CompleteRun(ctx, run); err != nil {
		c.logger.Warn("Failed to record run completion", zap.String("run_id", run.ID), zap.Error(err))
	}

	c.lastRunMu.Lock()
	r := *run
	c.lastRun = &r
	c.lastRunMu.Unlock()

	c.observer.CycleFinished(run)
}
