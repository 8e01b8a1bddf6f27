package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitos/alpha_monitor/internal/domain"
)

// fakeClient is an instrumented MarketDataClient.
type fakeClient struct {
	universe    []domain.UniverseAsset
	universeErr error
	tickers     map[string]*domain.Ticker
	derivs      map[string]*domain.DerivativeSummary
	openInt     map[string]float64
	tickerErr   map[string]error
	delay       time.Duration

	started chan struct{} // closed when ListAssetUniverse is entered
	release chan struct{} // ListAssetUniverse blocks until closed

	tickerCalls atomic.Int32

	// Every per-asset call is counted; an asset is in flight while any of
	// its calls is outstanding.
	flightMu        sync.Mutex
	callsInFlight   int
	maxCallsFlight  int
	assetCalls      map[string]int
	maxAssetsFlight int
}

func newFakeClient(assets ...domain.UniverseAsset) *fakeClient {
	return &fakeClient{
		universe:   assets,
		tickers:    make(map[string]*domain.Ticker),
		derivs:     make(map[string]*domain.DerivativeSummary),
		openInt:    make(map[string]float64),
		tickerErr:  make(map[string]error),
		assetCalls: make(map[string]int),
	}
}

func (f *fakeClient) ListAssetUniverse(ctx context.Context) ([]domain.UniverseAsset, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	return f.universe, f.universeErr
}

// enter marks a call for symbol as outstanding until the returned func runs.
func (f *fakeClient) enter(symbol string) func() {
	f.flightMu.Lock()
	f.callsInFlight++
	f.maxCallsFlight = max(f.maxCallsFlight, f.callsInFlight)
	f.assetCalls[symbol]++
	f.maxAssetsFlight = max(f.maxAssetsFlight, len(f.assetCalls))
	f.flightMu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return func() {
		f.flightMu.Lock()
		defer f.flightMu.Unlock()
		f.callsInFlight--
		if f.assetCalls[symbol]--; f.assetCalls[symbol] == 0 {
			delete(f.assetCalls, symbol)
		}
	}
}

func (f *fakeClient) peaks() (calls, assets int) {
	f.flightMu.Lock()
	defer f.flightMu.Unlock()
	return f.maxCallsFlight, f.maxAssetsFlight
}

func (f *fakeClient) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	f.tickerCalls.Add(1)
	defer f.enter(symbol)()
	if err := f.tickerErr[symbol]; err != nil {
		return nil, err
	}
	return f.tickers[symbol], nil
}

func (f *fakeClient) GetDerivativeStatus(ctx context.Context, symbol string) (*domain.DerivativeSummary, error) {
	defer f.enter(symbol)()
	return f.derivs[symbol], nil
}

func (f *fakeClient) GetOpenInterest(ctx context.Context, symbol string) (*float64, error) {
	defer f.enter(symbol)()
	v, ok := f.openInt[symbol]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// fakeStore keeps state in memory; RunInTx stages writes and applies them on success.
type fakeStore struct {
	mu       sync.Mutex
	assets   domain.Snapshot
	history  int
	notes    []domain.Notification
	runs     map[string]*domain.CollectionRun
	started  int
	loadErr  error
	writeErr error
	pruned   time.Time
}

func newFakeStore(records ...domain.AssetRecord) *fakeStore {
	s := &fakeStore{assets: make(domain.Snapshot), runs: make(map[string]*domain.CollectionRun)}
	for _, r := range records {
		s.assets[r.Symbol] = r
	}
	return s
}

func (s *fakeStore) GetAllAssets(ctx context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.assets.Clone(), nil
}

func (s *fakeStore) GetStats(ctx context.Context, now time.Time) (*domain.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &domain.Stats{TotalAssets: len(s.assets)}
	for _, a := range s.assets {
		if a.IsListed() {
			st.DerivativesListed++
		}
	}
	return st, nil
}

func (s *fakeStore) ListNotifications(ctx context.Context, limit int) ([]*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Notification
	for i := range s.notes {
		out = append(out, &s.notes[i])
	}
	return out, nil
}

type stagedWriter struct {
	store   *fakeStore
	assets  []domain.AssetRecord
	history int
	derivs  map[string]domain.DerivativeSummary
	notes   []domain.Notification
}

func (w *stagedWriter) UpsertAssets(ctx context.Context, records []domain.AssetRecord) error {
	w.assets = append(w.assets, records...)
	return nil
}

func (w *stagedWriter) AppendPriceHistory(ctx context.Context, records []domain.AssetRecord, at time.Time) error {
	w.history += len(records)
	return nil
}

func (w *stagedWriter) UpsertDerivative(ctx context.Context, symbol string, summary domain.DerivativeSummary) error {
	if w.store.writeErr != nil {
		return w.store.writeErr
	}
	w.derivs[symbol] = summary
	return nil
}

func (w *stagedWriter) SaveNotification(ctx context.Context, n *domain.Notification) error {
	w.notes = append(w.notes, *n)
	return nil
}

func (s *fakeStore) RunInTx(ctx context.Context, fn func(w domain.AssetWriter) error) error {
	w := &stagedWriter{store: s, derivs: make(map[string]domain.DerivativeSummary)}
	if err := fn(w); err != nil {
		return err
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range w.assets {
		s.assets[a.Symbol] = a
	}
	for sym, d := range w.derivs {
		a := s.assets[sym]
		d := d
		a.Derivative = &d
		s.assets[sym] = a
	}
	s.history += w.history
	s.notes = append(s.notes, w.notes...)
	return nil
}

func (s *fakeStore) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruned = before
	n := int64(s.history)
	s.history = 0
	return n, nil
}

func (s *fakeStore) StartRun(ctx context.Context, run *domain.CollectionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	r := *run
	s.runs[run.ID] = &r
	return nil
}

func (s *fakeStore) CompleteRun(ctx context.Context, run *domain.CollectionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return domain.ErrNotFound
	}
	r := *run
	s.runs[run.ID] = &r
	return nil
}

func (s *fakeStore) ListRuns(ctx context.Context, limit int) ([]*domain.CollectionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.CollectionRun
	for _, r := range s.runs {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) Close() error { return nil }

type published struct {
	channel string
	event   domain.Event
}

// fakePublisher records everything the collector emits.
type fakePublisher struct {
	mu            sync.Mutex
	events        []published
	invalidations int
	publishErr    error
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.publishErr != nil {
		return p.publishErr
	}
	p.events = append(p.events, published{channel: channel, event: event})
	return nil
}

func (p *fakePublisher) InvalidateAll(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidations++
	if p.publishErr != nil {
		return p.publishErr
	}
	return nil
}

func (p *fakePublisher) on(channel string) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, e := range p.events {
		if e.channel == channel {
			out = append(out, e.event)
		}
	}
	return out
}

// fakeTransport delivers synchronously on a goroutine per publish.
type fakeTransport struct {
	mu           sync.Mutex
	subs         map[string]func([]byte)
	subCalls     map[string]int
	unsubCalls   map[string]int
	published    map[string][][]byte
	closed       bool
	wg           sync.WaitGroup
	subscribeErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		subs:       make(map[string]func([]byte)),
		subCalls:   make(map[string]int),
		unsubCalls: make(map[string]int),
		published:  make(map[string][][]byte),
	}
}

func (t *fakeTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	t.mu.Lock()
	t.published[channel] = append(t.published[channel], payload)
	deliver := t.subs[channel]
	t.mu.Unlock()
	if deliver != nil {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			deliver(payload)
		}()
	}
	return nil
}

func (t *fakeTransport) Subscribe(ctx context.Context, channel string, deliver func([]byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subscribeErr != nil {
		return t.subscribeErr
	}
	t.subCalls[channel]++
	t.subs[channel] = deliver
	return nil
}

func (t *fakeTransport) Unsubscribe(ctx context.Context, channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unsubCalls[channel]++
	delete(t.subs, channel)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// fakeCache is a map cache with explicit expiry.
type fakeCache struct {
	mu     sync.Mutex
	values map[string][]byte
	ttls   map[string]time.Duration
	getErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	c.ttls[key] = ttl
	return nil
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *fakeCache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[string][]byte)
	return nil
}

var errBoom = errors.New("boom")
