package domain

import (
	"context"
	"time"
)

// MarketDataClient wraps the upstream market data source.
// Expected no-data conditions return a nil result and a nil error;
// an error means an unexpected transport failure.
type MarketDataClient interface {
	ListAssetUniverse(ctx context.Context) ([]UniverseAsset, error)
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetDerivativeStatus(ctx context.Context, symbol string) (*DerivativeSummary, error)
	// GetOpenInterest returns the raw contract count.
	GetOpenInterest(ctx context.Context, symbol string) (*float64, error)
}

// AssetWriter is the write side available inside a persistence transaction.
type AssetWriter interface {
	UpsertAssets(ctx context.Context, records []AssetRecord) error
	AppendPriceHistory(ctx context.Context, records []AssetRecord, at time.Time) error
	UpsertDerivative(ctx context.Context, symbol string, summary DerivativeSummary) error
	SaveNotification(ctx context.Context, n *Notification) error
}

// AssetRepository defines storage operations for asset state.
type AssetRepository interface {
	GetAllAssets(ctx context.Context) (Snapshot, error)
	GetStats(ctx context.Context, now time.Time) (*Stats, error)
	ListNotifications(ctx context.Context, limit int) ([]*Notification, error)
	// RunInTx commits everything fn writes, or nothing if fn or the commit fails.
	RunInTx(ctx context.Context, fn func(w AssetWriter) error) error
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
}

// RunRepository stores collection run records.
type RunRepository interface {
	StartRun(ctx context.Context, run *CollectionRun) error
	CompleteRun(ctx context.Context, run *CollectionRun) error
	ListRuns(ctx context.Context, limit int) ([]*CollectionRun, error)
}

type Store interface {
	AssetRepository
	RunRepository
	Close() error
}

// Transport is the messaging fabric under the broker.
// Subscribe must deliver payloads asynchronously from the publisher.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, deliver func(payload []byte)) error
	Unsubscribe(ctx context.Context, channel string) error
	Close() error
}

// Cache is a TTL key/value cache. Get reports a miss with found=false.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	InvalidateAll(ctx context.Context) error
}
