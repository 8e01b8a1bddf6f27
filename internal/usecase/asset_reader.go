package usecase

import (
	"context"
	"time"

	"github.com/vitos/alpha_monitor/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultAssetsTTL = 60 * time.Second
	DefaultStatsTTL  = 300 * time.Second
)

// CacheStore is the cache side of the event bus.
type CacheStore interface {
	CacheSet(ctx context.Context, key string, value any, ttl time.Duration) error
	CacheGet(ctx context.Context, key string, dst any) (bool, error)
}

// AssetReader serves the asset list and statistics through the cache.
// Cache failures fall through to the repository.
type AssetReader struct {
	repo      domain.AssetRepository
	cache     CacheStore
	assetsTTL time.Duration
	statsTTL  time.Duration
	logger    *zap.Logger
	timeNow   func() time.Time
}

func NewAssetReader(repo domain.AssetRepository, cache CacheStore, assetsTTL, statsTTL time.Duration, logger *zap.Logger) *AssetReader {
	if assetsTTL <= 0 {
		assetsTTL = DefaultAssetsTTL
	}
	if statsTTL <= 0 {
		statsTTL = DefaultStatsTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssetReader{
		repo:      repo,
		cache:     cache,
		assetsTTL: assetsTTL,
		statsTTL:  statsTTL,
		logger:    logger,
		timeNow:   time.Now,
	}
}

// Assets returns every tracked asset ordered by symbol.
func (r *AssetReader) Assets(ctx context.Context) ([]domain.AssetRecord, error) {
	var cached []domain.AssetRecord
	if r.lookup(ctx, CacheKeyAssets, &cached) {
		return cached, nil
	}

	snap, err := r.repo.GetAllAssets(ctx)
	if err != nil {
		return nil, err
	}
	records := snap.Records()
	r.store(ctx, CacheKeyAssets, records, r.assetsTTL)
	return records, nil
}

func (r *AssetReader) Stats(ctx context.Context) (*domain.Stats, error) {
	var cached domain.Stats
	if r.lookup(ctx, CacheKeyStats, &cached) {
		return &cached, nil
	}

	stats, err := r.repo.GetStats(ctx, r.timeNow())
	if err != nil {
		return nil, err
	}
	r.store(ctx, CacheKeyStats, stats, r.statsTTL)
	return stats, nil
}

func (r *AssetReader) lookup(ctx context.Context, key string, dst any) bool {
	if r.cache == nil {
		return false
	}
	found, err := r.cache.CacheGet(ctx, key, dst)
	if err != nil {
		r.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return found
}

func (r *AssetReader) store(ctx context.Context, key string, value any, ttl time.Duration) {
	if r.cache == nil {
		return
	}
	if err := r.cache.CacheSet(ctx, key, value, ttl); err != nil {
		r.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}
