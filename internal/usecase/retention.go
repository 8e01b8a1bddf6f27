package usecase

import (
	"context"
	"time"

	"github.com/vitos/alpha_monitor/internal/domain"
	"go.uber.org/zap"
)

const DefaultHistoryRetention = 30 * 24 * time.Hour

// Retention prunes price history older than a fixed window.
type Retention struct {
	repo    domain.AssetRepository
	keep    time.Duration
	logger  *zap.Logger
	timeNow func() time.Time
}

func NewRetention(repo domain.AssetRepository, keep time.Duration, logger *zap.Logger) *Retention {
	if keep <= 0 {
		keep = DefaultHistoryRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retention{repo: repo, keep: keep, logger: logger, timeNow: time.Now}
}

func (r *Retention) Prune(ctx context.Context) (int64, error) {
	cutoff := r.timeNow().Add(-r.keep)
	n, err := r.repo.PruneHistory(ctx, cutoff)
	if err != nil {
		r.logger.Error("Failed to prune price history", zap.Error(err))
		return 0, err
	}
	r.logger.Info("Pruned price history", zap.Int64("rows", n), zap.Time("before", cutoff))
	return n, nil
}
