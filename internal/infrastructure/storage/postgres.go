package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vitos/alpha_monitor/internal/config"
	"github.com/vitos/alpha_monitor/internal/domain"
)

// PostgresStore is the production Store backed by a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// BuildConnString builds a postgres URL from cfg, escaping the password.
func BuildConnString(cfg config.PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}

func NewPostgresStore(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	return openPostgres(ctx, poolCfg)
}

// openPostgres connects, pings and migrates the schema.
func openPostgres(ctx context.Context, poolCfg *pgxpool.Config) (*PostgresStore, error) {
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS assets (
			symbol TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			first_seen TIMESTAMPTZ NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			price DOUBLE PRECISION,
			volume_24h DOUBLE PRECISION,
			percent_change_24h DOUBLE PRECISION,
			circulating_supply DOUBLE PRECISION,
			total_supply DOUBLE PRECISION,
			fdv DOUBLE PRECISION,
			market_cap DOUBLE PRECISION,
			synthetic BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS derivatives (
			symbol TEXT PRIMARY KEY REFERENCES assets(symbol) ON DELETE CASCADE,
			listed BOOLEAN NOT NULL,
			listed_at TIMESTAMPTZ,
			price DOUBLE PRECISION,
			open_interest DOUBLE PRECISION,
			volume_24h DOUBLE PRECISION,
			spread DOUBLE PRECISION,
			oi_to_market_cap DOUBLE PRECISION,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS price_history (
			id BIGSERIAL PRIMARY KEY,
			symbol TEXT NOT NULL,
			price DOUBLE PRECISION,
			volume_24h DOUBLE PRECISION,
			market_cap DOUBLE PRECISION,
			recorded_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_history_symbol_time ON price_history(symbol, recorded_at)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id BIGSERIAL PRIMARY KEY,
			level TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			symbol TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS collection_runs (
			id TEXT PRIMARY KEY,
			task_type TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			records_processed INTEGER NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetAllAssets(ctx context.Context) (domain.Snapshot, error) {
	rows, err := s.pool.Query(ctx, selectAssets)
	if err != nil {
		return nil, err
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[assetRow])
	if err != nil {
		return nil, err
	}
	return rowsToSnapshot(records), nil
}

func (s *PostgresStore) GetStats(ctx context.Context, now time.Time) (*domain.Stats, error) {
	snap, err := s.GetAllAssets(ctx)
	if err != nil {
		return nil, err
	}
	return domain.ComputeStats(snap, now), nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, limit int) ([]*domain.Notification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, level, title, message, COALESCE(symbol, '') AS symbol, created_at FROM notifications ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	nrows, err := pgx.CollectRows(rows, pgx.RowToStructByName[notificationRow])
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Notification, 0, len(nrows))
	for _, r := range nrows {
		n := domain.Notification(r)
		out = append(out, &n)
	}
	return out, nil
}

func (s *PostgresStore) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM price_history WHERE recorded_at < $1`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(w domain.AssetWriter) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(&pgWriter{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	return tx.Commit(ctx)
}

type pgWriter struct {
	tx pgx.Tx
}

// sendBatch runs every queued statement and fails on the first error.
func (w *pgWriter) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	results := w.tx.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return results.Close()
}

func (w *pgWriter) UpsertAssets(ctx context.Context, records []domain.AssetRecord) error {
	batch := &pgx.Batch{}
	for _, rec := range records {
		r := toAssetRow(rec)
		batch.Queue(`
			INSERT INTO assets (symbol, name, first_seen, active, price, volume_24h, percent_change_24h,
				circulating_supply, total_supply, fdv, market_cap, synthetic, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (symbol) DO UPDATE SET
				name = EXCLUDED.name,
				active = EXCLUDED.active,
				price = EXCLUDED.price,
				volume_24h = EXCLUDED.volume_24h,
				percent_change_24h = EXCLUDED.percent_change_24h,
				circulating_supply = EXCLUDED.circulating_supply,
				total_supply = EXCLUDED.total_supply,
				fdv = EXCLUDED.fdv,
				market_cap = EXCLUDED.market_cap,
				synthetic = EXCLUDED.synthetic,
				updated_at = EXCLUDED.updated_at
		`, r.Symbol, r.Name, r.FirstSeen, r.Active, r.Price, r.Volume24h, r.PercentChange24h,
			r.CirculatingSupply, r.TotalSupply, r.FDV, r.MarketCap, r.Synthetic, r.UpdatedAt)
	}
	return w.sendBatch(ctx, batch)
}

func (w *pgWriter) AppendPriceHistory(ctx context.Context, records []domain.AssetRecord, at time.Time) error {
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`INSERT INTO price_history (symbol, price, volume_24h, market_cap, recorded_at) VALUES ($1, $2, $3, $4, $5)`,
			r.Symbol, r.Price, r.Volume24h, r.MarketCap, at.UnixMilli())
	}
	return w.sendBatch(ctx, batch)
}

func (w *pgWriter) UpsertDerivative(ctx context.Context, symbol string, d domain.DerivativeSummary) error {
	d.Normalize()
	_, err := w.tx.Exec(ctx, `
		INSERT INTO derivatives (symbol, listed, listed_at, price, open_interest, volume_24h, spread, oi_to_market_cap, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol) DO UPDATE SET
			listed = EXCLUDED.listed,
			listed_at = EXCLUDED.listed_at,
			price = EXCLUDED.price,
			open_interest = EXCLUDED.open_interest,
			volume_24h = EXCLUDED.volume_24h,
			spread = EXCLUDED.spread,
			oi_to_market_cap = EXCLUDED.oi_to_market_cap,
			updated_at = EXCLUDED.updated_at
	`, symbol, d.Listed, d.ListedAt, d.Price, d.OpenInterest, d.Volume24h, d.Spread, d.OIToMarketCap, time.Now().UTC())
	return err
}

func (w *pgWriter) SaveNotification(ctx context.Context, n *domain.Notification) error {
	return w.tx.QueryRow(ctx,
		`INSERT INTO notifications (level, title, message, symbol, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		n.Level, n.Title, n.Message, n.Symbol, n.CreatedAt).Scan(&n.ID)
}

func (s *PostgresStore) StartRun(ctx context.Context, run *domain.CollectionRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO collection_runs (id, task_type, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.TaskType, string(run.Status), run.StartedAt)
	return err
}

func (s *PostgresStore) CompleteRun(ctx context.Context, run *domain.CollectionRun) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE collection_runs SET status = $1, completed_at = $2, records_processed = $3, duration_ms = $4, error = $5 WHERE id = $6`,
		string(run.Status), run.CompletedAt, run.RecordsProcessed, run.Duration.Milliseconds(), run.Error, run.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]*domain.CollectionRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_type, status, started_at, completed_at, records_processed, duration_ms, error
		 FROM collection_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	runs, err := pgx.CollectRows(rows, pgx.RowToStructByName[runRow])
	if err != nil {
		return nil, err
	}
	out := make([]*domain.CollectionRun, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.toDomain())
	}
	return out, nil
}

var _ domain.Store = (*PostgresStore)(nil)
