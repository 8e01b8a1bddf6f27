package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/alpha_monitor/internal/domain"
)

type SQLiteStore struct {
	db *sqlx.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Foreign keys and a busy timeout so the collector and readers can share the file.
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// NewSQLiteStoreFromDB wraps an existing handle without touching the schema.
func NewSQLiteStoreFromDB(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS assets (
			symbol TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			first_seen DATETIME NOT NULL,
			active BOOLEAN NOT NULL DEFAULT 1,
			price REAL,
			volume_24h REAL,
			percent_change_24h REAL,
			circulating_supply REAL,
			total_supply REAL,
			fdv REAL,
			market_cap REAL,
			synthetic BOOLEAN NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS derivatives (
			symbol TEXT PRIMARY KEY REFERENCES assets(symbol) ON DELETE CASCADE,
			listed BOOLEAN NOT NULL,
			listed_at DATETIME,
			price REAL,
			open_interest REAL,
			volume_24h REAL,
			spread REAL,
			oi_to_market_cap REAL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS price_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			price REAL,
			volume_24h REAL,
			market_cap REAL,
			recorded_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_price_history_symbol_time ON price_history(symbol, recorded_at);`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			level TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			symbol TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS collection_runs (
			id TEXT PRIMARY KEY,
			task_type TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			records_processed INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// AssetRepository Implementation

const selectAssets = `SELECT a.symbol, a.name, a.first_seen, a.active, a.price, a.volume_24h, a.percent_change_24h,
	a.circulating_supply, a.total_supply, a.fdv, a.market_cap, a.synthetic, a.updated_at,
	d.listed AS d_listed, d.listed_at AS d_listed_at, d.price AS d_price, d.open_interest AS d_open_interest,
	d.volume_24h AS d_volume_24h, d.spread AS d_spread, d.oi_to_market_cap AS d_oi_to_market_cap
	FROM assets a LEFT JOIN derivatives d ON d.symbol = a.symbol`

func (s *SQLiteStore) GetAllAssets(ctx context.Context) (domain.Snapshot, error) {
	var rows []assetRow
	if err := s.db.SelectContext(ctx, &rows, selectAssets); err != nil {
		return nil, err
	}
	return rowsToSnapshot(rows), nil
}

func (s *SQLiteStore) GetStats(ctx context.Context, now time.Time) (*domain.Stats, error) {
	snap, err := s.GetAllAssets(ctx)
	if err != nil {
		return nil, err
	}
	return domain.ComputeStats(snap, now), nil
}

func (s *SQLiteStore) ListNotifications(ctx context.Context, limit int) ([]*domain.Notification, error) {
	var rows []notificationRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, level, title, message, COALESCE(symbol, '') AS symbol, created_at FROM notifications ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Notification, 0, len(rows))
	for _, r := range rows {
		n := domain.Notification(r)
		out = append(out, &n)
	}
	return out, nil
}

func (s *SQLiteStore) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM price_history WHERE recorded_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) RunInTx(ctx context.Context, fn func(w domain.AssetWriter) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&sqliteWriter{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	return tx.Commit()
}

type sqliteWriter struct {
	tx *sqlx.Tx
}

const upsertAsset = `INSERT INTO assets (symbol, name, first_seen, active, price, volume_24h, percent_change_24h,
		circulating_supply, total_supply, fdv, market_cap, synthetic, updated_at)
	VALUES (:symbol, :name, :first_seen, :active, :price, :volume_24h, :percent_change_24h,
		:circulating_supply, :total_supply, :fdv, :market_cap, :synthetic, :updated_at)
	ON CONFLICT(symbol) DO UPDATE SET
		name=excluded.name,
		active=excluded.active,
		price=excluded.price,
		volume_24h=excluded.volume_24h,
		percent_change_24h=excluded.percent_change_24h,
		circulating_supply=excluded.circulating_supply,
		total_supply=excluded.total_supply,
		fdv=excluded.fdv,
		market_cap=excluded.market_cap,
		synthetic=excluded.synthetic,
		updated_at=excluded.updated_at`

func (w *sqliteWriter) UpsertAssets(ctx context.Context, records []domain.AssetRecord) error {
	stmt, err := w.tx.PrepareNamedContext(ctx, upsertAsset)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, toAssetRow(r)); err != nil {
			return fmt.Errorf("upsert %s: %w", r.Symbol, err)
		}
	}
	return nil
}

func (w *sqliteWriter) AppendPriceHistory(ctx context.Context, records []domain.AssetRecord, at time.Time) error {
	stmt, err := w.tx.PreparexContext(ctx,
		`INSERT INTO price_history (symbol, price, volume_24h, market_cap, recorded_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Symbol, r.Price, r.Volume24h, r.MarketCap, at.UnixMilli()); err != nil {
			return fmt.Errorf("history %s: %w", r.Symbol, err)
		}
	}
	return nil
}

func (w *sqliteWriter) UpsertDerivative(ctx context.Context, symbol string, d domain.DerivativeSummary) error {
	d.Normalize()
	query := `INSERT INTO derivatives (symbol, listed, listed_at, price, open_interest, volume_24h, spread, oi_to_market_cap, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(symbol) DO UPDATE SET
			  listed=excluded.listed,
			  listed_at=excluded.listed_at,
			  price=excluded.price,
			  open_interest=excluded.open_interest,
			  volume_24h=excluded.volume_24h,
			  spread=excluded.spread,
			  oi_to_market_cap=excluded.oi_to_market_cap,
			  updated_at=excluded.updated_at`
	_, err := w.tx.ExecContext(ctx, query,
		symbol, d.Listed, utcPtr(d.ListedAt), d.Price, d.OpenInterest, d.Volume24h, d.Spread, d.OIToMarketCap, time.Now().UTC())
	return err
}

func (w *sqliteWriter) SaveNotification(ctx context.Context, n *domain.Notification) error {
	res, err := w.tx.ExecContext(ctx,
		`INSERT INTO notifications (level, title, message, symbol, created_at) VALUES (?, ?, ?, ?, ?)`,
		n.Level, n.Title, n.Message, n.Symbol, n.CreatedAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err == nil {
		n.ID = id
	}
	return nil
}

// RunRepository Implementation

func (s *SQLiteStore) StartRun(ctx context.Context, run *domain.CollectionRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collection_runs (id, task_type, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.TaskType, string(run.Status), run.StartedAt.UTC())
	return err
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, run *domain.CollectionRun) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE collection_runs SET status = ?, completed_at = ?, records_processed = ?, duration_ms = ?, error = ? WHERE id = ?`,
		string(run.Status), utcPtr(run.CompletedAt), run.RecordsProcessed, run.Duration.Milliseconds(), run.Error, run.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*domain.CollectionRun, error) {
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, task_type, status, started_at, completed_at, records_processed, duration_ms, error
		 FROM collection_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.CollectionRun, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

type runRow struct {
	ID               string     `db:"id"`
	TaskType         string     `db:"task_type"`
	Status           string     `db:"status"`
	StartedAt        time.Time  `db:"started_at"`
	CompletedAt      *time.Time `db:"completed_at"`
	RecordsProcessed int        `db:"records_processed"`
	DurationMs       int64      `db:"duration_ms"`
	Error            string     `db:"error"`
}

func (r runRow) toDomain() *domain.CollectionRun {
	return &domain.CollectionRun{
		ID:               r.ID,
		TaskType:         r.TaskType,
		Status:           domain.RunStatus(r.Status),
		StartedAt:        r.StartedAt,
		CompletedAt:      r.CompletedAt,
		RecordsProcessed: r.RecordsProcessed,
		Duration:         time.Duration(r.DurationMs) * time.Millisecond,
		Error:            r.Error,
	}
}

var _ domain.Store = (*SQLiteStore)(nil)
