package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/alpha_monitor/internal/config"
	"github.com/vitos/alpha_monitor/internal/domain"
)

// newPostgresTestStore opens a store in a throwaway schema of the database
// named by TEST_POSTGRES_DSN.
func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}
	ctx := context.Background()

	admin, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	schema := fmt.Sprintf("alpha_test_%d", time.Now().UnixNano())
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	poolCfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	poolCfg.ConnConfig.RuntimeParams["search_path"] = schema

	store, err := openPostgres(ctx, poolCfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewPostgresStore_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewPostgresStore(ctx, config.PostgresConfig{
		Host: "127.0.0.1", Port: 1, Name: "alpha", User: "monitor", SSLMode: "disable",
	})
	assert.ErrorContains(t, err, "ping database")
}

func TestPostgresStore_AssetRoundTrip(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	listedAt := now.Add(-time.Hour)

	records := []domain.AssetRecord{
		{
			Symbol: "XYZ", Name: "Xyz", FirstSeen: now, Active: true,
			Price: domain.Float(2), MarketCap: domain.Float(2000), CirculatingSupply: domain.Float(1000),
			Derivative: &domain.DerivativeSummary{Listed: true, ListedAt: &listedAt, Price: domain.Float(2.1), OpenInterest: domain.Float(500)},
			UpdatedAt:  now,
		},
		{Symbol: "ABC", Name: "Abc", FirstSeen: now.Add(-10 * 24 * time.Hour), Active: true, Synthetic: true, UpdatedAt: now},
	}

	require.NoError(t, store.RunInTx(ctx, func(w domain.AssetWriter) error {
		if err := w.UpsertAssets(ctx, records); err != nil {
			return err
		}
		if err := w.AppendPriceHistory(ctx, records, now); err != nil {
			return err
		}
		if err := w.UpsertDerivative(ctx, "XYZ", *records[0].Derivative); err != nil {
			return err
		}
		n := &domain.Notification{Level: "info", Title: "New asset", Message: "XYZ added", Symbol: "XYZ", CreatedAt: now}
		if err := w.SaveNotification(ctx, n); err != nil {
			return err
		}
		assert.NotZero(t, n.ID)
		return nil
	}))

	snap, err := store.GetAllAssets(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)

	xyz := snap["XYZ"]
	assert.InDelta(t, 2, *xyz.Price, 1e-9)
	assert.Nil(t, xyz.Volume24h)
	require.True(t, xyz.IsListed())
	assert.True(t, listedAt.Equal(*xyz.Derivative.ListedAt))
	assert.InDelta(t, 500, *xyz.Derivative.OpenInterest, 1e-9)
	assert.Nil(t, snap["ABC"].Derivative)
	assert.True(t, snap["ABC"].Synthetic)

	stats, err := store.GetStats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalAssets)
	assert.Equal(t, 1, stats.DerivativesListed)

	notes, err := store.ListNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "XYZ", notes[0].Symbol)

	n, err := store.PruneHistory(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestPostgresStore_RunInTx_RollsBackOnError(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(w domain.AssetWriter) error {
		if err := w.UpsertAssets(ctx, []domain.AssetRecord{{Symbol: "AAA", Name: "A", Active: true, FirstSeen: time.Now(), UpdatedAt: time.Now()}}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	snap, err := store.GetAllAssets(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestPostgresStore_Runs(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	run := &domain.CollectionRun{ID: "run-1", TaskType: domain.TaskFullCollection, Status: domain.RunRunning, StartedAt: start}
	require.NoError(t, store.StartRun(ctx, run))

	done := start.Add(3 * time.Second)
	run.Status = domain.RunSuccess
	run.CompletedAt = &done
	run.Duration = 3 * time.Second
	run.RecordsProcessed = 2
	require.NoError(t, store.CompleteRun(ctx, run))

	runs, err := store.ListRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunSuccess, runs[0].Status)
	assert.Equal(t, 2, runs[0].RecordsProcessed)
	assert.Equal(t, 3*time.Second, runs[0].Duration)

	assert.ErrorIs(t, store.CompleteRun(ctx, &domain.CollectionRun{ID: "nope"}), domain.ErrNotFound)
}
