package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/vitos/alpha_monitor/internal/config"
	"github.com/vitos/alpha_monitor/internal/domain"
	"github.com/vitos/alpha_monitor/internal/infrastructure/exchange"
	"github.com/vitos/alpha_monitor/internal/infrastructure/logger"
	"github.com/vitos/alpha_monitor/internal/infrastructure/metrics"
	"github.com/vitos/alpha_monitor/internal/infrastructure/redisbus"
	"github.com/vitos/alpha_monitor/internal/infrastructure/storage"
	"github.com/vitos/alpha_monitor/internal/usecase"
	"go.uber.org/zap"
)

// app holds the components shared by serve and collect.
type app struct {
	log       *zap.Logger
	store     domain.Store
	redis     *redis.Client
	bus       *usecase.EventBus
	recorder  *metrics.Recorder
	collector *usecase.Collector
	reader    *usecase.AssetReader
	retention *usecase.Retention
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Logging.File != "" {
		return logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	}
	return logger.NewLogger(cfg.Logging.Level)
}

func openStore(ctx context.Context, cfg *config.Config) (domain.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return storage.NewPostgresStore(ctx, cfg.Database.Postgres)
	default:
		return storage.NewSQLiteStore(cfg.Database.SQLitePath)
	}
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{log: log, recorder: metrics.NewRecorder()}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init %s store: %w", cfg.Database.Driver, err)
	}
	a.store = store

	a.redis, err = redisbus.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.bus = usecase.NewEventBus(
		redisbus.NewTransport(a.redis, log.Named("broker")),
		redisbus.NewCache(a.redis),
		log.Named("broker"),
	)

	client := exchange.NewBinanceClient(
		exchange.WithEndpoints(cfg.Market.SpotURL, cfg.Market.FuturesURL, cfg.Market.AlphaURL),
		exchange.WithTimeout(cfg.Market.Timeout),
		exchange.WithRateLimit(cfg.Market.RequestsPerSecond, cfg.Market.Burst),
		exchange.WithExchangeInfoTTL(cfg.Market.ExchangeInfoTTL),
		exchange.WithLogger(log.Named("market")),
	)

	validator := usecase.NewValidator(cfg.Collector.MaxPrice, usecase.NewFallbackEstimator(cfg.Collector.Fallback))
	a.collector = usecase.NewCollector(client, store, a.bus,
		usecase.WithConcurrency(cfg.Collector.Concurrency),
		usecase.WithFetchTimeout(cfg.Collector.FetchTimeout),
		usecase.WithValidator(validator),
		usecase.WithObserver(a.recorder),
		usecase.WithCollectorLogger(log.Named("collector")),
	)
	a.reader = usecase.NewAssetReader(store, a.bus, cfg.Cache.AssetsTTL, cfg.Cache.StatsTTL, log.Named("reader"))
	a.retention = usecase.NewRetention(store, cfg.Collector.HistoryRetention, log.Named("retention"))
	return a, nil
}

func (a *app) Close(ctx context.Context) {
	if err := a.bus.Close(ctx); err != nil {
		a.log.Warn("Failed to close broker", zap.Error(err))
	}
	if err := a.redis.Close(); err != nil {
		a.log.Warn("Failed to close redis client", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("Failed to close store", zap.Error(err))
	}
}
