package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerPort        = 3001
	DefaultLogLevel          = "info"
	DefaultMarketTimeout     = 10 * time.Second
	DefaultRequestsPerSecond = 20
	DefaultBurst             = 40
	DefaultExchangeInfoTTL   = 5 * time.Minute
	DefaultDriver            = "sqlite"
	DefaultSQLitePath        = "alpha_monitor.db"
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultRedisAddr         = "localhost:6379"
	DefaultSchedule          = "@every 1m"
	DefaultConcurrency       = 10
	DefaultFetchTimeout      = 10 * time.Second
	DefaultMaxPrice          = 10000
	DefaultFallback          = "synthetic"
	DefaultHistoryRetention  = 30 * 24 * time.Hour
	DefaultCleanupSchedule   = "@daily"
	DefaultAssetsTTL         = 60 * time.Second
	DefaultStatsTTL          = 300 * time.Second
	DefaultSnapshotInterval  = 60 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultSendBuffer        = 64
)

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}

	// Market defaults
	if c.Market.Timeout == 0 {
		c.Market.Timeout = DefaultMarketTimeout
	}
	if c.Market.RequestsPerSecond == 0 {
		c.Market.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.Market.Burst == 0 {
		c.Market.Burst = DefaultBurst
	}
	if c.Market.ExchangeInfoTTL == 0 {
		c.Market.ExchangeInfoTTL = DefaultExchangeInfoTTL
	}

	// Database defaults
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = DefaultSQLitePath
	}
	pg := &c.Database.Postgres
	if pg.Port == 0 {
		pg.Port = DefaultDBPort
	}
	if pg.SSLMode == "" {
		pg.SSLMode = DefaultDBSSLMode
	}
	if pg.MaxConns == 0 {
		pg.MaxConns = DefaultMaxConns
	}
	if pg.MinConns == 0 {
		pg.MinConns = DefaultMinConns
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}

	// Collector defaults
	if c.Collector.Schedule == "" {
		c.Collector.Schedule = DefaultSchedule
	}
	if c.Collector.Concurrency == 0 {
		c.Collector.Concurrency = DefaultConcurrency
	}
	if c.Collector.FetchTimeout == 0 {
		c.Collector.FetchTimeout = DefaultFetchTimeout
	}
	if c.Collector.MaxPrice == 0 {
		c.Collector.MaxPrice = DefaultMaxPrice
	}
	if c.Collector.Fallback == "" {
		c.Collector.Fallback = DefaultFallback
	}
	if c.Collector.HistoryRetention == 0 {
		c.Collector.HistoryRetention = DefaultHistoryRetention
	}
	if c.Collector.CleanupSchedule == "" {
		c.Collector.CleanupSchedule = DefaultCleanupSchedule
	}
	if c.Collector.RunOnStart == nil {
		runOnStart := true
		c.Collector.RunOnStart = &runOnStart
	}

	if c.Cache.AssetsTTL == 0 {
		c.Cache.AssetsTTL = DefaultAssetsTTL
	}
	if c.Cache.StatsTTL == 0 {
		c.Cache.StatsTTL = DefaultStatsTTL
	}

	// Fanout defaults
	if c.Fanout.SnapshotInterval == 0 {
		c.Fanout.SnapshotInterval = DefaultSnapshotInterval
	}
	if c.Fanout.HeartbeatInterval == 0 {
		c.Fanout.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Fanout.WriteTimeout == 0 {
		c.Fanout.WriteTimeout = DefaultWriteTimeout
	}
	if c.Fanout.SendBuffer == 0 {
		c.Fanout.SendBuffer = DefaultSendBuffer
	}
}
