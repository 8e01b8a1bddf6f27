package config

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return errors.New("database.sqlite_path is required")
		}
	case "postgres":
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}

	if c.Collector.Concurrency < 1 {
		return errors.New("collector.concurrency must be >= 1")
	}
	if c.Collector.MaxPrice <= 0 {
		return errors.New("collector.max_price must be > 0")
	}
	if c.Collector.Fallback != "synthetic" && c.Collector.Fallback != "none" {
		return fmt.Errorf("collector.fallback must be synthetic or none, got %q", c.Collector.Fallback)
	}
	if _, err := cron.ParseStandard(c.Collector.Schedule); err != nil {
		return fmt.Errorf("collector.schedule: %w", err)
	}
	if _, err := cron.ParseStandard(c.Collector.CleanupSchedule); err != nil {
		return fmt.Errorf("collector.cleanup_schedule: %w", err)
	}

	if c.Market.RequestsPerSecond < 0 {
		return errors.New("market.requests_per_second must be >= 0")
	}

	if c.Fanout.SendBuffer < 1 {
		return errors.New("fanout.send_buffer must be >= 1")
	}
	if c.Fanout.SnapshotInterval < 0 || c.Fanout.HeartbeatInterval < 0 {
		return errors.New("fanout intervals must be positive")
	}

	return nil
}

func (db *PostgresConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
