package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Market    MarketConfig    `yaml:"market"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Collector CollectorConfig `yaml:"collector"`
	Cache     CacheConfig     `yaml:"cache"`
	Fanout    FanoutConfig    `yaml:"fanout"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"` // Optional; logs also go to this file
}

type MarketConfig struct {
	SpotURL           string        `yaml:"spot_url"`
	FuturesURL        string        `yaml:"futures_url"`
	AlphaURL          string        `yaml:"alpha_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	ExchangeInfoTTL   time.Duration `yaml:"exchange_info_ttl"`
}

type DatabaseConfig struct {
	Driver     string         `yaml:"driver"` // sqlite or postgres
	SQLitePath string         `yaml:"sqlite_path"`
	Postgres   PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MinConns int    `yaml:"min_conns"`
	MaxConns int    `yaml:"max_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type CollectorConfig struct {
	Schedule         string        `yaml:"schedule"`
	Concurrency      int           `yaml:"concurrency"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	MaxPrice         float64       `yaml:"max_price"`
	Fallback         string        `yaml:"fallback"` // synthetic or none
	HistoryRetention time.Duration `yaml:"history_retention"`
	CleanupSchedule  string        `yaml:"cleanup_schedule"`
	RunOnStart       *bool         `yaml:"run_on_start"`
}

type CacheConfig struct {
	AssetsTTL time.Duration `yaml:"assets_ttl"`
	StatsTTL  time.Duration `yaml:"stats_ttl"`
}

type FanoutConfig struct {
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	SendBuffer        int           `yaml:"send_buffer"`
}

// LoadEnv reads a .env file into the process environment if it exists.
func LoadEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

// Load reads a YAML file, expanding ${VAR} references from the environment,
// and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadAndValidate loads path and validates the result.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
