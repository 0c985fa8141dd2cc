// Package config loads the daemon configuration from an optional YAML file
// with environment variable overrides applied on top.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/teleregnet/syncbridge/conflict"
	"github.com/teleregnet/syncbridge/logging"
)

// Config is the full daemon configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Sync     SyncConfig     `yaml:"sync"`
	Logging  logging.Config `yaml:"logging"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr" env:"SERVER_LISTEN_ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig holds the SQLite settings.
type DatabaseConfig struct {
	Path      string `yaml:"path" env:"DB_PATH"`
	EnableWAL bool   `yaml:"enable_wal" env:"DB_ENABLE_WAL"`
}

// SyncConfig holds the synchronization engine settings.
type SyncConfig struct {
	SourceURL       string        `yaml:"source_url" env:"SYNC_SOURCE_URL"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout" env:"SYNC_FETCH_TIMEOUT"`
	BatchSize       int           `yaml:"batch_size" env:"SYNC_BATCH_SIZE"`
	DefaultStrategy string        `yaml:"default_strategy" env:"SYNC_DEFAULT_STRATEGY"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "syncbridge.db",
			EnableWAL: true,
		},
		Sync: SyncConfig{
			FetchTimeout:    30 * time.Second,
			BatchSize:       50,
			DefaultStrategy: string(conflict.StrategyNewestWins),
		},
		Logging: logging.Config{
			Level:       "info",
			Format:      "text",
			Environment: "development",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment variables on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must not be empty")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Sync.FetchTimeout <= 0 {
		return fmt.Errorf("sync.fetch_timeout must be positive, got %s", c.Sync.FetchTimeout)
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if !conflict.Strategy(c.Sync.DefaultStrategy).Valid() {
		return fmt.Errorf("sync.default_strategy %q is not a known strategy", c.Sync.DefaultStrategy)
	}
	return nil
}
