// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

// Package config defines Sensoria's configuration structure and loading.
// Configuration is layered: built-in defaults, then an optional YAML file,
// then SENSORIA_-prefixed environment variables.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the service.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Cache    CacheConfig    `koanf:"cache"`
	Jobs     JobsConfig     `koanf:"jobs"`
	NATS     NATSConfig     `koanf:"nats"`
	Export   ExportConfig   `koanf:"export"`
	API      APIConfig      `koanf:"api"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
	CORSOrigins []string      `koanf:"cors_origins"`
}

// DatabaseConfig holds DuckDB settings. A single analytical database file
// carries both the metadata tables and the per-feature observation tables.
type DatabaseConfig struct {
	Path                   string `koanf:"path"`
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads"`
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`
	SeedMockData           bool   `koanf:"seed_mock_data"`
}

// CacheConfig holds response cache settings. MetadataTTL matches the
// original deployment's ten-minute metadata cache; DownloadTTL is longer
// because datadump responses are expensive to recompute.
type CacheConfig struct {
	Enabled     bool          `koanf:"enabled"`
	MetadataTTL time.Duration `koanf:"metadata_ttl"`
	DownloadTTL time.Duration `koanf:"download_ttl"`
	SchemaTTL   time.Duration `koanf:"schema_ttl"`
}

// JobsConfig holds the badger-backed job ticket store settings.
type JobsConfig struct {
	Dir string `koanf:"dir"`

	// CleanupTTL bounds how long a finished job's status survives.
	CleanupTTL time.Duration `koanf:"cleanup_ttl"`

	// SuppressTTL is the lifetime of the cleanup-suppression flag refreshed
	// on every chunk write of an in-flight export.
	SuppressTTL time.Duration `koanf:"suppress_ttl"`
}

// NATSConfig holds the export job queue settings. The server is embedded
// in-process by default so a standalone deployment needs no broker.
type NATSConfig struct {
	Enabled        bool          `koanf:"enabled"`
	URL            string        `koanf:"url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	MaxMemory      int64         `koanf:"max_memory"`
	MaxStore       int64         `koanf:"max_store"`
	ExportStream   string        `koanf:"export_stream"`
	ExportTopic    string        `koanf:"export_topic"`
	DurableName    string        `koanf:"durable_name"`
	QueueGroup     string        `koanf:"queue_group"`
	Workers        int           `koanf:"workers"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
}

// ExportConfig holds chunked export pipeline settings.
type ExportConfig struct {
	// ChunkSize is the number of formatted observations per persisted part.
	ChunkSize int `koanf:"chunk_size"`

	// RatePerSecond throttles chunk writes against the analytical store.
	// 0 disables throttling.
	RatePerSecond float64 `koanf:"rate_per_second"`

	// BreakerMaxFailures trips the persistence circuit breaker.
	BreakerMaxFailures uint32 `koanf:"breaker_max_failures"`

	// BreakerTimeout is how long the breaker stays open before half-open.
	BreakerTimeout time.Duration `koanf:"breaker_timeout"`
}

// APIConfig holds request argument defaults and bounds.
type APIConfig struct {
	// DefaultLimit is applied to raw observation queries when the client
	// does not request a limit explicitly at the HTTP layer.
	DefaultLimit int `koanf:"default_limit"`
	MaxLimit     int `koanf:"max_limit"`

	// DefaultQueryWindow is the lookback for observation queries when no
	// start_datetime is supplied.
	DefaultQueryWindow time.Duration `koanf:"default_query_window"`

	// DefaultAggregateWindow is the lookback for aggregate queries.
	DefaultAggregateWindow time.Duration `koanf:"default_aggregate_window"`

	// DownloadRateLimit is requests per minute per client on /download.
	DownloadRateLimit int `koanf:"download_rate_limit"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Default returns a Config with all default values, used directly by tests
// and tooling that bypass file and environment loading.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        7310,
			Timeout:     30 * time.Second,
			Environment: "development",
			CORSOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Path:                   "/data/sensoria.duckdb",
			MaxMemory:              "2GB",
			Threads:                0, // 0 = use runtime.NumCPU()
			PreserveInsertionOrder: true,
			SeedMockData:           false,
		},
		Cache: CacheConfig{
			Enabled:     true,
			MetadataTTL: 10 * time.Minute,
			DownloadTTL: 100 * time.Minute,
			SchemaTTL:   5 * time.Minute,
		},
		Jobs: JobsConfig{
			Dir:         "/data/jobs",
			CleanupTTL:  3 * time.Hour,
			SuppressTTL: 10800 * time.Second,
		},
		NATS: NATSConfig{
			Enabled:        true,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats/jetstream",
			MaxMemory:      1 << 30,  // 1GB
			MaxStore:       10 << 30, // 10GB
			ExportStream:   "SENSORIA_EXPORT",
			ExportTopic:    "export.observation_datadump",
			DurableName:    "export-worker",
			QueueGroup:     "exporters",
			Workers:        2,
			MaxReconnects:  -1,
			ReconnectWait:  2 * time.Second,
		},
		Export: ExportConfig{
			ChunkSize:          1000,
			RatePerSecond:      0,
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
		},
		API: APIConfig{
			DefaultLimit:           1000,
			MaxLimit:               10000,
			DefaultQueryWindow:     90 * 24 * time.Hour,
			DefaultAggregateWindow: 24 * time.Hour,
			DownloadRateLimit:      10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for values that would fail at runtime.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Export.ChunkSize < 1 {
		return fmt.Errorf("export.chunk_size must be positive, got %d", c.Export.ChunkSize)
	}
	if c.API.DefaultLimit < 1 {
		return fmt.Errorf("api.default_limit must be positive, got %d", c.API.DefaultLimit)
	}
	if c.API.MaxLimit < c.API.DefaultLimit {
		return fmt.Errorf("api.max_limit (%d) must be >= api.default_limit (%d)",
			c.API.MaxLimit, c.API.DefaultLimit)
	}
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required when nats is enabled")
		}
		if c.NATS.Workers < 1 {
			return fmt.Errorf("nats.workers must be positive, got %d", c.NATS.Workers)
		}
		if c.NATS.ExportTopic == "" {
			return fmt.Errorf("nats.export_topic is required when nats is enabled")
		}
	}
	if c.Jobs.Dir == "" {
		return fmt.Errorf("jobs.dir is required")
	}
	if c.Jobs.SuppressTTL <= 0 {
		return fmt.Errorf("jobs.suppress_ttl must be positive")
	}
	return nil
}
