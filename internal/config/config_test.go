// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate, got: %v", err)
	}

	if cfg.Export.ChunkSize != 1000 {
		t.Errorf("expected default chunk size 1000, got %d", cfg.Export.ChunkSize)
	}
	if cfg.Jobs.SuppressTTL != 10800*time.Second {
		t.Errorf("expected suppress TTL 10800s, got %s", cfg.Jobs.SuppressTTL)
	}
	if cfg.Cache.MetadataTTL != 10*time.Minute {
		t.Errorf("expected metadata cache TTL 10m, got %s", cfg.Cache.MetadataTTL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"zero chunk size", func(c *Config) { c.Export.ChunkSize = 0 }},
		{"max below default limit", func(c *Config) { c.API.MaxLimit = c.API.DefaultLimit - 1 }},
		{"nats enabled without url", func(c *Config) { c.NATS.URL = "" }},
		{"zero workers", func(c *Config) { c.NATS.Workers = 0 }},
		{"empty jobs dir", func(c *Config) { c.Jobs.Dir = "" }},
		{"zero suppress ttl", func(c *Config) { c.Jobs.SuppressTTL = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"SENSORIA_SERVER_PORT", "server.port"},
		{"SENSORIA_DATABASE_PATH", "database.path"},
		{"SENSORIA_EXPORT_CHUNK_SIZE", "export.chunk_size"},
		{"SENSORIA_API_DEFAULT_LIMIT", "api.default_limit"},
		{"SENSORIA_LOGGING_LEVEL", "logging.level"},
	}

	for _, tc := range cases {
		if got := envTransformFunc(tc.in); got != tc.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLoadAppliesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9000
database:
  path: /tmp/test.duckdb
`
	if err := os.WriteFile(configPath, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ConfigPathEnvVar, configPath)
	t.Setenv("SENSORIA_SERVER_PORT", "9100")
	t.Setenv("SENSORIA_EXPORT_CHUNK_SIZE", "500")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Env overrides file, file overrides defaults.
	if cfg.Server.Port != 9100 {
		t.Errorf("expected env port 9100, got %d", cfg.Server.Port)
	}
	if cfg.Database.Path != "/tmp/test.duckdb" {
		t.Errorf("expected file db path, got %s", cfg.Database.Path)
	}
	if cfg.Export.ChunkSize != 500 {
		t.Errorf("expected env chunk size 500, got %d", cfg.Export.ChunkSize)
	}
	// Untouched values keep defaults.
	if cfg.NATS.ExportTopic != "export.observation_datadump" {
		t.Errorf("unexpected default export topic: %s", cfg.NATS.ExportTopic)
	}
}
