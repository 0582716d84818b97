// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

// Package database wraps the DuckDB analytical store. A single database file
// carries both the sensor network metadata tables and the per-feature
// observation tables (one physical table per feature of interest, each with
// its own column set).
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/sensoria/internal/config"
	"github.com/tomtom215/sensoria/internal/logging"
)

// defaultQueryTimeout bounds queries whose context carries no deadline.
const defaultQueryTimeout = 30 * time.Second

// DB wraps the DuckDB connection and provides data access methods.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig

	// spatialAvailable tracks whether the spatial extension is loaded.
	// Spatial node filters fail explicitly when it is not.
	spatialAvailable bool

	schemas *schemaRegistry
}

// New creates a new database connection and initializes the schema.
func New(cfg *config.DatabaseConfig, schemaTTL time.Duration) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure the parent directory exists for the database file.
	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	preserveOrder := "true"
	if !cfg.PreserveInsertionOrder {
		preserveOrder = "false"
	}

	// Disable auto-install/auto-load to prevent hangs in restricted network
	// environments. Extensions are loaded explicitly below.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&preserve_insertion_order=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory, preserveOrder)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{
		conn:    conn,
		cfg:     cfg,
		schemas: newSchemaRegistry(schemaTTL),
	}

	db.loadExtensions()

	if err := db.createTables(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if cfg.SeedMockData {
		if err := db.SeedMockData(context.Background()); err != nil {
			logging.Warn().Err(err).Msg("Mock data seeding had issues")
		}
	}

	return db, nil
}

// loadExtensions installs and loads the optional DuckDB extensions. Spatial
// availability is tracked so spatial filters can fail explicitly instead of
// with an opaque SQL error.
func (db *DB) loadExtensions() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultQueryTimeout)
	defer cancel()

	db.spatialAvailable = true
	for _, stmt := range []string{"INSTALL spatial", "LOAD spatial"} {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			logging.Warn().Err(err).Str("statement", stmt).Msg("Spatial extension not loaded; spatial node filters will be rejected")
			db.spatialAvailable = false
			break
		}
	}

	// JSON functions ship in-tree with current DuckDB but loading is cheap
	// and harmless on older builds.
	for _, stmt := range []string{"INSTALL json", "LOAD json"} {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			logging.Debug().Err(err).Str("statement", stmt).Msg("JSON extension load skipped")
			break
		}
	}
}

// SpatialAvailable reports whether spatial predicates can be used.
func (db *DB) SpatialAvailable() bool {
	return db.spatialAvailable
}

// Conn exposes the underlying connection for startup wiring and tests.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	return db.conn.PingContext(ctx)
}

// ensureContext guarantees a deadline on query contexts.
func (db *DB) ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// closeQuietly closes a connection during error unwinding.
func closeQuietly(conn *sql.DB) {
	if err := conn.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close database connection")
	}
}
