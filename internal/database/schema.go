// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package database

import (
	"context"
	"fmt"
)

// createTables creates the metadata and export tables. Observation tables
// are NOT created here: each feature of interest owns its table, created by
// ingestion tooling, and this service only introspects them at query time.
func (db *DB) createTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultQueryTimeout)
	defer cancel()

	queries := []string{
		`CREATE TABLE IF NOT EXISTS networks (
			name VARCHAR PRIMARY KEY,
			info JSON
		)`,
		`CREATE TABLE IF NOT EXISTS nodes (
			id VARCHAR PRIMARY KEY,
			network VARCHAR NOT NULL,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			info JSON
		)`,
		`CREATE TABLE IF NOT EXISTS sensors (
			name VARCHAR PRIMARY KEY,
			observed_properties JSON NOT NULL,
			info JSON
		)`,
		// Deployment association: which sensors report from which nodes.
		`CREATE TABLE IF NOT EXISTS sensor_to_node (
			sensor VARCHAR NOT NULL,
			node VARCHAR NOT NULL,
			PRIMARY KEY (sensor, node)
		)`,
		`CREATE TABLE IF NOT EXISTS features_of_interest (
			name VARCHAR PRIMARY KEY,
			observed_properties JSON NOT NULL
		)`,
		// Export parts. Part 0 is the summary record; data parts start at 1.
		`CREATE TABLE IF NOT EXISTS datadump (
			id VARCHAR PRIMARY KEY,
			ticket VARCHAR NOT NULL,
			part INTEGER NOT NULL,
			total INTEGER NOT NULL,
			data JSON NOT NULL,
			created_at TIMESTAMP DEFAULT current_timestamp
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_network ON nodes(network)`,
		`CREATE INDEX IF NOT EXISTS idx_datadump_ticket ON datadump(ticket)`,
	}

	for _, q := range queries {
		if _, err := db.conn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	return nil
}
