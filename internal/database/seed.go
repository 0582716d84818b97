// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/sensoria/internal/logging"
)

// SeedMockData loads a small fixture network for local development and
// integration tests: one network, two nodes, two sensors, two features, and
// a few days of synthetic observations. Statements are idempotent so repeated
// startups do not duplicate metadata.
func (db *DB) SeedMockData(ctx context.Context) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	statements := []string{
		`INSERT INTO networks (name, info)
		 VALUES ('array_of_things', '{"description": "Development fixture network"}')
		 ON CONFLICT DO NOTHING`,

		`INSERT INTO nodes (id, network, latitude, longitude, info) VALUES
		 ('004e', 'array_of_things', 41.8781, -87.6298, '{"address": "State St & Jackson Blvd"}'),
		 ('005a', 'array_of_things', 41.8675, -87.6243, '{"address": "Michigan Ave & Balbo Dr"}')
		 ON CONFLICT DO NOTHING`,

		`INSERT INTO sensors (name, observed_properties, info) VALUES
		 ('tmp112', '{"temperature": "temperature.temperature"}', '{"datasheet": "tmp112.pdf"}'),
		 ('hih4030', '{"humidity": "relative_humidity.humidity"}', '{"datasheet": "hih4030.pdf"}')
		 ON CONFLICT DO NOTHING`,

		`INSERT INTO sensor_to_node (sensor, node) VALUES
		 ('tmp112', '004e'),
		 ('tmp112', '005a'),
		 ('hih4030', '004e')
		 ON CONFLICT DO NOTHING`,

		`INSERT INTO features_of_interest (name, observed_properties) VALUES
		 ('temperature', '{"temperature": "temperature"}'),
		 ('relative_humidity', '{"humidity": "humidity"}')
		 ON CONFLICT DO NOTHING`,

		`CREATE TABLE IF NOT EXISTS temperature (
			node_id VARCHAR NOT NULL,
			datetime TIMESTAMP NOT NULL,
			meta_id BIGINT NOT NULL,
			sensor VARCHAR NOT NULL,
			temperature DOUBLE
		)`,

		`CREATE TABLE IF NOT EXISTS relative_humidity (
			node_id VARCHAR NOT NULL,
			datetime TIMESTAMP NOT NULL,
			meta_id BIGINT NOT NULL,
			sensor VARCHAR NOT NULL,
			humidity DOUBLE
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("seed statement failed: %w", err)
		}
	}

	return db.seedObservations(ctx)
}

// seedObservations fills the fixture observation tables with hourly readings
// for the last three days. Skipped when rows already exist.
func (db *DB) seedObservations(ctx context.Context) error {
	var existing int64
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM temperature`).Scan(&existing); err != nil {
		return fmt.Errorf("failed to check fixture observations: %w", err)
	}
	if existing > 0 {
		logging.Debug().Int64("rows", existing).Msg("Fixture observations already present; skipping seed")
		return nil
	}

	start := time.Now().UTC().Truncate(time.Hour).Add(-72 * time.Hour)
	metaID := int64(1)

	for h := 0; h < 72; h++ {
		ts := start.Add(time.Duration(h) * time.Hour)
		// Rough diurnal curve, offset per node.
		base := 18.0 + 6.0*float64(h%24)/24.0

		for _, node := range []string{"004e", "005a"} {
			temp := base
			if node == "005a" {
				temp += 0.5
			}
			if _, err := db.conn.ExecContext(ctx, `
				INSERT INTO temperature (node_id, datetime, meta_id, sensor, temperature)
				VALUES (?, ?, ?, 'tmp112', ?)`, node, ts, metaID, temp); err != nil {
				return fmt.Errorf("failed to seed temperature row: %w", err)
			}
			metaID++
		}

		if _, err := db.conn.ExecContext(ctx, `
			INSERT INTO relative_humidity (node_id, datetime, meta_id, sensor, humidity)
			VALUES ('004e', ?, ?, 'hih4030', ?)`, ts, metaID, 55.0+float64(h%10)); err != nil {
			return fmt.Errorf("failed to seed humidity row: %w", err)
		}
		metaID++
	}

	logging.Info().Msg("Seeded fixture sensor network and observations")
	return nil
}
