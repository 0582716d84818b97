// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/sensoria/internal/models"
)

// Networks returns every registered sensor network, sorted by name.
func (db *DB) Networks(ctx context.Context) ([]models.Network, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT name, info FROM networks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query networks: %w", err)
	}
	defer rows.Close()

	var networks []models.Network
	for rows.Next() {
		var n models.Network
		var info sql.NullString
		if err := rows.Scan(&n.Name, &info); err != nil {
			return nil, fmt.Errorf("failed to scan network row: %w", err)
		}
		n.Info = decodeInfo(info)
		networks = append(networks, n)
	}
	return networks, rows.Err()
}

// Network returns one network by case-insensitive name, or sql.ErrNoRows.
func (db *DB) Network(ctx context.Context, name string) (models.Network, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var n models.Network
	var info sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`SELECT name, info FROM networks WHERE lower(name) = lower(?)`, name).
		Scan(&n.Name, &info)
	if err != nil {
		return models.Network{}, err
	}
	n.Info = decodeInfo(info)
	return n, nil
}

// NodesByNetwork returns every node deployed in the named network, each with
// its sensor list populated from the deployment table, sorted by node id.
func (db *DB) NodesByNetwork(ctx context.Context, network string) ([]models.Node, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, network, latitude, longitude, info
		FROM nodes
		WHERE lower(network) = lower(?)
		ORDER BY id`, network)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []models.Node
	for rows.Next() {
		var n models.Node
		var info sql.NullString
		if err := rows.Scan(&n.ID, &n.Network, &n.Latitude, &n.Longitude, &info); err != nil {
			return nil, fmt.Errorf("failed to scan node row: %w", err)
		}
		n.Info = decodeInfo(info)
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	deployments, err := db.nodeSensorIndex(ctx, network)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		nodes[i].Sensors = deployments[strings.ToLower(nodes[i].ID)]
	}
	return nodes, nil
}

// nodeSensorIndex maps lower-cased node id to its sorted sensor names for
// one network. Split from the node scan because DuckDB's driver does not
// support nested list scans through database/sql.
func (db *DB) nodeSensorIndex(ctx context.Context, network string) (map[string][]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT sn.node, sn.sensor
		FROM sensor_to_node sn
		JOIN nodes n ON lower(n.id) = lower(sn.node)
		WHERE lower(n.network) = lower(?)
		ORDER BY sn.node, sn.sensor`, network)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor deployments: %w", err)
	}
	defer rows.Close()

	index := make(map[string][]string)
	for rows.Next() {
		var node, sensor string
		if err := rows.Scan(&node, &sensor); err != nil {
			return nil, fmt.Errorf("failed to scan deployment row: %w", err)
		}
		key := strings.ToLower(node)
		index[key] = append(index[key], sensor)
	}
	return index, rows.Err()
}

// SensorsByNetwork returns every sensor deployed on at least one node of the
// named network, sorted by name.
func (db *DB) SensorsByNetwork(ctx context.Context, network string) ([]models.Sensor, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT DISTINCT s.name, s.observed_properties, s.info
		FROM sensors s
		JOIN sensor_to_node sn ON lower(sn.sensor) = lower(s.name)
		JOIN nodes n ON lower(n.id) = lower(sn.node)
		WHERE lower(n.network) = lower(?)
		ORDER BY s.name`, network)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensors: %w", err)
	}
	defer rows.Close()

	var sensors []models.Sensor
	for rows.Next() {
		s, err := scanSensor(rows)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, s)
	}
	return sensors, rows.Err()
}

func scanSensor(rows *sql.Rows) (models.Sensor, error) {
	var s models.Sensor
	var props string
	var info sql.NullString
	if err := rows.Scan(&s.Name, &props, &info); err != nil {
		return models.Sensor{}, fmt.Errorf("failed to scan sensor row: %w", err)
	}
	if err := json.Unmarshal([]byte(props), &s.ObservedProperties); err != nil {
		return models.Sensor{}, fmt.Errorf("malformed observed_properties for sensor %s: %w", s.Name, err)
	}
	s.Info = decodeInfo(info)
	return s, nil
}

// FeaturesByNetwork returns the features of interest observable in the named
// network. A feature is observable when some deployed sensor references it
// through an observed property value of the form "feature.property".
func (db *DB) FeaturesByNetwork(ctx context.Context, network string) ([]models.FeatureOfInterest, error) {
	sensors, err := db.SensorsByNetwork(ctx, network)
	if err != nil {
		return nil, err
	}

	observable := make(map[string]bool)
	for _, s := range sensors {
		for _, ref := range s.ObservedProperties {
			if feature, _, ok := strings.Cut(ref, "."); ok && feature != "" {
				observable[strings.ToLower(feature)] = true
			}
		}
	}
	if len(observable) == 0 {
		return nil, nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT name, observed_properties FROM features_of_interest ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query features: %w", err)
	}
	defer rows.Close()

	var features []models.FeatureOfInterest
	for rows.Next() {
		var f models.FeatureOfInterest
		var props string
		if err := rows.Scan(&f.Name, &props); err != nil {
			return nil, fmt.Errorf("failed to scan feature row: %w", err)
		}
		if !observable[strings.ToLower(f.Name)] {
			continue
		}
		if err := json.Unmarshal([]byte(props), &f.ObservedProperties); err != nil {
			return nil, fmt.Errorf("malformed observed_properties for feature %s: %w", f.Name, err)
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

// NetworkMetadata assembles the formatted network response: the network
// record plus the sorted indices of its nodes, sensors and features.
func (db *DB) NetworkMetadata(ctx context.Context, name string) (models.NetworkMetadata, error) {
	network, err := db.Network(ctx, name)
	if err != nil {
		return models.NetworkMetadata{}, err
	}

	nodes, err := db.NodesByNetwork(ctx, network.Name)
	if err != nil {
		return models.NetworkMetadata{}, err
	}
	sensors, err := db.SensorsByNetwork(ctx, network.Name)
	if err != nil {
		return models.NetworkMetadata{}, err
	}
	features, err := db.FeaturesByNetwork(ctx, network.Name)
	if err != nil {
		return models.NetworkMetadata{}, err
	}

	meta := models.NetworkMetadata{
		Name:               network.Name,
		Info:               network.Info,
		Nodes:              make([]string, 0, len(nodes)),
		Sensors:            make([]string, 0, len(sensors)),
		FeaturesOfInterest: make([]string, 0, len(features)),
	}
	for _, n := range nodes {
		meta.Nodes = append(meta.Nodes, n.ID)
	}
	for _, s := range sensors {
		meta.Sensors = append(meta.Sensors, s.Name)
	}
	for _, f := range features {
		meta.FeaturesOfInterest = append(meta.FeaturesOfInterest, f.Name)
	}
	sort.Strings(meta.Nodes)
	sort.Strings(meta.Sensors)
	sort.Strings(meta.FeaturesOfInterest)
	return meta, nil
}

// decodeInfo parses a nullable JSON info column. Malformed info is dropped
// rather than failing the whole listing.
func decodeInfo(raw sql.NullString) map[string]interface{} {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var info map[string]interface{}
	if err := json.Unmarshal([]byte(raw.String), &info); err != nil {
		return nil
	}
	return info
}
