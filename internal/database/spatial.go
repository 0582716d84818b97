// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package database

import (
	"context"
	"fmt"

	"github.com/tomtom215/sensoria/internal/database/query"
)

// NodesWithin returns the lower-cased ids of the network's nodes whose
// location falls inside the GeoJSON geometry. Requires the spatial extension;
// callers translate ErrSpatialUnavailable into a request error.
func (db *DB) NodesWithin(ctx context.Context, network, geojson string) ([]string, error) {
	if !db.spatialAvailable {
		return nil, ErrSpatialUnavailable
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	wb := query.NewWhereBuilder().
		AddClause("lower(network) = lower(?)", network).
		AddGeomWithin(geojson)
	where, args := wb.BuildWithPrefix()

	rows, err := db.conn.QueryContext(ctx,
		fmt.Sprintf("SELECT lower(id) FROM nodes %s ORDER BY id", where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes within geometry: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan node id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
