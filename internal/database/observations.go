// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/sensoria/internal/database/query"
	"github.com/tomtom215/sensoria/internal/logging"
)

// streamBatchSize is the page size for keyset-paginated streaming reads.
const streamBatchSize = 5000

// CountObservations returns the number of rows in one feature's observation
// table matching the filter.
func (db *DB) CountObservations(ctx context.Context, feature string, wb *query.WhereBuilder) (int64, error) {
	schema, err := db.FeatureTable(ctx, feature)
	if err != nil {
		return 0, err
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	where, args := wb.BuildWithPrefix()
	var count int64
	err = db.conn.QueryRowContext(ctx,
		fmt.Sprintf("SELECT count(*) FROM %s %s", schema.Feature, where), args...).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count observations in %s: %w", schema.Feature, err)
	}
	return count, nil
}

// QueryObservationRows returns raw observation rows from one feature table as
// column-name keyed maps, ordered by (datetime, meta_id) ascending. Limit 0
// means no limit.
func (db *DB) QueryObservationRows(ctx context.Context, feature string, wb *query.WhereBuilder, limit, offset int) ([]map[string]interface{}, error) {
	schema, err := db.FeatureTable(ctx, feature)
	if err != nil {
		return nil, err
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	where, args := wb.BuildWithPrefix()
	q := fmt.Sprintf("SELECT * FROM %s %s ORDER BY datetime, meta_id", schema.Feature, where)
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		q += fmt.Sprintf(" OFFSET %d", offset)
	}

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", schema.Feature, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]interface{}
	for rows.Next() {
		row, err := scanRowMap(rows, cols)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// StreamObservationRows walks one feature table in (datetime, meta_id) order,
// invoking yield per row. It pages with a keyset cursor on the tuple rather
// than OFFSET so large exports do not degrade quadratically, and so rows
// sharing a timestamp are never skipped across page boundaries. A non-nil
// error from yield aborts the stream.
func (db *DB) StreamObservationRows(ctx context.Context, feature string, wb *query.WhereBuilder, yield func(map[string]interface{}) error) error {
	schema, err := db.FeatureTable(ctx, feature)
	if err != nil {
		return err
	}

	baseWhere, baseArgs := wb.Build()

	var cursorTime time.Time
	var cursorMeta int64
	haveCursor := false

	for {
		pageWhere := baseWhere
		pageArgs := append([]interface{}{}, baseArgs...)
		if haveCursor {
			pageWhere += " AND (datetime > ? OR (datetime = ? AND meta_id > ?))"
			pageArgs = append(pageArgs, cursorTime, cursorTime, cursorMeta)
		}

		q := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY datetime, meta_id LIMIT %d",
			schema.Feature, pageWhere, streamBatchSize)

		n, lastTime, lastMeta, err := db.streamPage(ctx, q, pageArgs, yield)
		if err != nil {
			return err
		}
		if n < streamBatchSize {
			return nil
		}
		cursorTime, cursorMeta, haveCursor = lastTime, lastMeta, true
	}
}

// streamPage runs one page query and yields its rows, returning the row count
// and the cursor tuple of the last row.
func (db *DB) streamPage(ctx context.Context, q string, args []interface{}, yield func(map[string]interface{}) error) (int, time.Time, int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var lastTime time.Time
	var lastMeta int64

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return 0, lastTime, lastMeta, fmt.Errorf("failed to stream observations: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, lastTime, lastMeta, err
	}

	n := 0
	for rows.Next() {
		row, err := scanRowMap(rows, cols)
		if err != nil {
			return n, lastTime, lastMeta, err
		}
		if err := yield(row); err != nil {
			return n, lastTime, lastMeta, err
		}
		n++

		if ts, ok := row["datetime"].(time.Time); ok {
			lastTime = ts
		}
		lastMeta = asInt64(row["meta_id"])
	}
	return n, lastTime, lastMeta, rows.Err()
}

// scanRowMap scans the current row into a column-name keyed map.
func scanRowMap(rows *sql.Rows, cols []string) (map[string]interface{}, error) {
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("failed to scan observation row: %w", err)
	}

	row := make(map[string]interface{}, len(cols))
	for i, col := range cols {
		if b, ok := values[i].([]byte); ok {
			row[strings.ToLower(col)] = string(b)
			continue
		}
		row[strings.ToLower(col)] = values[i]
	}
	return row, nil
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	default:
		logging.Debug().Interface("value", v).Msg("Unexpected meta_id type in observation row")
		return 0
	}
}
