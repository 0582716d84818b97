// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/sensoria/internal/database/query"
	"github.com/tomtom215/sensoria/internal/models"
)

// Aggregate function and bucket whitelists. Both values are interpolated
// into SQL and must never come from the request unchecked; the request
// validator enforces the same sets upstream.
var (
	aggregateFunctions = map[string]bool{
		"avg": true, "min": true, "max": true, "sum": true, "count": true,
	}
	aggregateBuckets = map[string]bool{
		"minute": true, "hour": true, "day": true,
		"week": true, "month": true, "year": true,
	}
)

const aggregateTimeLayout = "2006-01-02T15:04:05"

// AggregateObservations computes one aggregate function over every eligible
// measured-property column of a feature table, bucketed by calendar unit.
// For avg/min/max/sum only numeric columns are eligible; count applies to
// every property column. The result is unpivoted: one row per
// (bucket, property) pair. Eligible-column absence returns
// ErrNoAggregableColumns so callers can report it as a semantic fault rather
// than an empty result.
func (db *DB) AggregateObservations(ctx context.Context, feature string, wb *query.WhereBuilder, fn, bucket string) ([]models.AggregateRow, error) {
	if !aggregateFunctions[fn] {
		return nil, fmt.Errorf("unsupported aggregate function %q", fn)
	}
	if !aggregateBuckets[bucket] {
		return nil, fmt.Errorf("unsupported aggregate bucket %q", bucket)
	}

	schema, err := db.FeatureTable(ctx, feature)
	if err != nil {
		return nil, err
	}

	properties := eligibleColumns(schema, fn)
	if len(properties) == 0 {
		return nil, &NoAggregableColumnsError{Feature: schema.Feature, Function: fn}
	}

	selects := []string{fmt.Sprintf("date_trunc('%s', datetime) AS bucket", bucket)}
	for _, col := range properties {
		if fn == "count" {
			// count is its own value; the per-property count column doubles
			// as the contributing row count.
			selects = append(selects, fmt.Sprintf("count(%s)", col))
		} else {
			selects = append(selects, fmt.Sprintf("%s(%s)", fn, col))
		}
		selects = append(selects, fmt.Sprintf("count(%s)", col))
	}

	where, args := wb.BuildWithPrefix()
	q := fmt.Sprintf("SELECT %s FROM %s %s GROUP BY 1 ORDER BY 1",
		strings.Join(selects, ", "), schema.Feature, where)

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate %s: %w", schema.Feature, err)
	}
	defer rows.Close()

	var out []models.AggregateRow
	for rows.Next() {
		var ts time.Time
		values := make([]interface{}, 2*len(properties))
		ptrs := make([]interface{}, 0, 1+len(values))
		ptrs = append(ptrs, &ts)
		for i := range values {
			ptrs = append(ptrs, &values[i])
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate row: %w", err)
		}

		for i, col := range properties {
			out = append(out, models.AggregateRow{
				TimeBucket: ts.Format(aggregateTimeLayout),
				Feature:    schema.Feature,
				Property:   col,
				Value:      asNullableFloat(values[2*i]),
				Count:      asInt64(values[2*i+1]),
			})
		}
	}
	return out, rows.Err()
}

// eligibleColumns returns the property columns an aggregate function can be
// applied to, in schema order.
func eligibleColumns(schema TableSchema, fn string) []string {
	var cols []string
	for _, c := range schema.Columns {
		name := strings.ToLower(c.Name)
		if models.ObservationEnvelopeColumns[name] {
			continue
		}
		if fn != "count" && !c.IsNumeric() {
			continue
		}
		cols = append(cols, name)
	}
	return cols
}

func asNullableFloat(v interface{}) *float64 {
	switch n := v.(type) {
	case nil:
		return nil
	case float64:
		return &n
	case float32:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	case int32:
		f := float64(n)
		return &f
	case uint64:
		f := float64(n)
		return &f
	default:
		return nil
	}
}
