// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

// Package query provides SQL query building utilities for the database
// package. It keeps parameter handling consistent across the observation
// and metadata query paths.
package query

import (
	"fmt"
	"strings"
	"time"
)

// WhereBuilder constructs SQL WHERE clauses with parameterized arguments.
//
// Example usage:
//
//	wb := query.NewWhereBuilder()
//	wb.AddTimeWindow(start, end)
//	wb.AddNodes([]string{"004e", "005a"})
//	whereClause, args := wb.Build()
//	// WHERE datetime >= ? AND datetime < ? AND lower(node_id) IN (?, ?)
type WhereBuilder struct {
	clauses []string
	args    []interface{}
}

// NewWhereBuilder creates a new WhereBuilder instance.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{
		clauses: []string{},
		args:    []interface{}{},
	}
}

// AddClause adds a raw WHERE clause with its arguments. Useful for custom
// conditions not covered by the helper methods.
func (wb *WhereBuilder) AddClause(clause string, args ...interface{}) *WhereBuilder {
	wb.clauses = append(wb.clauses, clause)
	wb.args = append(wb.args, args...)
	return wb
}

// AddTimeWindow adds the half-open observation window [start, end).
// The strict upper bound is deliberate: a row stamped exactly at end belongs
// to the next window.
func (wb *WhereBuilder) AddTimeWindow(start, end time.Time) *WhereBuilder {
	wb.clauses = append(wb.clauses, "datetime >= ?", "datetime < ?")
	wb.args = append(wb.args, start, end)
	return wb
}

// AddNodes adds a case-insensitive node identifier filter.
// Generates "lower(node_id) IN (?, ?, ...)". Empty slices are skipped.
func (wb *WhereBuilder) AddNodes(nodes []string) *WhereBuilder {
	return wb.addLowerIn("node_id", nodes)
}

// AddSensors adds a case-insensitive sensor name filter.
// Generates "lower(sensor) IN (?, ?, ...)". Empty slices are skipped.
func (wb *WhereBuilder) AddSensors(sensors []string) *WhereBuilder {
	return wb.addLowerIn("sensor", sensors)
}

// AddNames adds a case-insensitive name filter for metadata tables.
// Generates "lower(name) IN (?, ?, ...)". Empty slices are skipped.
func (wb *WhereBuilder) AddNames(names []string) *WhereBuilder {
	return wb.addLowerIn("name", names)
}

// addLowerIn appends a lower(column) IN (...) clause with lower-cased values.
func (wb *WhereBuilder) addLowerIn(column string, values []string) *WhereBuilder {
	if len(values) == 0 {
		return wb
	}

	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		wb.args = append(wb.args, strings.ToLower(v))
	}
	wb.clauses = append(wb.clauses,
		fmt.Sprintf("lower(%s) IN (%s)", column, strings.Join(placeholders, ", ")))
	return wb
}

// AddGeomWithin adds a spatial containment predicate on the node location
// against an inbound GeoJSON geometry fragment. Requires the DuckDB spatial
// extension.
func (wb *WhereBuilder) AddGeomWithin(geojson string) *WhereBuilder {
	if geojson == "" {
		return wb
	}
	wb.clauses = append(wb.clauses,
		"ST_Within(ST_Point(longitude, latitude), ST_GeomFromGeoJSON(?))")
	wb.args = append(wb.args, geojson)
	return wb
}

// Build constructs the final WHERE clause and returns it with arguments.
// Clauses are joined with "AND". Returns ("1=1", []) if no clauses were
// added, so callers can always interpolate the result.
func (wb *WhereBuilder) Build() (string, []interface{}) {
	if len(wb.clauses) == 0 {
		return "1=1", []interface{}{}
	}
	return strings.Join(wb.clauses, " AND "), wb.args
}

// BuildWithPrefix returns the WHERE clause with a "WHERE " prefix.
func (wb *WhereBuilder) BuildWithPrefix() (string, []interface{}) {
	whereClause, args := wb.Build()
	return "WHERE " + whereClause, args
}

// Count returns the number of clauses added to the builder.
func (wb *WhereBuilder) Count() int {
	return len(wb.clauses)
}

// IsEmpty returns true if no clauses have been added.
func (wb *WhereBuilder) IsEmpty() bool {
	return len(wb.clauses) == 0
}
