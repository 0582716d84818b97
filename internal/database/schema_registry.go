// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package database

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Column is one introspected column of an observation table.
type Column struct {
	Name string
	Type string
}

// IsNumeric reports whether the column can feed avg/min/max/sum aggregates.
func (c Column) IsNumeric() bool {
	switch strings.ToUpper(c.Type) {
	case "TINYINT", "SMALLINT", "INTEGER", "BIGINT", "HUGEINT",
		"UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT",
		"FLOAT", "REAL", "DOUBLE", "DECIMAL":
		return true
	}
	return strings.HasPrefix(strings.ToUpper(c.Type), "DECIMAL")
}

// TableSchema is the introspected schema of one observation table: the
// feature name (which is the table name) and its ordered column list.
type TableSchema struct {
	Feature string
	Columns []Column
}

// ColumnNames returns the ordered column names.
func (s TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// schemaRegistry caches introspected observation table schemas. Entries
// expire after ttl so a table dropped or altered underneath the process is
// re-checked rather than trusted stale; FeatureTable always fails closed
// when introspection finds nothing.
type schemaRegistry struct {
	mu      sync.RWMutex
	entries map[string]schemaEntry
	ttl     time.Duration
}

type schemaEntry struct {
	schema    TableSchema
	expiresAt time.Time
}

func newSchemaRegistry(ttl time.Duration) *schemaRegistry {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &schemaRegistry{
		entries: make(map[string]schemaEntry),
		ttl:     ttl,
	}
}

func (r *schemaRegistry) get(feature string) (TableSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[feature]
	if !ok || time.Now().After(entry.expiresAt) {
		return TableSchema{}, false
	}
	return entry.schema, true
}

func (r *schemaRegistry) put(schema TableSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[schema.Feature] = schemaEntry{
		schema:    schema,
		expiresAt: time.Now().Add(r.ttl),
	}
}

func (r *schemaRegistry) invalidate(feature string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, feature)
}

// FeatureTable resolves a feature name to its observation table schema,
// introspecting information_schema on cache miss. A feature whose table
// does not exist returns *TableNotFoundError: the metadata store references
// a table the analytical store does not have, which is a data error, not a
// bug.
func (db *DB) FeatureTable(ctx context.Context, feature string) (TableSchema, error) {
	feature = strings.ToLower(feature)

	if schema, ok := db.schemas.get(feature); ok {
		return schema, nil
	}

	schema, err := db.introspectTable(ctx, feature)
	if err != nil {
		return TableSchema{}, err
	}

	db.schemas.put(schema)
	return schema, nil
}

// InvalidateFeatureTable drops a cached schema, forcing re-introspection on
// next use. Called when a query fails in a way that suggests schema drift.
func (db *DB) InvalidateFeatureTable(feature string) {
	db.schemas.invalidate(strings.ToLower(feature))
}

// introspectTable reads the column list for one table from
// information_schema, in ordinal order.
func (db *DB) introspectTable(ctx context.Context, table string) (TableSchema, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE lower(table_name) = ?
		ORDER BY ordinal_position`, table)
	if err != nil {
		return TableSchema{}, fmt.Errorf("failed to introspect table %s: %w", table, err)
	}
	defer rows.Close()

	schema := TableSchema{Feature: table}
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return TableSchema{}, fmt.Errorf("failed to scan column row: %w", err)
		}
		schema.Columns = append(schema.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return TableSchema{}, err
	}

	if len(schema.Columns) == 0 {
		return TableSchema{}, &TableNotFoundError{Feature: table}
	}

	return schema, nil
}
