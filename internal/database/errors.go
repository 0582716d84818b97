// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package database

import (
	"errors"
	"fmt"
)

// Sentinel errors for the database layer.
var (
	// ErrTableNotFound indicates a feature of interest whose name does not
	// resolve to an existing observation table. This is a data-integrity
	// fault: the metadata store references a table the analytical store
	// does not have.
	ErrTableNotFound = errors.New("observation table not found")

	// ErrSpatialUnavailable indicates a spatial filter was requested but
	// the DuckDB spatial extension could not be loaded.
	ErrSpatialUnavailable = errors.New("spatial extension not available")

	// ErrNoAggregableColumns indicates an aggregate request over a feature
	// whose table has no column the requested function can apply to.
	ErrNoAggregableColumns = errors.New("no aggregable columns")
)

// TableNotFoundError wraps ErrTableNotFound with the offending feature name.
type TableNotFoundError struct {
	Feature string
}

// Error implements the error interface.
func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("observation table not found for feature %q", e.Feature)
}

// Unwrap makes errors.Is(err, ErrTableNotFound) work.
func (e *TableNotFoundError) Unwrap() error {
	return ErrTableNotFound
}

// NoAggregableColumnsError wraps ErrNoAggregableColumns with the feature and
// function that could not be combined.
type NoAggregableColumnsError struct {
	Feature  string
	Function string
}

func (e *NoAggregableColumnsError) Error() string {
	return fmt.Sprintf("feature %q has no columns aggregable with %s", e.Feature, e.Function)
}

func (e *NoAggregableColumnsError) Unwrap() error {
	return ErrNoAggregableColumns
}
