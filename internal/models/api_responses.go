// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package models

import (
	"time"
)

// APIResponse is the standardized response wrapper used by every HTTP
// endpoint. Status is "success" or "error"; Data carries the payload and
// Error is populated only on failure.
//
// Example:
//
//	{
//	  "status": "success",
//	  "data": [...],
//	  "metadata": {
//	    "timestamp": "2026-08-25T12:00:00Z",
//	    "query": {"network": "array_of_things"},
//	    "query_time_ms": 12
//	  }
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata: generation time, the echoed validated
// query arguments, query execution time, and whether the response was served
// from cache.
type Metadata struct {
	Timestamp   time.Time              `json:"timestamp"`
	Query       map[string]interface{} `json:"query,omitempty"`
	QueryTimeMS int64                  `json:"query_time_ms,omitempty"`
	Cached      bool                   `json:"cached,omitempty"`
}

// APIError is a structured error payload.
//
// Error codes map the service's error taxonomy:
//   - VALIDATION_ERROR: malformed or semantically invalid request arguments
//   - EMPTY_RESOLUTION: valid filters that cascade to zero metadata matches
//   - UNPROCESSABLE: valid syntax whose parameter combination cannot compute
//   - SCHEMA_ERROR: a feature name with no backing observation table
//   - PERSISTENCE_ERROR: a failed commit during export writes
//   - NOT_FOUND: unknown route or ticket
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Common API error codes.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeEmptyResolution = "EMPTY_RESOLUTION"
	ErrCodeUnprocessable   = "UNPROCESSABLE"
	ErrCodeSchema          = "SCHEMA_ERROR"
	ErrCodePersistence     = "PERSISTENCE_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeInternal        = "INTERNAL_ERROR"
)
