// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package api

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/tomtom215/sensoria/internal/aggregate"
	"github.com/tomtom215/sensoria/internal/database"
	"github.com/tomtom215/sensoria/internal/jobs"
	"github.com/tomtom215/sensoria/internal/models"
	"github.com/tomtom215/sensoria/internal/resolve"
)

// mapError translates a domain error into an HTTP status and taxonomy code.
// Unknown errors are internal and keep their detail out of the response.
func mapError(err error) (status int, code, message string) {
	var empty *resolve.EmptyError
	if errors.As(err, &empty) {
		return http.StatusBadRequest, models.ErrCodeEmptyResolution, empty.Error()
	}

	var unprocessable *aggregate.UnprocessableError
	if errors.As(err, &unprocessable) {
		return http.StatusUnprocessableEntity, models.ErrCodeUnprocessable, unprocessable.Error()
	}

	var tableMissing *database.TableNotFoundError
	if errors.As(err, &tableMissing) {
		return http.StatusInternalServerError, models.ErrCodeSchema, tableMissing.Error()
	}

	switch {
	case errors.Is(err, database.ErrSpatialUnavailable):
		return http.StatusBadRequest, models.ErrCodeValidation,
			"spatial filters are not available on this deployment"
	case errors.Is(err, jobs.ErrTicketNotFound):
		return http.StatusNotFound, models.ErrCodeNotFound, "unknown or expired ticket"
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, models.ErrCodeNotFound, "not found"
	}

	return http.StatusInternalServerError, models.ErrCodeInternal, "internal error"
}

// respondDomainError maps and writes a domain error.
func respondDomainError(w http.ResponseWriter, err error) {
	status, code, message := mapError(err)
	var logErr error
	if status >= http.StatusInternalServerError {
		logErr = err
	}
	respondError(w, status, code, message, logErr)
}
