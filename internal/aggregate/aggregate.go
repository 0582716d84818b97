// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

// Package aggregate computes bucketed aggregates over observation tables. It
// resolves the request's metadata filter, runs one grouped query per resolved
// feature and combines the unpivoted rows into a single series.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tomtom215/sensoria/internal/database"
	"github.com/tomtom215/sensoria/internal/database/query"
	"github.com/tomtom215/sensoria/internal/logging"
	"github.com/tomtom215/sensoria/internal/models"
	"github.com/tomtom215/sensoria/internal/resolve"
)

// UnprocessableError marks a request that is syntactically valid but cannot
// produce an aggregate: the window holds no observations, or no resolved
// feature has a column the function applies to. Maps to HTTP 422.
type UnprocessableError struct {
	Reason string
}

func (e *UnprocessableError) Error() string {
	return fmt.Sprintf("request cannot be aggregated: %s", e.Reason)
}

// Store is the aggregation surface of the database layer.
type Store interface {
	AggregateObservations(ctx context.Context, feature string, wb *query.WhereBuilder, fn, bucket string) ([]models.AggregateRow, error)
}

// Request is a fully validated aggregate query.
type Request struct {
	Filter resolve.Filter
	Start  time.Time
	End    time.Time
	Fn     string
	Bucket string
}

// Service executes aggregate queries.
type Service struct {
	store    Store
	resolver *resolve.Resolver
}

// New creates an aggregation service.
func New(store Store, resolver *resolve.Resolver) *Service {
	return &Service{store: store, resolver: resolver}
}

// Aggregate resolves the filter cascade and aggregates every resolved
// feature, returning the combined series ordered by bucket, feature and
// property. Features without a usable table or without aggregable columns
// are skipped; if every feature is skipped, or the window is empty, the
// request is unprocessable rather than an empty success.
func (s *Service) Aggregate(ctx context.Context, req Request) ([]models.AggregateRow, error) {
	res, err := s.resolver.Resolve(ctx, req.Filter, resolve.LevelFeatures)
	if err != nil {
		return nil, err
	}

	var out []models.AggregateRow
	skipped := 0
	for _, feature := range res.Features {
		wb := query.NewWhereBuilder().
			AddTimeWindow(req.Start, req.End).
			AddNodes(res.Nodes).
			AddSensors(res.Sensors)

		rows, err := s.store.AggregateObservations(ctx, feature, wb, req.Fn, req.Bucket)
		if errors.Is(err, database.ErrTableNotFound) || errors.Is(err, database.ErrNoAggregableColumns) {
			logging.Debug().Str("feature", feature).Err(err).Msg("Feature skipped in aggregate")
			skipped++
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}

	if skipped == len(res.Features) {
		return nil, &UnprocessableError{
			Reason: fmt.Sprintf("no resolved feature supports %s", req.Fn),
		}
	}
	if len(out) == 0 {
		return nil, &UnprocessableError{Reason: "no observations in the requested window"}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].TimeBucket != out[j].TimeBucket {
			return out[i].TimeBucket < out[j].TimeBucket
		}
		if out[i].Feature != out[j].Feature {
			return out[i].Feature < out[j].Feature
		}
		return out[i].Property < out[j].Property
	})
	return out, nil
}
