// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

// Package observations answers observation queries: it resolves the request's
// metadata filter, fans one query out per resolved feature table, and merges
// the per-feature results into a single time-ordered stream.
package observations

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/sensoria/internal/database"
	"github.com/tomtom215/sensoria/internal/database/query"
	"github.com/tomtom215/sensoria/internal/logging"
	"github.com/tomtom215/sensoria/internal/models"
	"github.com/tomtom215/sensoria/internal/resolve"
)

// Store is the observation read surface of the database layer.
type Store interface {
	QueryObservationRows(ctx context.Context, feature string, wb *query.WhereBuilder, limit, offset int) ([]map[string]interface{}, error)
	NodesWithin(ctx context.Context, network, geojson string) ([]string, error)
}

// Request is a fully validated observation query.
type Request struct {
	Filter resolve.Filter
	Start  time.Time
	End    time.Time
	Geom   string
	Limit  int
	Offset int
}

// Service executes observation queries.
type Service struct {
	store    Store
	resolver *resolve.Resolver
}

// New creates an observation query service.
func New(store Store, resolver *resolve.Resolver) *Service {
	return &Service{store: store, resolver: resolver}
}

// Query resolves the filter cascade, queries every resolved feature table and
// returns the merged, time-ordered observations. A feature whose table is
// missing is skipped with a warning rather than failing the whole request;
// the metadata said it should exist, and the other features still have
// answers.
func (s *Service) Query(ctx context.Context, req Request) ([]models.Observation, error) {
	res, err := s.resolver.Resolve(ctx, req.Filter, resolve.LevelFeatures)
	if err != nil {
		return nil, err
	}

	nodes := res.Nodes
	if req.Geom != "" {
		nodes, err = s.applyGeomFilter(ctx, res, req.Geom)
		if err != nil {
			return nil, err
		}
	}

	// Each feature query fetches enough rows to survive the merge-then-slice:
	// an offset row in the merged stream may come entirely from one feature.
	// Limit 0 means unlimited.
	perFeature := 0
	if req.Limit > 0 {
		perFeature = req.Limit + req.Offset
	}

	slices := make([][]models.Observation, 0, len(res.Features))
	for _, feature := range res.Features {
		wb := query.NewWhereBuilder().
			AddTimeWindow(req.Start, req.End).
			AddNodes(nodes).
			AddSensors(res.Sensors)

		rows, err := s.store.QueryObservationRows(ctx, feature, wb, perFeature, 0)
		if errors.Is(err, database.ErrTableNotFound) {
			logging.Warn().Str("feature", feature).Msg("Feature has no observation table; skipping")
			continue
		}
		if err != nil {
			return nil, err
		}

		formatted := make([]models.Observation, len(rows))
		for i, row := range rows {
			formatted[i] = FormatRow(feature, row)
		}
		slices = append(slices, formatted)
	}

	merged := mergeSorted(slices)
	if req.Offset >= len(merged) {
		return []models.Observation{}, nil
	}
	merged = merged[req.Offset:]
	if req.Limit > 0 && len(merged) > req.Limit {
		merged = merged[:req.Limit]
	}
	return merged, nil
}

// applyGeomFilter narrows the resolved node set to nodes inside the request
// geometry. Only the first geometry fragment of a multipart payload is
// honored; Feature and FeatureCollection wrappers are unwrapped to the bare
// fragment the spatial predicate accepts. An empty intersection is an empty
// cascade at the nodes level.
func (s *Service) applyGeomFilter(ctx context.Context, res resolve.Resolution, geom string) ([]string, error) {
	fragment, err := models.ExtractFirstGeometry(geom)
	if err != nil {
		return nil, err
	}

	within, err := s.store.NodesWithin(ctx, res.Network, fragment.String())
	if err != nil {
		return nil, err
	}

	inGeom := make(map[string]bool, len(within))
	for _, id := range within {
		inGeom[id] = true
	}

	var nodes []string
	for _, id := range res.Nodes {
		if inGeom[id] {
			nodes = append(nodes, id)
		}
	}
	if len(nodes) == 0 {
		return nil, &resolve.EmptyError{Level: resolve.LevelNodes, Values: []string{"geom"}}
	}
	return nodes, nil
}
