// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

// Package resolve implements the metadata filter cascade. A request names a
// network and optionally nodes, sensors and features; each level's valid
// values are derived from the resolved set of the level above it, so a sensor
// filter can never select a sensor that is not deployed on a resolved node,
// and a feature filter can never select a feature no resolved sensor observes.
package resolve

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tomtom215/sensoria/internal/models"
)

// Level identifies one stage of the cascade.
type Level string

// Cascade levels, in resolution order.
const (
	LevelNetwork  Level = "network"
	LevelNodes    Level = "nodes"
	LevelSensors  Level = "sensors"
	LevelFeatures Level = "features"
)

var levelOrder = []Level{LevelNetwork, LevelNodes, LevelSensors, LevelFeatures}

// EmptyError reports that the cascade produced an empty set at some level:
// the request's filter values exist in no combination the metadata allows.
// It names the level where the intersection emptied and the values that
// emptied it.
type EmptyError struct {
	Level  Level
	Values []string
}

func (e *EmptyError) Error() string {
	return fmt.Sprintf("no valid %s found for values %s",
		e.Level, strings.Join(e.Values, ", "))
}

// Filter is the raw request filter. All values are matched
// case-insensitively; empty slices mean "everything valid at that level".
type Filter struct {
	Network  string
	Nodes    []string
	Sensors  []string
	Features []string
}

// Resolution is the outcome of a cascade: the validated, lower-cased value
// sets at each resolved level, sorted for deterministic output.
type Resolution struct {
	Network  string
	Nodes    []string
	Sensors  []string
	Features []string
}

// Source supplies the metadata a cascade reads. *database.DB satisfies it.
type Source interface {
	Network(ctx context.Context, name string) (models.Network, error)
	NodesByNetwork(ctx context.Context, network string) ([]models.Node, error)
	SensorsByNetwork(ctx context.Context, network string) ([]models.Sensor, error)
}

// Resolver runs filter cascades against a metadata source.
type Resolver struct {
	source Source
}

// New creates a Resolver over the given metadata source.
func New(source Source) *Resolver {
	return &Resolver{source: source}
}

// Resolve runs the cascade through the target level and returns the resolved
// value sets. Levels below the target are left empty. An empty intersection
// at any level returns *EmptyError for that level.
func (r *Resolver) Resolve(ctx context.Context, filter Filter, target Level) (Resolution, error) {
	res := Resolution{}

	for _, level := range levelOrder {
		var err error
		switch level {
		case LevelNetwork:
			err = r.resolveNetwork(ctx, filter, &res)
		case LevelNodes:
			err = r.resolveNodes(ctx, filter, &res)
		case LevelSensors:
			err = r.resolveSensors(ctx, filter, &res)
		case LevelFeatures:
			err = r.resolveFeatures(ctx, filter, &res)
		}
		if err != nil {
			return Resolution{}, err
		}
		if level == target {
			break
		}
	}

	sort.Strings(res.Nodes)
	sort.Strings(res.Sensors)
	sort.Strings(res.Features)
	return res, nil
}

func (r *Resolver) resolveNetwork(ctx context.Context, filter Filter, res *Resolution) error {
	network, err := r.source.Network(ctx, filter.Network)
	if errors.Is(err, sql.ErrNoRows) {
		return &EmptyError{Level: LevelNetwork, Values: []string{filter.Network}}
	}
	if err != nil {
		return err
	}
	res.Network = network.Name
	return nil
}

func (r *Resolver) resolveNodes(ctx context.Context, filter Filter, res *Resolution) error {
	nodes, err := r.source.NodesByNetwork(ctx, res.Network)
	if err != nil {
		return err
	}

	valid := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		valid[strings.ToLower(n.ID)] = true
	}

	res.Nodes, err = intersect(valid, filter.Nodes, LevelNodes)
	return err
}

func (r *Resolver) resolveSensors(ctx context.Context, filter Filter, res *Resolution) error {
	nodes, err := r.source.NodesByNetwork(ctx, res.Network)
	if err != nil {
		return err
	}

	resolved := make(map[string]bool, len(res.Nodes))
	for _, id := range res.Nodes {
		resolved[id] = true
	}

	// Valid sensors are those deployed on at least one resolved node, not
	// every sensor registered in the network.
	valid := make(map[string]bool)
	for _, n := range nodes {
		if !resolved[strings.ToLower(n.ID)] {
			continue
		}
		for _, s := range n.Sensors {
			valid[strings.ToLower(s)] = true
		}
	}

	res.Sensors, err = intersect(valid, filter.Sensors, LevelSensors)
	return err
}

func (r *Resolver) resolveFeatures(ctx context.Context, filter Filter, res *Resolution) error {
	sensors, err := r.source.SensorsByNetwork(ctx, res.Network)
	if err != nil {
		return err
	}

	resolved := make(map[string]bool, len(res.Sensors))
	for _, s := range res.Sensors {
		resolved[s] = true
	}

	// A sensor's observed property values are "feature.property" references;
	// the prefix names the feature the sensor can answer for.
	valid := make(map[string]bool)
	for _, s := range sensors {
		if !resolved[strings.ToLower(s.Name)] {
			continue
		}
		for _, ref := range s.ObservedProperties {
			if feature, _, ok := strings.Cut(ref, "."); ok && feature != "" {
				valid[strings.ToLower(feature)] = true
			}
		}
	}

	res.Features, err = intersect(valid, filter.Features, LevelFeatures)
	return err
}

// intersect lowers the requested values and intersects them with the valid
// set. No request means every valid value; a non-empty request whose
// intersection is empty is an EmptyError. An empty VALID set with no request
// is also an EmptyError: the levels above resolved to something that offers
// nothing at this level.
func intersect(valid map[string]bool, requested []string, level Level) ([]string, error) {
	if len(requested) == 0 {
		if len(valid) == 0 {
			return nil, &EmptyError{Level: level}
		}
		out := make([]string, 0, len(valid))
		for v := range valid {
			out = append(out, v)
		}
		return out, nil
	}

	var out []string
	seen := make(map[string]bool, len(requested))
	for _, req := range requested {
		v := strings.ToLower(req)
		if valid[v] && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, &EmptyError{Level: level, Values: requested}
	}
	return out, nil
}
