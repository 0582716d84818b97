// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// GeoJSONGeometry is a minimal GeoJSON geometry fragment. Coordinates are
// kept raw so Point, Polygon and MultiPolygon shapes all round-trip.
type GeoJSONGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// GeoJSONFeature is the GeoJSON Feature shape used for node metadata
// responses: a Point geometry with {id, network, sensors, info} properties.
type GeoJSONFeature struct {
	Type       string                 `json:"type"`
	Geometry   PointGeometry          `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// PointGeometry is a GeoJSON Point: coordinates are [longitude, latitude].
type PointGeometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// NewPointGeometry builds a Point geometry from a longitude/latitude pair.
func NewPointGeometry(lon, lat float64) PointGeometry {
	return PointGeometry{Type: "Point", Coordinates: [2]float64{lon, lat}}
}

// GeoJSON formats the node as the Feature shape served by node listings: a
// Point geometry from the stored coordinates with the remaining metadata as
// properties.
func (n Node) GeoJSON() GeoJSONFeature {
	return GeoJSONFeature{
		Type:     "Feature",
		Geometry: NewPointGeometry(n.Longitude, n.Latitude),
		Properties: map[string]interface{}{
			"id":      n.ID,
			"network": n.Network,
			"sensors": n.Sensors,
			"info":    n.Info,
		},
	}
}

// ExtractFirstGeometry parses an inbound GeoJSON payload and returns its
// first geometry fragment. Accepts a bare geometry, a Feature, or a
// FeatureCollection; only the first fragment of a multipart payload is
// honored. Malformed payloads are rejected here, before any query runs.
func ExtractFirstGeometry(raw string) (*GeoJSONGeometry, error) {
	var probe struct {
		Type     string          `json:"type"`
		Geometry *GeoJSONGeometry `json:"geometry"`
		Features []struct {
			Geometry *GeoJSONGeometry `json:"geometry"`
		} `json:"features"`
		Coordinates json.RawMessage `json:"coordinates"`
	}

	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil, fmt.Errorf("could not parse geojson: %w", err)
	}

	switch probe.Type {
	case "FeatureCollection":
		if len(probe.Features) == 0 || probe.Features[0].Geometry == nil {
			return nil, fmt.Errorf("geojson feature collection contains no geometry")
		}
		return probe.Features[0].Geometry, nil
	case "Feature":
		if probe.Geometry == nil {
			return nil, fmt.Errorf("geojson feature contains no geometry")
		}
		return probe.Geometry, nil
	case "":
		return nil, fmt.Errorf("geojson fragment missing type")
	default:
		if len(probe.Coordinates) == 0 {
			return nil, fmt.Errorf("geojson geometry %q missing coordinates", probe.Type)
		}
		return &GeoJSONGeometry{Type: probe.Type, Coordinates: probe.Coordinates}, nil
	}
}

// String re-serializes the geometry fragment for embedding in SQL predicates.
func (g *GeoJSONGeometry) String() string {
	data, err := json.Marshal(g)
	if err != nil {
		return ""
	}
	return string(data)
}
