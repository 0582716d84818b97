// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package models

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestNodeGeoJSONFeatureShape(t *testing.T) {
	node := Node{
		ID:        "004e",
		Network:   "array_of_things",
		Latitude:  41.8781,
		Longitude: -87.6298,
		Sensors:   []string{"tmp112"},
		Info:      map[string]interface{}{"address": "State St"},
	}

	feature := node.GeoJSON()
	if feature.Type != "Feature" || feature.Geometry.Type != "Point" {
		t.Fatalf("unexpected feature shape: %+v", feature)
	}
	if feature.Geometry.Coordinates != [2]float64{-87.6298, 41.8781} {
		t.Errorf("expected [longitude, latitude], got %v", feature.Geometry.Coordinates)
	}
	if feature.Properties["id"] != "004e" || feature.Properties["network"] != "array_of_things" {
		t.Errorf("unexpected properties: %v", feature.Properties)
	}

	data, err := json.Marshal(feature)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	props := decoded["properties"].(map[string]interface{})
	if _, ok := props["info"]; !ok {
		t.Errorf("expected info carried in properties, got %v", props)
	}
}

func TestExtractFirstGeometry(t *testing.T) {
	polygon := `{"type":"Polygon","coordinates":[[[0,0],[0,1],[1,1],[0,0]]]}`

	cases := []struct {
		name string
		raw  string
	}{
		{"bare geometry", polygon},
		{"feature", `{"type":"Feature","geometry":` + polygon + `,"properties":{}}`},
		{"feature collection keeps first fragment only",
			`{"type":"FeatureCollection","features":[` +
				`{"type":"Feature","geometry":` + polygon + `,"properties":{}},` +
				`{"type":"Feature","geometry":{"type":"Point","coordinates":[5,5]},"properties":{}}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractFirstGeometry(tc.raw)
			if err != nil {
				t.Fatalf("ExtractFirstGeometry failed: %v", err)
			}
			if got.String() != polygon {
				t.Errorf("expected the polygon fragment, got %q", got.String())
			}
		})
	}
}

func TestExtractFirstGeometryRejectsMalformedPayloads(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{polygon}`},
		{"missing type", `{"coordinates":[[0,0]]}`},
		{"geometry without coordinates", `{"type":"Polygon"}`},
		{"feature without geometry", `{"type":"Feature","properties":{}}`},
		{"empty feature collection", `{"type":"FeatureCollection","features":[]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ExtractFirstGeometry(tc.raw); err == nil {
				t.Error("expected malformed payload to be rejected")
			}
		})
	}
}
