// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

// Package models defines the domain types shared across Sensoria: sensor
// network metadata records, observation rows, export job tickets, and the
// HTTP response envelopes.
package models

// Network is a named collection of sensor deployment nodes. The name is a
// unique, case-insensitive key. Networks are created by ingestion tooling and
// are read-only to this service.
type Network struct {
	Name string                 `json:"name"`
	Info map[string]interface{} `json:"info"`
}

// NetworkMetadata is the formatted network response. It embeds the index of
// nodes, sensors and features currently registered under the network.
type NetworkMetadata struct {
	Name               string                 `json:"name"`
	FeaturesOfInterest []string               `json:"features_of_interest"`
	Nodes              []string               `json:"nodes"`
	Sensors            []string               `json:"sensors"`
	Info               map[string]interface{} `json:"info"`
}

// Node is a physical deployment location hosting one or more sensors.
// Every node belongs to exactly one network.
type Node struct {
	ID        string                 `json:"id"`
	Network   string                 `json:"network"`
	Latitude  float64                `json:"latitude"`
	Longitude float64                `json:"longitude"`
	Sensors   []string               `json:"sensors"`
	Info      map[string]interface{} `json:"info"`
}

// Sensor is a device reporting one or more observed properties. The
// ObservedProperties map keys are local property names; values are
// "feature.property" reference strings into a feature of interest.
type Sensor struct {
	Name               string                 `json:"name"`
	ObservedProperties map[string]string      `json:"observed_properties"`
	Info               map[string]interface{} `json:"info"`
}

// SensorMetadata is the formatted sensor response. Observed properties are
// flattened to their "feature.property" reference strings.
type SensorMetadata struct {
	Name               string                 `json:"name"`
	ObservedProperties []string               `json:"observed_properties"`
	Info               map[string]interface{} `json:"info"`
}

// FeatureOfInterest is a category of measured phenomenon. The name maps 1:1
// to a physical observation table; ObservedProperties maps property names to
// column names in that table.
type FeatureOfInterest struct {
	Name               string            `json:"name"`
	ObservedProperties map[string]string `json:"observed_properties"`
}
