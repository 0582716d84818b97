// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package models

// ObservationEnvelopeColumns are the fixed columns every observation table
// carries. Every other column is a feature-specific measured property and is
// surfaced through the Results map.
var ObservationEnvelopeColumns = map[string]bool{
	"node_id":  true,
	"datetime": true,
	"sensor":   true,
	"meta_id":  true,
}

// Observation is a formatted observation row: the fixed envelope plus the
// per-feature measured properties. Datetime is ISO-8601 with any timezone
// offset stripped.
type Observation struct {
	NodeID            string                 `json:"node_id"`
	MetaID            int64                  `json:"meta_id"`
	Datetime          string                 `json:"datetime"`
	Sensor            string                 `json:"sensor"`
	FeatureOfInterest string                 `json:"feature_of_interest"`
	Results           map[string]interface{} `json:"results"`
}

// AggregateRow is one computed aggregate value: the calendar bucket start,
// the measured property it was computed over, the aggregated value, and the
// number of rows that contributed. Value is nil when every contributing row
// was NULL for the property.
type AggregateRow struct {
	TimeBucket string   `json:"time_bucket"`
	Feature    string   `json:"feature"`
	Property   string   `json:"property"`
	Value      *float64 `json:"value"`
	Count      int64    `json:"count"`
}
