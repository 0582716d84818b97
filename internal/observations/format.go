// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package observations

import (
	"fmt"
	"time"

	"github.com/tomtom215/sensoria/internal/models"
)

// TimeLayout is the wire format for observation timestamps: ISO-8601 seconds
// precision with no timezone offset. Lexicographic order equals time order.
const TimeLayout = "2006-01-02T15:04:05"

// FormatRow shapes one raw observation row into the response envelope. The
// fixed envelope columns become top-level fields; every remaining column is a
// measured property and lands in Results.
func FormatRow(feature string, row map[string]interface{}) models.Observation {
	obs := models.Observation{
		FeatureOfInterest: feature,
		Results:           make(map[string]interface{}, len(row)),
	}

	for col, val := range row {
		switch col {
		case "node_id":
			obs.NodeID, _ = val.(string)
		case "sensor":
			obs.Sensor, _ = val.(string)
		case "meta_id":
			obs.MetaID = toInt64(val)
		case "datetime":
			obs.Datetime = formatDatetime(val)
		default:
			obs.Results[col] = val
		}
	}
	return obs
}

// formatDatetime renders a timestamp value offset-free. String values from
// JSON columns keep only their first 19 characters, which strips any zone
// suffix from an ISO timestamp.
func formatDatetime(v interface{}) string {
	switch ts := v.(type) {
	case time.Time:
		return ts.Format(TimeLayout)
	case string:
		if len(ts) > len(TimeLayout) {
			return ts[:len(TimeLayout)]
		}
		return ts
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// mergeSorted merges per-feature observation slices, each already ordered by
// (datetime, meta_id), into one ascending stream. The timestamp format makes
// string comparison equivalent to time comparison.
func mergeSorted(slices [][]models.Observation) []models.Observation {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	out := make([]models.Observation, 0, total)
	cursors := make([]int, len(slices))

	for len(out) < total {
		best := -1
		for i, s := range slices {
			if cursors[i] >= len(s) {
				continue
			}
			if best == -1 || less(s[cursors[i]], slices[best][cursors[best]]) {
				best = i
			}
		}
		out = append(out, slices[best][cursors[best]])
		cursors[best]++
	}
	return out
}

func less(a, b models.Observation) bool {
	if a.Datetime != b.Datetime {
		return a.Datetime < b.Datetime
	}
	return a.MetaID < b.MetaID
}
