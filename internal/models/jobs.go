// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package models

// Job states for export tickets.
const (
	JobStateQueued     = "queued"
	JobStateProcessing = "processing"
	JobStateSuccess    = "success"
	JobStateError      = "error"
)

// JobProgress tracks chunked export progress. Done is the number of the last
// persisted part; the job is complete when Done == Total.
type JobProgress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// JobMeta carries the request bounds and worker attribution for an export.
type JobMeta struct {
	StartTime string   `json:"startTime"`
	EndTime   string   `json:"endTime,omitempty"`
	Workers   []string `json:"workers,omitempty"`
	Features  []string `json:"features,omitempty"`
}

// JobStatus is the externally polled status record for one export ticket.
type JobStatus struct {
	Ticket   string       `json:"ticket"`
	State    string       `json:"state"`
	Progress *JobProgress `json:"progress,omitempty"`
	Meta     JobMeta      `json:"meta"`
	Error    string       `json:"error,omitempty"`
}

// ExportSummary is the final record persisted after the last part of a
// datadump: the original request's time bounds, the worker(s) that computed
// it, and the distinct feature names actually present in the result.
type ExportSummary struct {
	StartTime string   `json:"startTime"`
	EndTime   string   `json:"endTime"`
	Workers   []string `json:"workers"`
	Features  []string `json:"features"`
}

// DatadumpPart is one persisted chunk of an export. Parts are numbered from
// 1 and Data holds the JSON-serialized observation slice.
type DatadumpPart struct {
	ID     string `json:"id"`
	Ticket string `json:"ticket"`
	Part   int    `json:"part"`
	Total  int    `json:"total"`
	Data   []byte `json:"data"`
}
