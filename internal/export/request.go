// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

// Package export implements the chunked observation export pipeline. A
// download request becomes a ticket and a queued job; a worker streams the
// matching observations, persists them in fixed-size parts and finishes with
// a summary record, updating the ticket status after every part.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/sensoria/internal/observations"
)

// Request is one export job as serialized onto the queue.
type Request struct {
	Ticket    string   `json:"ticket"`
	Network   string   `json:"network"`
	Nodes     []string `json:"nodes,omitempty"`
	Sensors   []string `json:"sensors,omitempty"`
	Features  []string `json:"features,omitempty"`
	StartTime string   `json:"start_time"`
	EndTime   string   `json:"end_time"`
	Geom      string   `json:"geom,omitempty"`
}

// Window parses the request's time bounds.
func (r Request) Window() (start, end time.Time, err error) {
	start, err = time.Parse(observations.TimeLayout, r.StartTime)
	if err != nil {
		return start, end, fmt.Errorf("invalid start time %q: %w", r.StartTime, err)
	}
	end, err = time.Parse(observations.TimeLayout, r.EndTime)
	if err != nil {
		return start, end, fmt.Errorf("invalid end time %q: %w", r.EndTime, err)
	}
	return start, end, nil
}

// Enqueuer publishes export requests onto the job queue.
type Enqueuer struct {
	publisher message.Publisher
	topic     string
}

// NewEnqueuer creates an Enqueuer over a queue publisher.
func NewEnqueuer(publisher message.Publisher, topic string) *Enqueuer {
	return &Enqueuer{publisher: publisher, topic: topic}
}

// Enqueue publishes one export request. The message UUID doubles as the
// broker deduplication id.
func (e *Enqueuer) Enqueue(_ context.Context, req Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode export request: %w", err)
	}
	msg := message.NewMessage(uuid.New().String(), payload)
	if err := e.publisher.Publish(e.topic, msg); err != nil {
		return fmt.Errorf("failed to enqueue export %s: %w", req.Ticket, err)
	}
	return nil
}
