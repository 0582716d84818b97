// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package export

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/tomtom215/sensoria/internal/logging"
	"github.com/tomtom215/sensoria/internal/metrics"
)

// Worker consumes export requests from the job queue and runs them through
// the pipeline. It implements suture.Service; Serve blocks until the context
// is canceled.
type Worker struct {
	subscriber message.Subscriber
	pipeline   *Pipeline
	topic      string
}

// NewWorker creates a queue worker over the pipeline.
func NewWorker(subscriber message.Subscriber, pipeline *Pipeline, topic string) *Worker {
	return &Worker{subscriber: subscriber, pipeline: pipeline, topic: topic}
}

// Serve subscribes to the export topic and processes messages until the
// context ends. Messages are always acked: a failed job is recorded on its
// ticket, and redelivery would collide with the parts already persisted.
func (w *Worker) Serve(ctx context.Context) error {
	messages, err := w.subscriber.Subscribe(ctx, w.topic)
	if err != nil {
		return err
	}

	logging.Info().Str("topic", w.topic).Msg("Export worker started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return ctx.Err()
			}
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	var req Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		logging.Error().Err(err).Str("message", msg.UUID).Msg("Malformed export request dropped")
		return
	}

	started := time.Now()
	err := w.pipeline.Run(ctx, req)
	metrics.RecordExportJob(time.Since(started), err)
	if err != nil {
		logging.Error().Err(err).Str("ticket", req.Ticket).Msg("Export job failed")
	}
}

func (w *Worker) String() string {
	return "export-worker"
}
