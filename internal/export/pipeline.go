// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package export

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/sensoria/internal/config"
	"github.com/tomtom215/sensoria/internal/database/query"
	"github.com/tomtom215/sensoria/internal/logging"
	"github.com/tomtom215/sensoria/internal/metrics"
	"github.com/tomtom215/sensoria/internal/models"
	"github.com/tomtom215/sensoria/internal/observations"
	"github.com/tomtom215/sensoria/internal/resolve"
)

// ObservationSource is the streaming read surface of the database layer.
type ObservationSource interface {
	CountObservations(ctx context.Context, feature string, wb *query.WhereBuilder) (int64, error)
	StreamObservationRows(ctx context.Context, feature string, wb *query.WhereBuilder, yield func(map[string]interface{}) error) error
	NodesWithin(ctx context.Context, network, geojson string) ([]string, error)
}

// PartStore persists export chunks.
type PartStore interface {
	InsertDatadumpPart(ctx context.Context, part models.DatadumpPart) error
	InsertDatadumpSummary(ctx context.Context, id, ticket string, total int, summary models.ExportSummary) error
}

// StatusStore tracks ticket progress.
type StatusStore interface {
	SetStatus(ticket string, status models.JobStatus) error
	SetFlag(name string, value bool, ttl time.Duration) error
}

// Pipeline runs export jobs. Part writes go through a circuit breaker and an
// optional rate limiter so a struggling analytical store sheds export load
// before interactive queries suffer.
type Pipeline struct {
	source   ObservationSource
	parts    PartStore
	status   StatusStore
	resolver *resolve.Resolver

	chunkSize   int
	suppressTTL time.Duration
	workerName  string

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
}

// NewPipeline creates an export pipeline.
func NewPipeline(source ObservationSource, parts PartStore, status StatusStore, resolver *resolve.Resolver, cfg *config.ExportConfig, suppressTTL time.Duration, workerName string) *Pipeline {
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "datadump-persistence",
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1000
	}

	return &Pipeline{
		source:      source,
		parts:       parts,
		status:      status,
		resolver:    resolver,
		chunkSize:   chunkSize,
		suppressTTL: suppressTTL,
		workerName:  workerName,
		limiter:     limiter,
		breaker:     breaker,
	}
}

// Run executes one export job end to end. Failures are recorded on the
// ticket before being returned.
func (p *Pipeline) Run(ctx context.Context, req Request) error {
	if err := p.run(ctx, req); err != nil {
		p.markFailed(req, err)
		return err
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, req Request) error {
	start, end, err := req.Window()
	if err != nil {
		return err
	}

	res, err := p.resolver.Resolve(ctx, resolve.Filter{
		Network:  req.Network,
		Nodes:    req.Nodes,
		Sensors:  req.Sensors,
		Features: req.Features,
	}, resolve.LevelFeatures)
	if err != nil {
		return err
	}

	nodes := res.Nodes
	if req.Geom != "" {
		nodes, err = p.narrowByGeom(ctx, res, req.Geom)
		if err != nil {
			return err
		}
	}

	where := func() *query.WhereBuilder {
		return query.NewWhereBuilder().
			AddTimeWindow(start, end).
			AddNodes(nodes).
			AddSensors(res.Sensors)
	}

	// Fast count first so every part can carry the final part total and
	// progress is meaningful from the first status write.
	var totalRows int64
	for _, feature := range res.Features {
		n, err := p.source.CountObservations(ctx, feature, where())
		if err != nil {
			return err
		}
		totalRows += n
	}
	totalParts := int((totalRows + int64(p.chunkSize) - 1) / int64(p.chunkSize))

	meta := models.JobMeta{
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Workers:   []string{p.workerName},
		Features:  res.Features,
	}
	if err := p.status.SetStatus(req.Ticket, models.JobStatus{
		State:    models.JobStateProcessing,
		Progress: &models.JobProgress{Done: 0, Total: totalParts},
		Meta:     meta,
	}); err != nil {
		return err
	}

	buffer := make([]models.Observation, 0, p.chunkSize)
	partNum := 0

	for _, feature := range res.Features {
		feature := feature
		err := p.source.StreamObservationRows(ctx, feature, where(), func(row map[string]interface{}) error {
			buffer = append(buffer, observations.FormatRow(feature, row))
			metrics.ExportRowsStreamed.Inc()
			if len(buffer) == p.chunkSize {
				partNum++
				if err := p.persistPart(ctx, req.Ticket, partNum, totalParts, buffer, meta); err != nil {
					return err
				}
				buffer = buffer[:0]
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if len(buffer) > 0 {
		partNum++
		if err := p.persistPart(ctx, req.Ticket, partNum, totalParts, buffer, meta); err != nil {
			return err
		}
	}

	summary := models.ExportSummary{
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Workers:   []string{p.workerName},
		Features:  res.Features,
	}
	if err := p.parts.InsertDatadumpSummary(ctx, uuid.New().String(), req.Ticket, totalParts, summary); err != nil {
		return err
	}

	logging.Info().Str("ticket", req.Ticket).Int("parts", partNum).Int64("rows", totalRows).
		Msg("Export completed")
	return p.status.SetStatus(req.Ticket, models.JobStatus{
		State:    models.JobStateSuccess,
		Progress: &models.JobProgress{Done: partNum, Total: totalParts},
		Meta:     meta,
	})
}

// persistPart writes one chunk and advances the ticket: part row, progress
// record, then the cleanup-suppression flag, refreshed so an active export is
// never swept mid-flight.
func (p *Pipeline) persistPart(ctx context.Context, ticket string, part, total int, buffer []models.Observation, meta models.JobMeta) error {
	data, err := json.Marshal(buffer)
	if err != nil {
		return fmt.Errorf("failed to encode part %d: %w", part, err)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	_, err = p.breaker.Execute(func() (any, error) {
		return nil, p.parts.InsertDatadumpPart(ctx, models.DatadumpPart{
			ID:     uuid.New().String(),
			Ticket: ticket,
			Part:   part,
			Total:  total,
			Data:   data,
		})
	})
	if err != nil {
		return err
	}
	metrics.ExportPartsPersisted.Inc()

	if err := p.status.SetStatus(ticket, models.JobStatus{
		State:    models.JobStateProcessing,
		Progress: &models.JobProgress{Done: part, Total: total},
		Meta:     meta,
	}); err != nil {
		return err
	}
	return p.status.SetFlag(ticket+"_suppresscleanup", true, p.suppressTTL)
}

// narrowByGeom intersects the resolved node set with the nodes inside the
// request geometry. Only the first fragment of a multipart payload is
// honored, and wrappers are unwrapped before the spatial predicate runs.
func (p *Pipeline) narrowByGeom(ctx context.Context, res resolve.Resolution, geom string) ([]string, error) {
	fragment, err := models.ExtractFirstGeometry(geom)
	if err != nil {
		return nil, err
	}

	within, err := p.source.NodesWithin(ctx, res.Network, fragment.String())
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

func (p *Pipeline) markFailed(req Request, cause error) {
	status := models.JobStatus{
		State: models.JobStateError,
		Error: cause.Error(),
		Meta: models.JobMeta{
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
			Workers:   []string{p.workerName},
		},
	}
	if err := p.status.SetStatus(req.Ticket, status); err != nil {
		logging.Error().Err(err).Str("ticket", req.Ticket).Msg("Failed to record export failure")
	}
}
