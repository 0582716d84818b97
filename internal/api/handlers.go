// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

// Package api exposes the HTTP surface: sensor network metadata, observation
// queries, aggregates, chunked export tickets and their retrieval.
package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/sensoria/internal/aggregate"
	"github.com/tomtom215/sensoria/internal/cache"
	"github.com/tomtom215/sensoria/internal/config"
	"github.com/tomtom215/sensoria/internal/export"
	"github.com/tomtom215/sensoria/internal/jobs"
	"github.com/tomtom215/sensoria/internal/metrics"
	"github.com/tomtom215/sensoria/internal/models"
	"github.com/tomtom215/sensoria/internal/observations"
)

// MetadataStore is the metadata and export-retrieval surface of the database
// layer.
type MetadataStore interface {
	Networks(ctx context.Context) ([]models.Network, error)
	NetworkMetadata(ctx context.Context, name string) (models.NetworkMetadata, error)
	NodesByNetwork(ctx context.Context, network string) ([]models.Node, error)
	SensorsByNetwork(ctx context.Context, network string) ([]models.Sensor, error)
	FeaturesByNetwork(ctx context.Context, network string) ([]models.FeatureOfInterest, error)
	DatadumpSummary(ctx context.Context, ticket string) (models.ExportSummary, error)
	DatadumpPart(ctx context.Context, ticket string, part int) (models.DatadumpPart, error)
	Ping(ctx context.Context) error
}

// QueryService answers observation queries.
type QueryService interface {
	Query(ctx context.Context, req observations.Request) ([]models.Observation, error)
}

// AggregateService answers aggregate queries.
type AggregateService interface {
	Aggregate(ctx context.Context, req aggregate.Request) ([]models.AggregateRow, error)
}

// JobStore tracks export tickets.
type JobStore interface {
	GetStatus(ticket string) (models.JobStatus, error)
	SetStatus(ticket string, status models.JobStatus) error
}

// Enqueuer publishes export jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req export.Request) error
}

// Handler carries the wired services for all HTTP endpoints.
type Handler struct {
	store      MetadataStore
	queries    QueryService
	aggregates AggregateService
	jobStore   JobStore
	enqueuer   Enqueuer
	cache      cache.Store
	cfg        *config.Config
}

// NewHandler creates the HTTP handler set.
func NewHandler(store MetadataStore, queries QueryService, aggregates AggregateService, jobStore JobStore, enqueuer Enqueuer, responseCache cache.Store, cfg *config.Config) *Handler {
	if responseCache == nil {
		responseCache = cache.Nop{}
	}
	return &Handler{
		store:      store,
		queries:    queries,
		aggregates: aggregates,
		jobStore:   jobStore,
		enqueuer:   enqueuer,
		cache:      responseCache,
		cfg:        cfg,
	}
}

// ListNetworks returns the formatted metadata of every sensor network.
func (h *Handler) ListNetworks(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	key := cache.GenerateKey("networks", nil)
	if cached, ok := h.cache.Get(key); ok {
		metrics.RecordCacheLookup("metadata", true)
		respondData(w, cached, nil, started, true)
		return
	}
	metrics.RecordCacheLookup("metadata", false)

	networks, err := h.store.Networks(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	out := make([]models.NetworkMetadata, 0, len(networks))
	for _, n := range networks {
		meta, err := h.store.NetworkMetadata(r.Context(), n.Name)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		out = append(out, meta)
	}

	h.cache.SetWithTTL(key, out, h.cfg.Cache.MetadataTTL)
	respondData(w, out, nil, started, false)
}

// GetNetwork returns one network's formatted metadata.
func (h *Handler) GetNetwork(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	network := chi.URLParam(r, "network")

	key := cache.GenerateKey("network", network)
	if cached, ok := h.cache.Get(key); ok {
		metrics.RecordCacheLookup("metadata", true)
		respondData(w, cached, nil, started, true)
		return
	}
	metrics.RecordCacheLookup("metadata", false)

	meta, err := h.store.NetworkMetadata(r.Context(), network)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	h.cache.SetWithTTL(key, meta, h.cfg.Cache.MetadataTTL)
	respondData(w, meta, nil, started, false)
}

// ListNodes returns the nodes of one network as GeoJSON Features: a Point
// geometry per node with the deployed sensors in the properties.
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	network := chi.URLParam(r, "network")

	key := cache.GenerateKey("nodes", network)
	if cached, ok := h.cache.Get(key); ok {
		metrics.RecordCacheLookup("metadata", true)
		respondData(w, cached, nil, started, true)
		return
	}
	metrics.RecordCacheLookup("metadata", false)

	nodes, err := h.store.NodesByNetwork(r.Context(), network)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if len(nodes) == 0 {
		h.networkOr404(w, r, network, started, []models.GeoJSONFeature{})
		return
	}

	out := make([]models.GeoJSONFeature, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.GeoJSON())
	}

	h.cache.SetWithTTL(key, out, h.cfg.Cache.MetadataTTL)
	respondData(w, out, nil, started, false)
}

// ListSensors returns the sensors deployed in one network, with observed
// properties flattened to their feature references.
func (h *Handler) ListSensors(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	network := chi.URLParam(r, "network")

	key := cache.GenerateKey("sensors", network)
	if cached, ok := h.cache.Get(key); ok {
		metrics.RecordCacheLookup("metadata", true)
		respondData(w, cached, nil, started, true)
		return
	}
	metrics.RecordCacheLookup("metadata", false)

	sensors, err := h.store.SensorsByNetwork(r.Context(), network)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	out := make([]models.SensorMetadata, 0, len(sensors))
	for _, s := range sensors {
		meta := models.SensorMetadata{Name: s.Name, Info: s.Info}
		for _, ref := range s.ObservedProperties {
			meta.ObservedProperties = append(meta.ObservedProperties, ref)
		}
		sort.Strings(meta.ObservedProperties)
		out = append(out, meta)
	}
	if len(out) == 0 {
		h.networkOr404(w, r, network, started, []models.SensorMetadata{})
		return
	}

	h.cache.SetWithTTL(key, out, h.cfg.Cache.MetadataTTL)
	respondData(w, out, nil, started, false)
}

// ListFeatures returns the features of interest observable in one network.
func (h *Handler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	network := chi.URLParam(r, "network")

	key := cache.GenerateKey("features", network)
	if cached, ok := h.cache.Get(key); ok {
		metrics.RecordCacheLookup("metadata", true)
		respondData(w, cached, nil, started, true)
		return
	}
	metrics.RecordCacheLookup("metadata", false)

	features, err := h.store.FeaturesByNetwork(r.Context(), network)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if len(features) == 0 {
		h.networkOr404(w, r, network, started, []models.FeatureOfInterest{})
		return
	}

	h.cache.SetWithTTL(key, features, h.cfg.Cache.MetadataTTL)
	respondData(w, features, nil, started, false)
}

// networkOr404 distinguishes an empty listing under a real network from an
// unknown network name.
func (h *Handler) networkOr404(w http.ResponseWriter, r *http.Request, network string, started time.Time, empty interface{}) {
	if _, err := h.store.NetworkMetadata(r.Context(), network); err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, empty, nil, started, false)
}

// Query answers an observation query.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	req, parseErr := h.parseQueryRequest(r)
	if parseErr != nil {
		respondError(w, http.StatusBadRequest, models.ErrCodeValidation, *parseErr, nil)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondJSON(w, http.StatusBadRequest, &models.APIResponse{
			Status:   "error",
			Metadata: models.Metadata{Timestamp: time.Now()},
			Error:    apiErr,
		})
		return
	}

	result, err := h.queries.Query(r.Context(), observations.Request{
		Filter: req.Filter(),
		Start:  req.Start,
		End:    req.End,
		Geom:   req.Geom,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, result, req.echo(), started, false)
}

// Aggregate answers a bucketed aggregate query.
func (h *Handler) Aggregate(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	req, parseErr := h.parseAggregateRequest(r)
	if parseErr != nil {
		respondError(w, http.StatusBadRequest, models.ErrCodeValidation, *parseErr, nil)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondJSON(w, http.StatusBadRequest, &models.APIResponse{
			Status:   "error",
			Metadata: models.Metadata{Timestamp: time.Now()},
			Error:    apiErr,
		})
		return
	}

	rows, err := h.aggregates.Aggregate(r.Context(), aggregate.Request{
		Filter: req.Filter(),
		Start:  req.Start,
		End:    req.End,
		Fn:     req.Function,
		Bucket: req.Bucket,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, rows, req.echo(), started, false)
}

// downloadResponse is the ticket envelope returned by Download.
type downloadResponse struct {
	Ticket string `json:"ticket"`
	URL    string `json:"url"`
}

// Download creates an export ticket and queues the job.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	req, parseErr := h.parseQueryRequest(r)
	if parseErr != nil {
		respondError(w, http.StatusBadRequest, models.ErrCodeValidation, *parseErr, nil)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondJSON(w, http.StatusBadRequest, &models.APIResponse{
			Status:   "error",
			Metadata: models.Metadata{Timestamp: time.Now()},
			Error:    apiErr,
		})
		return
	}

	ticket := jobs.NewTicket()
	meta := models.JobMeta{
		StartTime: req.Start.Format(timeLayouts[0]),
		EndTime:   req.End.Format(timeLayouts[0]),
	}
	if err := h.jobStore.SetStatus(ticket, models.JobStatus{
		State: models.JobStateQueued,
		Meta:  meta,
	}); err != nil {
		respondDomainError(w, err)
		return
	}

	if err := h.enqueuer.Enqueue(r.Context(), export.Request{
		Ticket:    ticket,
		Network:   req.Network,
		Nodes:     req.Nodes,
		Sensors:   req.Sensors,
		Features:  req.Features,
		StartTime: meta.StartTime,
		EndTime:   meta.EndTime,
		Geom:      req.Geom,
	}); err != nil {
		respondError(w, http.StatusServiceUnavailable, models.ErrCodePersistence,
			"export queue unavailable", err)
		return
	}

	respondData(w, downloadResponse{
		Ticket: ticket,
		URL:    "/v1/api/jobs/" + ticket,
	}, req.echo(), started, false)
}

// JobStatus returns the polled status of one export ticket.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ticket := chi.URLParam(r, "ticket")

	status, err := h.jobStore.GetStatus(ticket)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, status, nil, started, false)
}

// datadumpSummaryResponse describes a completed export.
type datadumpSummaryResponse struct {
	Ticket  string              `json:"ticket"`
	Total   int                 `json:"total_parts"`
	Summary models.ExportSummary `json:"summary"`
}

// datadumpPartResponse is one retrieved chunk with its decoded rows.
type datadumpPartResponse struct {
	Ticket string          `json:"ticket"`
	Part   int             `json:"part"`
	Total  int             `json:"total_parts"`
	Data   json.RawMessage `json:"data"`
}

// Datadump retrieves a completed export: the summary by default, or one data
// part when ?part=N is given. Responses are cached since parts are immutable
// once written.
func (h *Handler) Datadump(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ticket := chi.URLParam(r, "ticket")

	part, err := getIntParam(r, "part", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, models.ErrCodeValidation, err.Error(), nil)
		return
	}
	if part < 0 {
		respondError(w, http.StatusBadRequest, models.ErrCodeValidation, "part must be positive", nil)
		return
	}

	key := cache.GenerateKey("datadump", map[string]interface{}{"ticket": ticket, "part": part})
	if cached, ok := h.cache.Get(key); ok {
		metrics.RecordCacheLookup("download", true)
		respondData(w, cached, nil, started, true)
		return
	}
	metrics.RecordCacheLookup("download", false)

	summary, err := h.store.DatadumpSummary(r.Context(), ticket)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if part == 0 {
		summaryPart, err := h.store.DatadumpPart(r.Context(), ticket, 0)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		resp := datadumpSummaryResponse{Ticket: ticket, Total: summaryPart.Total, Summary: summary}
		h.cache.SetWithTTL(key, resp, h.cfg.Cache.DownloadTTL)
		respondData(w, resp, nil, started, false)
		return
	}

	p, err := h.store.DatadumpPart(r.Context(), ticket, part)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	resp := datadumpPartResponse{Ticket: ticket, Part: p.Part, Total: p.Total, Data: json.RawMessage(p.Data)}
	h.cache.SetWithTTL(key, resp, h.cfg.Cache.DownloadTTL)
	respondData(w, resp, nil, started, false)
}

// Health reports liveness and database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":   "ok",
		"database": "ok",
	}
	code := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		status["status"] = "degraded"
		status["database"] = "unreachable"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, &models.APIResponse{
		Status:   "success",
		Data:     status,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}
