// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package api

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sensoria/internal/aggregate"
	"github.com/tomtom215/sensoria/internal/cache"
	"github.com/tomtom215/sensoria/internal/config"
	"github.com/tomtom215/sensoria/internal/export"
	"github.com/tomtom215/sensoria/internal/jobs"
	"github.com/tomtom215/sensoria/internal/models"
	"github.com/tomtom215/sensoria/internal/observations"
	"github.com/tomtom215/sensoria/internal/resolve"
)

type fakeMetaStore struct {
	summaries map[string]models.ExportSummary
	parts     map[string]map[int]models.DatadumpPart
	pingErr   error
}

func (f *fakeMetaStore) Networks(context.Context) ([]models.Network, error) {
	return []models.Network{{Name: "array_of_things"}}, nil
}

func (f *fakeMetaStore) NetworkMetadata(_ context.Context, name string) (models.NetworkMetadata, error) {
	if strings.ToLower(name) != "array_of_things" {
		return models.NetworkMetadata{}, sql.ErrNoRows
	}
	return models.NetworkMetadata{
		Name:               "array_of_things",
		Nodes:              []string{"004e", "005a"},
		Sensors:            []string{"hih4030", "tmp112"},
		FeaturesOfInterest: []string{"relative_humidity", "temperature"},
	}, nil
}

func (f *fakeMetaStore) NodesByNetwork(_ context.Context, network string) ([]models.Node, error) {
	if strings.ToLower(network) != "array_of_things" {
		return nil, nil
	}
	return []models.Node{
		{ID: "004e", Network: "array_of_things", Latitude: 41.8781, Longitude: -87.6298, Sensors: []string{"tmp112", "hih4030"}},
		{ID: "005a", Network: "array_of_things", Latitude: 41.9484, Longitude: -87.6553, Sensors: []string{"tmp112"}},
	}, nil
}

func (f *fakeMetaStore) SensorsByNetwork(_ context.Context, network string) ([]models.Sensor, error) {
	if strings.ToLower(network) != "array_of_things" {
		return nil, nil
	}
	return []models.Sensor{
		{Name: "tmp112", ObservedProperties: map[string]string{"temperature": "temperature.temperature"}},
		{Name: "hih4030", ObservedProperties: map[string]string{"humidity": "relative_humidity.humidity"}},
	}, nil
}

func (f *fakeMetaStore) FeaturesByNetwork(_ context.Context, network string) ([]models.FeatureOfInterest, error) {
	if strings.ToLower(network) != "array_of_things" {
		return nil, nil
	}
	return []models.FeatureOfInterest{
		{Name: "relative_humidity", ObservedProperties: map[string]string{"humidity": "humidity"}},
		{Name: "temperature", ObservedProperties: map[string]string{"temperature": "temperature"}},
	}, nil
}

func (f *fakeMetaStore) DatadumpSummary(_ context.Context, ticket string) (models.ExportSummary, error) {
	s, ok := f.summaries[ticket]
	if !ok {
		return models.ExportSummary{}, sql.ErrNoRows
	}
	return s, nil
}

func (f *fakeMetaStore) DatadumpPart(_ context.Context, ticket string, part int) (models.DatadumpPart, error) {
	p, ok := f.parts[ticket][part]
	if !ok {
		return models.DatadumpPart{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeMetaStore) Ping(context.Context) error { return f.pingErr }

type fakeQueries struct {
	result []models.Observation
	err    error
	last   observations.Request
}

func (f *fakeQueries) Query(_ context.Context, req observations.Request) ([]models.Observation, error) {
	f.last = req
	return f.result, f.err
}

type fakeAggregates struct {
	result []models.AggregateRow
	err    error
	last   aggregate.Request
}

func (f *fakeAggregates) Aggregate(_ context.Context, req aggregate.Request) ([]models.AggregateRow, error) {
	f.last = req
	return f.result, f.err
}

type fakeJobStore struct {
	statuses map[string]models.JobStatus
}

func (f *fakeJobStore) GetStatus(ticket string) (models.JobStatus, error) {
	s, ok := f.statuses[ticket]
	if !ok {
		return models.JobStatus{}, jobs.ErrTicketNotFound
	}
	return s, nil
}

func (f *fakeJobStore) SetStatus(ticket string, status models.JobStatus) error {
	if f.statuses == nil {
		f.statuses = make(map[string]models.JobStatus)
	}
	status.Ticket = ticket
	f.statuses[ticket] = status
	return nil
}

type fakeEnqueuer struct {
	requests []export.Request
	err      error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, req export.Request) error {
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	return nil
}

type testEnv struct {
	store      *fakeMetaStore
	queries    *fakeQueries
	aggregates *fakeAggregates
	jobStore   *fakeJobStore
	enqueuer   *fakeEnqueuer
	router     http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:      &fakeMetaStore{},
		queries:    &fakeQueries{},
		aggregates: &fakeAggregates{},
		jobStore:   &fakeJobStore{},
		enqueuer:   &fakeEnqueuer{},
	}
	cfg := config.Default()
	handler := NewHandler(env.store, env.queries, env.aggregates, env.jobStore, env.enqueuer, cache.Nop{}, cfg)
	env.router = NewRouter(handler, cfg)
	return env
}

func doRequest(t *testing.T, router http.Handler, path string) (*httptest.ResponseRecorder, models.APIResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not decodable: %v\n%s", err, rec.Body.String())
	}
	return rec, resp
}

func TestListNetworks(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := doRequest(t, env.router, "/v1/api/sensor-networks/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Status != "success" {
		t.Errorf("expected success, got %q", resp.Status)
	}

	data, ok := resp.Data.([]interface{})
	if !ok || len(data) != 1 {
		t.Fatalf("expected 1 network, got %v", resp.Data)
	}
}

func TestGetNetworkNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := doRequest(t, env.router, "/v1/api/sensor-networks/nope/")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != models.ErrCodeNotFound {
		t.Errorf("expected NOT_FOUND, got %+v", resp.Error)
	}
}

func TestListNodesAndSensors(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := doRequest(t, env.router, "/v1/api/sensor-networks/array_of_things/nodes")
	if rec.Code != http.StatusOK {
		t.Fatalf("nodes: expected 200, got %d", rec.Code)
	}
	nodes, ok := resp.Data.([]interface{})
	if !ok || len(nodes) != 2 {
		t.Fatalf("expected 2 node features, got %v", resp.Data)
	}
	feature := nodes[0].(map[string]interface{})
	if feature["type"] != "Feature" {
		t.Errorf("expected a GeoJSON Feature, got %v", feature)
	}
	geometry := feature["geometry"].(map[string]interface{})
	if geometry["type"] != "Point" {
		t.Errorf("expected a Point geometry, got %v", geometry)
	}
	coords := geometry["coordinates"].([]interface{})
	if coords[0] != -87.6298 || coords[1] != 41.8781 {
		t.Errorf("expected [longitude, latitude] coordinates, got %v", coords)
	}
	props := feature["properties"].(map[string]interface{})
	if props["id"] != "004e" {
		t.Errorf("expected node id in properties, got %v", props)
	}
	if sensors, ok := props["sensors"].([]interface{}); !ok || len(sensors) != 2 {
		t.Errorf("expected deployed sensors in properties, got %v", props["sensors"])
	}

	rec, resp = doRequest(t, env.router, "/v1/api/sensor-networks/array_of_things/sensors")
	if rec.Code != http.StatusOK {
		t.Fatalf("sensors: expected 200, got %d", rec.Code)
	}
	sensors, ok := resp.Data.([]interface{})
	if !ok || len(sensors) != 2 {
		t.Fatalf("expected 2 sensors, got %v", resp.Data)
	}
	first := sensors[0].(map[string]interface{})
	if _, ok := first["observed_properties"]; !ok {
		t.Errorf("expected flattened observed_properties, got %v", first)
	}
}

func TestQueryEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.queries.result = []models.Observation{
		{
			NodeID:            "004e",
			Datetime:          "2026-01-01T10:00:00",
			Sensor:            "tmp112",
			FeatureOfInterest: "temperature",
			Results:           map[string]interface{}{"temperature": 20.5},
		},
	}

	rec, resp := doRequest(t, env.router,
		"/v1/api/sensor-networks/array_of_things/query?nodes=004E,005a&limit=50")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if env.queries.last.Limit != 50 {
		t.Errorf("expected limit 50 passed through, got %d", env.queries.last.Limit)
	}
	if got := env.queries.last.Filter.Nodes; len(got) != 2 || got[0] != "004e" {
		t.Errorf("expected lower-cased node list, got %v", got)
	}
	if resp.Metadata.Query["network"] != "array_of_things" {
		t.Errorf("expected echoed query args, got %v", resp.Metadata.Query)
	}

	data, ok := resp.Data.([]interface{})
	if !ok || len(data) != 1 {
		t.Fatalf("expected 1 observation, got %v", resp.Data)
	}
}

func TestQueryEmptyResolutionIs400(t *testing.T) {
	env := newTestEnv(t)
	env.queries.err = &resolve.EmptyError{Level: resolve.LevelNodes, Values: []string{"zzz"}}

	rec, resp := doRequest(t, env.router,
		"/v1/api/sensor-networks/array_of_things/query?nodes=zzz")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != models.ErrCodeEmptyResolution {
		t.Errorf("expected EMPTY_RESOLUTION, got %+v", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "zzz") {
		t.Errorf("expected offending value in message, got %q", resp.Error.Message)
	}
}

func TestQueryBadDatetimeIs400(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := doRequest(t, env.router,
		"/v1/api/sensor-networks/array_of_things/query?start_datetime=tomorrow")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != models.ErrCodeValidation {
		t.Errorf("expected VALIDATION_ERROR, got %+v", resp.Error)
	}
}

func TestQueryInvertedWindowIs400(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := doRequest(t, env.router,
		"/v1/api/sensor-networks/array_of_things/query?start_datetime=2026-02-01&end_datetime=2026-01-01")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestQueryLimitCapped(t *testing.T) {
	env := newTestEnv(t)

	doRequest(t, env.router,
		"/v1/api/sensor-networks/array_of_things/query?limit=999999")
	if env.queries.last.Limit != config.Default().API.MaxLimit {
		t.Errorf("expected limit capped at %d, got %d",
			config.Default().API.MaxLimit, env.queries.last.Limit)
	}
}

func TestAggregateRejectsUnknownFunction(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := doRequest(t, env.router,
		"/v1/api/sensor-networks/array_of_things/aggregate?node=004e&function=median")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Error == nil || resp.Error.Code != models.ErrCodeValidation {
		t.Errorf("expected VALIDATION_ERROR, got %+v", resp.Error)
	}
}

func TestAggregateUnprocessableIs422(t *testing.T) {
	env := newTestEnv(t)
	env.aggregates.err = &aggregate.UnprocessableError{Reason: "no observations in the requested window"}

	rec, resp := doRequest(t, env.router,
		"/v1/api/sensor-networks/array_of_things/aggregate?node=004e")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != models.ErrCodeUnprocessable {
		t.Errorf("expected UNPROCESSABLE, got %+v", resp.Error)
	}
}

func TestAggregateRequiresNode(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := doRequest(t, env.router,
		"/v1/api/sensor-networks/array_of_things/aggregate")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Error == nil || resp.Error.Code != models.ErrCodeValidation {
		t.Errorf("expected VALIDATION_ERROR, got %+v", resp.Error)
	}
}

func TestAggregateScopedToSingleNode(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := doRequest(t, env.router,
		"/v1/api/sensor-networks/array_of_things/aggregate?node=004E")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := env.aggregates.last.Filter.Nodes; len(got) != 1 || got[0] != "004e" {
		t.Errorf("expected the aggregate scoped to one lower-cased node, got %v", got)
	}
}

func TestQueryGeomWrapperNormalizedToFirstFragment(t *testing.T) {
	env := newTestEnv(t)

	geom := `{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[0,1],[1,1],[0,0]]]},"properties":{}}`
	rec, _ := doRequest(t, env.router,
		"/v1/api/sensor-networks/array_of_things/query?geom="+url.QueryEscape(geom))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	want := `{"type":"Polygon","coordinates":[[[0,0],[0,1],[1,1],[0,0]]]}`
	if env.queries.last.Geom != want {
		t.Errorf("expected the bare first fragment passed through, got %q", env.queries.last.Geom)
	}
}

func TestQueryMalformedGeomIs400(t *testing.T) {
	env := newTestEnv(t)

	geom := `{"type":"FeatureCollection","features":[]}`
	rec, resp := doRequest(t, env.router,
		"/v1/api/sensor-networks/array_of_things/query?geom="+url.QueryEscape(geom))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Error == nil || resp.Error.Code != models.ErrCodeValidation {
		t.Errorf("expected VALIDATION_ERROR, got %+v", resp.Error)
	}
}

func TestDownloadCreatesTicketAndQueuesJob(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := doRequest(t, env.router,
		"/v1/api/sensor-networks/array_of_things/download?features=temperature")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	data := resp.Data.(map[string]interface{})
	ticket, _ := data["ticket"].(string)
	if ticket == "" {
		t.Fatal("expected a ticket in the response")
	}
	if url, _ := data["url"].(string); url != "/v1/api/jobs/"+ticket {
		t.Errorf("unexpected polling url: %q", url)
	}

	if len(env.enqueuer.requests) != 1 {
		t.Fatalf("expected 1 queued request, got %d", len(env.enqueuer.requests))
	}
	queued := env.enqueuer.requests[0]
	if queued.Ticket != ticket || queued.Network != "array_of_things" {
		t.Errorf("unexpected queued request: %+v", queued)
	}
	if len(queued.Features) != 1 || queued.Features[0] != "temperature" {
		t.Errorf("expected feature filter on queued request: %+v", queued)
	}

	status, err := env.jobStore.GetStatus(ticket)
	if err != nil {
		t.Fatalf("expected queued status, got %v", err)
	}
	if status.State != models.JobStateQueued {
		t.Errorf("expected queued state, got %q", status.State)
	}
}

func TestDownloadQueueUnavailableIs503(t *testing.T) {
	env := newTestEnv(t)
	env.enqueuer.err = context.DeadlineExceeded

	rec, resp := doRequest(t, env.router,
		"/v1/api/sensor-networks/array_of_things/download")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != models.ErrCodePersistence {
		t.Errorf("expected PERSISTENCE_ERROR, got %+v", resp.Error)
	}
}

func TestJobStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	_ = env.jobStore.SetStatus("t-123", models.JobStatus{
		State:    models.JobStateProcessing,
		Progress: &models.JobProgress{Done: 1, Total: 3},
	})

	rec, resp := doRequest(t, env.router, "/v1/api/jobs/t-123")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := resp.Data.(map[string]interface{})
	if data["state"] != models.JobStateProcessing {
		t.Errorf("unexpected state: %v", data["state"])
	}

	rec, resp = doRequest(t, env.router, "/v1/api/jobs/unknown")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != models.ErrCodeNotFound {
		t.Errorf("expected NOT_FOUND, got %+v", resp.Error)
	}
}

func TestDatadumpRetrieval(t *testing.T) {
	env := newTestEnv(t)
	env.store.summaries = map[string]models.ExportSummary{
		"t-1": {StartTime: "2026-01-01T00:00:00", EndTime: "2026-02-01T00:00:00", Features: []string{"temperature"}},
	}
	env.store.parts = map[string]map[int]models.DatadumpPart{
		"t-1": {
			0: {Ticket: "t-1", Part: 0, Total: 2, Data: []byte(`{}`)},
			1: {Ticket: "t-1", Part: 1, Total: 2, Data: []byte(`[{"node_id":"004e"}]`)},
		},
	}

	rec, resp := doRequest(t, env.router, "/v1/api/datadump/t-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("summary: expected 200, got %d", rec.Code)
	}
	summary := resp.Data.(map[string]interface{})
	if summary["total_parts"] != float64(2) {
		t.Errorf("expected total_parts 2, got %v", summary["total_parts"])
	}

	rec, resp = doRequest(t, env.router, "/v1/api/datadump/t-1?part=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("part: expected 200, got %d", rec.Code)
	}
	part := resp.Data.(map[string]interface{})
	rows, ok := part["data"].([]interface{})
	if !ok || len(rows) != 1 {
		t.Errorf("expected decoded part rows, got %v", part["data"])
	}

	rec, _ = doRequest(t, env.router, "/v1/api/datadump/t-1?part=9")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing part: expected 404, got %d", rec.Code)
	}

	rec, _ = doRequest(t, env.router, "/v1/api/datadump/unknown")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown ticket: expected 404, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := doRequest(t, env.router, "/v1/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	env.store.pingErr = sql.ErrConnDone
	rec, _ = doRequest(t, env.router, "/v1/api/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when database unreachable, got %d", rec.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := doRequest(t, env.router, "/v1/api/nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != models.ErrCodeNotFound {
		t.Errorf("expected NOT_FOUND envelope, got %+v", resp.Error)
	}
}
