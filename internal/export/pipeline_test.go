// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package export

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sensoria/internal/config"
	"github.com/tomtom215/sensoria/internal/database/query"
	"github.com/tomtom215/sensoria/internal/models"
	"github.com/tomtom215/sensoria/internal/resolve"
)

type fakeSource struct {
	rows map[string][]map[string]interface{}
	geom string
}

func (f *fakeSource) CountObservations(_ context.Context, feature string, _ *query.WhereBuilder) (int64, error) {
	return int64(len(f.rows[feature])), nil
}

func (f *fakeSource) StreamObservationRows(_ context.Context, feature string, _ *query.WhereBuilder, yield func(map[string]interface{}) error) error {
	for _, row := range f.rows[feature] {
		if err := yield(row); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSource) NodesWithin(_ context.Context, _, geojson string) ([]string, error) {
	f.geom = geojson
	return []string{"004e"}, nil
}

type fakePartStore struct {
	parts      []models.DatadumpPart
	summaries  []models.ExportSummary
	totals     []int
	failOnPart int
	attempts   int
}

func (f *fakePartStore) InsertDatadumpPart(_ context.Context, part models.DatadumpPart) error {
	f.attempts++
	if f.failOnPart > 0 && part.Part == f.failOnPart {
		return errors.New("disk full")
	}
	f.parts = append(f.parts, part)
	return nil
}

func (f *fakePartStore) InsertDatadumpSummary(_ context.Context, _, _ string, total int, summary models.ExportSummary) error {
	f.summaries = append(f.summaries, summary)
	f.totals = append(f.totals, total)
	return nil
}

type fakeStatus struct {
	statuses []models.JobStatus
	flags    map[string]time.Duration
}

func (f *fakeStatus) SetStatus(ticket string, status models.JobStatus) error {
	status.Ticket = ticket
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeStatus) SetFlag(name string, value bool, ttl time.Duration) error {
	if f.flags == nil {
		f.flags = make(map[string]time.Duration)
	}
	if value {
		f.flags[name] = ttl
	}
	return nil
}

type fakeMeta struct{}

func (fakeMeta) Network(_ context.Context, name string) (models.Network, error) {
	if name != "array_of_things" {
		return models.Network{}, sql.ErrNoRows
	}
	return models.Network{Name: "array_of_things"}, nil
}

func (fakeMeta) NodesByNetwork(context.Context, string) ([]models.Node, error) {
	return []models.Node{{ID: "004e", Sensors: []string{"tmp112"}}}, nil
}

func (fakeMeta) SensorsByNetwork(context.Context, string) ([]models.Sensor, error) {
	return []models.Sensor{
		{Name: "tmp112", ObservedProperties: map[string]string{"temperature": "temperature.temperature"}},
	}, nil
}

func makeRows(n int) []map[string]interface{} {
	rows := make([]map[string]interface{}, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range rows {
		rows[i] = map[string]interface{}{
			"node_id":     "004e",
			"datetime":    base.Add(time.Duration(i) * time.Minute),
			"meta_id":     int64(i + 1),
			"sensor":      "tmp112",
			"temperature": 20.0,
		}
	}
	return rows
}

func newTestPipeline(source *fakeSource, parts *fakePartStore, status *fakeStatus, chunkSize int) *Pipeline {
	cfg := &config.ExportConfig{ChunkSize: chunkSize, BreakerMaxFailures: 5}
	return NewPipeline(source, parts, status, resolve.New(fakeMeta{}), cfg, 3*time.Hour, "worker-test")
}

func baseRequest(ticket string) Request {
	return Request{
		Ticket:    ticket,
		Network:   "array_of_things",
		StartTime: "2026-01-01T00:00:00",
		EndTime:   "2026-02-01T00:00:00",
	}
}

func TestExactMultipleOfChunkSizeYieldsFullParts(t *testing.T) {
	source := &fakeSource{rows: map[string][]map[string]interface{}{
		"temperature": makeRows(9),
	}}
	parts := &fakePartStore{}
	status := &fakeStatus{}

	err := newTestPipeline(source, parts, status, 3).Run(context.Background(), baseRequest("t1"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(parts.parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts.parts))
	}
	for i, p := range parts.parts {
		if p.Part != i+1 || p.Total != 3 {
			t.Errorf("unexpected part numbering: %+v", p)
		}
		var obs []models.Observation
		if err := json.Unmarshal(p.Data, &obs); err != nil {
			t.Fatalf("part %d not decodable: %v", p.Part, err)
		}
		if len(obs) != 3 {
			t.Errorf("part %d: expected 3 observations, got %d", p.Part, len(obs))
		}
	}
}

func TestOneRowOverChunkSizeYieldsShortFinalPart(t *testing.T) {
	source := &fakeSource{rows: map[string][]map[string]interface{}{
		"temperature": makeRows(4),
	}}
	parts := &fakePartStore{}
	status := &fakeStatus{}

	if err := newTestPipeline(source, parts, status, 3).Run(context.Background(), baseRequest("t2")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(parts.parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts.parts))
	}

	var first, second []models.Observation
	if err := json.Unmarshal(parts.parts[0].Data, &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(parts.parts[1].Data, &second); err != nil {
		t.Fatal(err)
	}
	if len(first) != 3 || len(second) != 1 {
		t.Errorf("expected parts of 3 and 1, got %d and %d", len(first), len(second))
	}
	if parts.parts[0].Total != 2 || parts.parts[1].Total != 2 {
		t.Errorf("expected total 2 on every part, got %+v", parts.parts)
	}
}

func TestProgressAndSuppressFlagPerPart(t *testing.T) {
	source := &fakeSource{rows: map[string][]map[string]interface{}{
		"temperature": makeRows(6),
	}}
	parts := &fakePartStore{}
	status := &fakeStatus{}

	if err := newTestPipeline(source, parts, status, 3).Run(context.Background(), baseRequest("t3")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// processing(0/2), processing(1/2), processing(2/2), success(2/2)
	if len(status.statuses) != 4 {
		t.Fatalf("expected 4 status writes, got %d: %+v", len(status.statuses), status.statuses)
	}
	for i, want := range []struct {
		state string
		done  int
	}{
		{models.JobStateProcessing, 0},
		{models.JobStateProcessing, 1},
		{models.JobStateProcessing, 2},
		{models.JobStateSuccess, 2},
	} {
		got := status.statuses[i]
		if got.State != want.state || got.Progress.Done != want.done || got.Progress.Total != 2 {
			t.Errorf("status %d: expected %s %d/2, got %+v", i, want.state, want.done, got)
		}
	}

	ttl, ok := status.flags["t3_suppresscleanup"]
	if !ok {
		t.Fatal("expected suppress-cleanup flag to be set")
	}
	if ttl != 3*time.Hour {
		t.Errorf("expected 3h flag TTL, got %v", ttl)
	}

	if len(parts.summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(parts.summaries))
	}
	summary := parts.summaries[0]
	if summary.StartTime != "2026-01-01T00:00:00" || summary.EndTime != "2026-02-01T00:00:00" {
		t.Errorf("unexpected summary window: %+v", summary)
	}
	if len(summary.Workers) != 1 || summary.Workers[0] != "worker-test" {
		t.Errorf("unexpected summary workers: %+v", summary.Workers)
	}
	if len(summary.Features) != 1 || summary.Features[0] != "temperature" {
		t.Errorf("unexpected summary features: %+v", summary.Features)
	}
	if parts.totals[0] != 2 {
		t.Errorf("expected summary total 2, got %d", parts.totals[0])
	}
}

func TestPersistFailureMarksTicketFailed(t *testing.T) {
	source := &fakeSource{rows: map[string][]map[string]interface{}{
		"temperature": makeRows(6),
	}}
	parts := &fakePartStore{failOnPart: 2}
	status := &fakeStatus{}

	err := newTestPipeline(source, parts, status, 3).Run(context.Background(), baseRequest("t4"))
	if err == nil {
		t.Fatal("expected persistence failure to propagate")
	}

	last := status.statuses[len(status.statuses)-1]
	if last.State != models.JobStateError {
		t.Errorf("expected error state, got %+v", last)
	}
	if last.Error == "" {
		t.Error("expected error message on failed ticket")
	}
	if len(parts.parts) != 1 {
		t.Errorf("expected only the first part persisted, got %d", len(parts.parts))
	}
}

func TestEmptyResolutionMarksTicketFailed(t *testing.T) {
	source := &fakeSource{rows: map[string][]map[string]interface{}{}}
	parts := &fakePartStore{}
	status := &fakeStatus{}

	req := baseRequest("t5")
	req.Nodes = []string{"zzz"}

	err := newTestPipeline(source, parts, status, 3).Run(context.Background(), req)
	var empty *resolve.EmptyError
	if !errors.As(err, &empty) {
		t.Fatalf("expected EmptyError, got %v", err)
	}

	last := status.statuses[len(status.statuses)-1]
	if last.State != models.JobStateError {
		t.Errorf("expected error state, got %+v", last)
	}
}

func TestEmptyWindowStillWritesSummary(t *testing.T) {
	source := &fakeSource{rows: map[string][]map[string]interface{}{
		"temperature": {},
	}}
	parts := &fakePartStore{}
	status := &fakeStatus{}

	if err := newTestPipeline(source, parts, status, 3).Run(context.Background(), baseRequest("t6")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(parts.parts) != 0 {
		t.Errorf("expected no data parts, got %d", len(parts.parts))
	}
	if len(parts.summaries) != 1 || parts.totals[0] != 0 {
		t.Errorf("expected zero-total summary, got %+v %v", parts.summaries, parts.totals)
	}
	last := status.statuses[len(status.statuses)-1]
	if last.State != models.JobStateSuccess || last.Progress.Total != 0 {
		t.Errorf("expected success 0/0, got %+v", last)
	}
}

func TestPartsSpanFeatureBoundaries(t *testing.T) {
	// Two features with three rows each and chunk size 4: the first part
	// carries rows from both features.
	source := &fakeSource{rows: map[string][]map[string]interface{}{
		"temperature":       makeRows(3),
		"relative_humidity": makeRows(3),
	}}
	parts := &fakePartStore{}
	status := &fakeStatus{}

	pipeline := NewPipeline(source, parts, status, resolve.New(twoFeatureMeta{}),
		&config.ExportConfig{ChunkSize: 4}, time.Hour, "worker-test")
	if err := pipeline.Run(context.Background(), baseRequest("t7")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(parts.parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts.parts))
	}
	var first []models.Observation
	if err := json.Unmarshal(parts.parts[0].Data, &first); err != nil {
		t.Fatal(err)
	}
	features := make(map[string]bool)
	for _, obs := range first {
		features[obs.FeatureOfInterest] = true
	}
	if len(first) != 4 || len(features) != 2 {
		t.Errorf("expected first part to span both features, got %d rows %v", len(first), features)
	}
}

func TestGeomWrapperUnwrappedBeforeSpatialFilter(t *testing.T) {
	source := &fakeSource{rows: map[string][]map[string]interface{}{
		"temperature": makeRows(2),
	}}
	parts := &fakePartStore{}
	status := &fakeStatus{}

	req := baseRequest("t8")
	req.Geom = `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[0,1],[1,1],[0,0]]]},"properties":{}}]}`

	if err := newTestPipeline(source, parts, status, 3).Run(context.Background(), req); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := `{"type":"Polygon","coordinates":[[[0,0],[0,1],[1,1],[0,0]]]}`
	if source.geom != want {
		t.Errorf("expected the bare first fragment at the spatial filter, got %q", source.geom)
	}
}

func TestBreakerReopensAfterConfiguredTimeout(t *testing.T) {
	source := &fakeSource{rows: map[string][]map[string]interface{}{
		"temperature": makeRows(1),
	}}
	parts := &fakePartStore{failOnPart: 1}
	status := &fakeStatus{}

	cfg := &config.ExportConfig{ChunkSize: 1, BreakerMaxFailures: 1, BreakerTimeout: 25 * time.Millisecond}
	pipeline := NewPipeline(source, parts, status, resolve.New(fakeMeta{}), cfg, time.Hour, "worker-test")

	if err := pipeline.Run(context.Background(), baseRequest("t9")); err == nil {
		t.Fatal("expected first run to fail")
	}
	if parts.attempts != 1 {
		t.Fatalf("expected one persistence attempt, got %d", parts.attempts)
	}

	// Tripped breaker sheds the write without touching the store.
	if err := pipeline.Run(context.Background(), baseRequest("t9")); err == nil {
		t.Fatal("expected run to fail while the breaker is open")
	}
	if parts.attempts != 1 {
		t.Errorf("expected open breaker to shed the write, got %d attempts", parts.attempts)
	}

	time.Sleep(50 * time.Millisecond)
	if err := pipeline.Run(context.Background(), baseRequest("t9")); err == nil {
		t.Fatal("expected run to fail")
	}
	if parts.attempts != 2 {
		t.Errorf("expected a fresh attempt after the configured timeout, got %d", parts.attempts)
	}
}

type twoFeatureMeta struct{}

func (twoFeatureMeta) Network(_ context.Context, name string) (models.Network, error) {
	if name != "array_of_things" {
		return models.Network{}, sql.ErrNoRows
	}
	return models.Network{Name: "array_of_things"}, nil
}

func (twoFeatureMeta) NodesByNetwork(context.Context, string) ([]models.Node, error) {
	return []models.Node{{ID: "004e", Sensors: []string{"tmp112", "hih4030"}}}, nil
}

func (twoFeatureMeta) SensorsByNetwork(context.Context, string) ([]models.Sensor, error) {
	return []models.Sensor{
		{Name: "tmp112", ObservedProperties: map[string]string{"temperature": "temperature.temperature"}},
		{Name: "hih4030", ObservedProperties: map[string]string{"humidity": "relative_humidity.humidity"}},
	}, nil
}
