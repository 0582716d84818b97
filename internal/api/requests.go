// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/sensoria/internal/models"
	"github.com/tomtom215/sensoria/internal/resolve"
)

// ObservationQueryRequest carries the validated arguments of a /query call.
type ObservationQueryRequest struct {
	Network  string   `validate:"required"`
	Nodes    []string `validate:"omitempty,dive,min=1"`
	Sensors  []string `validate:"omitempty,dive,min=1"`
	Features []string `validate:"omitempty,dive,min=1"`
	Geom     string   `validate:"omitempty,geojson"`
	Limit    int      `validate:"min=0"`
	Offset   int      `validate:"min=0"`

	Start time.Time
	End   time.Time
}

// Filter converts the request into a resolver filter.
func (q ObservationQueryRequest) Filter() resolve.Filter {
	return resolve.Filter{
		Network:  q.Network,
		Nodes:    q.Nodes,
		Sensors:  q.Sensors,
		Features: q.Features,
	}
}

// echo returns the validated arguments for the response metadata block.
func (q ObservationQueryRequest) echo() map[string]interface{} {
	out := map[string]interface{}{
		"network":        q.Network,
		"start_datetime": q.Start.Format(timeLayouts[0]),
		"end_datetime":   q.End.Format(timeLayouts[0]),
	}
	if len(q.Nodes) > 0 {
		out["nodes"] = q.Nodes
	}
	if len(q.Sensors) > 0 {
		out["sensors"] = q.Sensors
	}
	if len(q.Features) > 0 {
		out["features"] = q.Features
	}
	if q.Geom != "" {
		out["geom"] = q.Geom
	}
	if q.Limit > 0 {
		out["limit"] = q.Limit
	}
	if q.Offset > 0 {
		out["offset"] = q.Offset
	}
	return out
}

// parseQueryRequest builds an ObservationQueryRequest from the URL, applying
// the configured defaults: a trailing query window ending now and the
// default page size, capped at the maximum.
func (h *Handler) parseQueryRequest(r *http.Request) (ObservationQueryRequest, *string) {
	req := ObservationQueryRequest{
		Network:  chi.URLParam(r, "network"),
		Nodes:    getListParam(r, "nodes"),
		Sensors:  getListParam(r, "sensors"),
		Features: getListParam(r, "features"),
		Geom:     r.URL.Query().Get("geom"),
	}

	// Multipart GeoJSON payloads honor only their first geometry fragment;
	// normalize here so downstream consumers see a bare fragment.
	if req.Geom != "" {
		fragment, err := models.ExtractFirstGeometry(req.Geom)
		if err != nil {
			return req, strPtr(err.Error())
		}
		req.Geom = fragment.String()
	}

	now := time.Now().UTC().Truncate(time.Second)
	var err error
	if req.Start, err = getTimeParam(r, "start_datetime", now.Add(-h.cfg.API.DefaultQueryWindow)); err != nil {
		return req, strPtr(err.Error())
	}
	if req.End, err = getTimeParam(r, "end_datetime", now); err != nil {
		return req, strPtr(err.Error())
	}
	if !req.End.After(req.Start) {
		return req, strPtr("end_datetime must be after start_datetime")
	}

	if req.Limit, err = getIntParam(r, "limit", h.cfg.API.DefaultLimit); err != nil {
		return req, strPtr(err.Error())
	}
	if req.Offset, err = getIntParam(r, "offset", 0); err != nil {
		return req, strPtr(err.Error())
	}
	if req.Limit > h.cfg.API.MaxLimit {
		req.Limit = h.cfg.API.MaxLimit
	}
	return req, nil
}

// AggregateQueryRequest carries the validated arguments of an /aggregate
// call. Aggregates are computed for exactly one node; the node parameter is
// mandatory so a multi-node network is never silently averaged together.
type AggregateQueryRequest struct {
	Network  string   `validate:"required"`
	Node     string   `validate:"required"`
	Sensors  []string `validate:"omitempty,dive,min=1"`
	Features []string `validate:"omitempty,dive,min=1"`
	Function string   `validate:"required,aggfunc"`
	Bucket   string   `validate:"required,aggbucket"`

	Start time.Time
	End   time.Time
}

// Filter converts the request into a resolver filter.
func (q AggregateQueryRequest) Filter() resolve.Filter {
	return resolve.Filter{
		Network:  q.Network,
		Nodes:    []string{q.Node},
		Sensors:  q.Sensors,
		Features: q.Features,
	}
}

func (q AggregateQueryRequest) echo() map[string]interface{} {
	out := map[string]interface{}{
		"network":        q.Network,
		"node":           q.Node,
		"function":       q.Function,
		"bucket":         q.Bucket,
		"start_datetime": q.Start.Format(timeLayouts[0]),
		"end_datetime":   q.End.Format(timeLayouts[0]),
	}
	if len(q.Sensors) > 0 {
		out["sensors"] = q.Sensors
	}
	if len(q.Features) > 0 {
		out["features"] = q.Features
	}
	return out
}

// parseAggregateRequest applies the aggregate defaults: avg over hourly
// buckets across the trailing aggregate window.
func (h *Handler) parseAggregateRequest(r *http.Request) (AggregateQueryRequest, *string) {
	req := AggregateQueryRequest{
		Network:  chi.URLParam(r, "network"),
		Node:     strings.ToLower(strings.TrimSpace(r.URL.Query().Get("node"))),
		Sensors:  getListParam(r, "sensors"),
		Features: getListParam(r, "features"),
		Function: r.URL.Query().Get("function"),
		Bucket:   r.URL.Query().Get("bucket"),
	}
	if req.Function == "" {
		req.Function = "avg"
	}
	if req.Bucket == "" {
		req.Bucket = "hour"
	}

	now := time.Now().UTC().Truncate(time.Second)
	var err error
	if req.Start, err = getTimeParam(r, "start_datetime", now.Add(-h.cfg.API.DefaultAggregateWindow)); err != nil {
		return req, strPtr(err.Error())
	}
	if req.End, err = getTimeParam(r, "end_datetime", now); err != nil {
		return req, strPtr(err.Error())
	}
	if !req.End.After(req.Start) {
		return req, strPtr("end_datetime must be after start_datetime")
	}
	return req, nil
}

func strPtr(s string) *string { return &s }
