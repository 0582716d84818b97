// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

// Package metrics exposes Prometheus instrumentation for the query API, the
// DuckDB layer, the response cache and the export pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Database metrics.
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sensoria_duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "feature"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensoria_duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "feature"},
	)

	// API endpoint metrics.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensoria_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sensoria_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensoria_api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensoria_api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Response cache metrics.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensoria_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensoria_cache_misses_total",
			Help: "Total number of response cache misses",
		},
		[]string{"cache_type"},
	)

	// Export pipeline metrics.
	ExportJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensoria_export_jobs_total",
			Help: "Total number of export jobs by outcome",
		},
		[]string{"outcome"}, // "success", "error"
	)

	ExportJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sensoria_export_job_duration_seconds",
			Help:    "Duration of export jobs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	ExportPartsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensoria_export_parts_persisted_total",
			Help: "Total number of export chunks written",
		},
	)

	ExportRowsStreamed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensoria_export_rows_streamed_total",
			Help: "Total number of observation rows streamed into exports",
		},
	)
)

// RecordDBQuery observes one database query.
func RecordDBQuery(operation, feature string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, feature).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, feature).Inc()
	}
}

// RecordAPIRequest observes one completed HTTP request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordCacheLookup observes one cache lookup.
func RecordCacheLookup(cacheType string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(cacheType).Inc()
	} else {
		CacheMisses.WithLabelValues(cacheType).Inc()
	}
}

// RecordExportJob observes one finished export job.
func RecordExportJob(duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	ExportJobsTotal.WithLabelValues(outcome).Inc()
	ExportJobDuration.Observe(duration.Seconds())
}
