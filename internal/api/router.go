// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/sensoria/internal/config"
	"github.com/tomtom215/sensoria/internal/metrics"
	"github.com/tomtom215/sensoria/internal/models"
)

// NewRouter wires the chi router: global middleware, the versioned API tree
// and the Prometheus scrape endpoint.
func NewRouter(h *Handler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.Server.Timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))
	r.Use(prometheusMiddleware)

	r.Route("/v1/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/sensor-networks", func(r chi.Router) {
			r.Get("/", h.ListNetworks)
			r.Route("/{network}", func(r chi.Router) {
				r.Get("/", h.GetNetwork)
				r.Get("/nodes", h.ListNodes)
				r.Get("/sensors", h.ListSensors)
				r.Get("/features", h.ListFeatures)
				r.Get("/query", h.Query)
				r.Get("/aggregate", h.Aggregate)

				// Download creates work; rate-limit it per client.
				r.With(downloadRateLimiter(cfg)).Get("/download", h.Download)
			})
		})

		r.Get("/jobs/{ticket}", h.JobStatus)
		r.Get("/datadump/{ticket}", h.Datadump)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, models.ErrCodeNotFound, "unknown route", nil)
	})

	return r
}

// downloadRateLimiter limits export creation per client IP.
func downloadRateLimiter(cfg *config.Config) func(http.Handler) http.Handler {
	limit := cfg.API.DownloadRateLimit
	if limit <= 0 {
		limit = 10
	}
	return httprate.Limit(
		limit,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.APIRateLimitHits.WithLabelValues(r.URL.Path).Inc()
			respondError(w, http.StatusTooManyRequests, models.ErrCodeValidation,
				"download rate limit exceeded", nil)
		}),
	)
}

// prometheusMiddleware records request counts and latency per route pattern.
func prometheusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		metrics.APIActiveRequests.Inc()
		defer metrics.APIActiveRequests.Dec()

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.RecordAPIRequest(r.Method, pattern, ww.Status(), time.Since(started))
	})
}
