// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

// Package main is the entry point for the Sensoria server.
//
// Sensoria serves observations from environmental sensor networks: network,
// node, sensor and feature metadata, filtered observation queries, bucketed
// aggregates, and asynchronous chunked exports.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: defaults, optional YAML file, SENSORIA_ environment
//     variables (Koanf v2)
//  2. Database: DuckDB with the spatial extension for node geometry filters
//  3. Job store: BadgerDB-backed export ticket tracking with TTL cleanup
//  4. Export queue: embedded NATS JetStream server (or an external broker),
//     Watermill publisher and durable queue-group subscribers
//  5. HTTP server: chi router under supervision
//
// Everything runs under a suture supervisor tree; a crashed export worker
// restarts with backoff while the API keeps serving.
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: it stops accepting
// connections, waits for in-flight requests, drains the export workers and
// the broker, then closes the job store and database.
//
// # Example Usage
//
// Standalone with the embedded broker and a seeded demo network:
//
//	export SENSORIA_DATABASE_PATH=/data/sensoria.duckdb
//	export SENSORIA_DATABASE_SEED_MOCK_DATA=true
//	./sensoria
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/sensoria/internal/aggregate"
	"github.com/tomtom215/sensoria/internal/api"
	"github.com/tomtom215/sensoria/internal/cache"
	"github.com/tomtom215/sensoria/internal/config"
	"github.com/tomtom215/sensoria/internal/database"
	"github.com/tomtom215/sensoria/internal/export"
	"github.com/tomtom215/sensoria/internal/jobs"
	"github.com/tomtom215/sensoria/internal/logging"
	"github.com/tomtom215/sensoria/internal/observations"
	"github.com/tomtom215/sensoria/internal/resolve"
	"github.com/tomtom215/sensoria/internal/supervisor"
	"github.com/tomtom215/sensoria/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Bool("embedded_broker", cfg.NATS.EmbeddedServer).
		Msg("Starting Sensoria")

	db, err := database.New(&cfg.Database, cfg.Cache.SchemaTTL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Bool("spatial", db.SpatialAvailable()).Msg("Database initialized")

	jobStore, err := jobs.NewStore(cfg.Jobs.Dir, cfg.Jobs.CleanupTTL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open job store")
	}
	defer func() {
		if err := jobStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing job store")
		}
	}()

	resolver := resolve.New(db)
	queryService := observations.New(db, resolver)
	aggregateService := aggregate.New(db, resolver)

	var responseCache cache.Store = cache.Nop{}
	if cfg.Cache.Enabled {
		responseCache = cache.New(cfg.Cache.MetadataTTL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// zerolog bridged to slog for sutureslog.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	var enqueuer api.Enqueuer = disabledEnqueuer{}
	if cfg.NATS.Enabled {
		enqueuer = wireExportQueue(ctx, cfg, db, jobStore, resolver, tree)
	} else {
		logging.Warn().Msg("Export queue disabled; /download will be rejected")
	}

	handler := api.NewHandler(db, queryService, aggregateService, jobStore, enqueuer, responseCache, cfg)
	router := api.NewRouter(handler, cfg)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Application stopped gracefully")
}

// wireExportQueue starts the broker if embedded, provisions the JetStream
// stream, and hangs the export workers off the supervisor tree. Returns the
// publisher-side enqueuer for the HTTP handler.
func wireExportQueue(ctx context.Context, cfg *config.Config, db *database.DB, jobStore *jobs.Store, resolver *resolve.Resolver, tree *supervisor.Tree) api.Enqueuer {
	url := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		broker, err := jobs.NewEmbeddedServer(&cfg.NATS)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded export broker")
		}
		url = broker.ClientURL()
		tree.AddWorkerService(services.NewBrokerService(broker))
	}

	if err := jobs.EnsureExportStream(ctx, url, &cfg.NATS); err != nil {
		logging.Fatal().Err(err).Msg("Failed to provision export stream")
	}

	publisher, err := jobs.NewPublisher(url, &cfg.NATS)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create export publisher")
	}

	subscriber, err := jobs.NewSubscriber(url, &cfg.NATS)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create export subscriber")
	}

	workerName, err := os.Hostname()
	if err != nil || workerName == "" {
		workerName = "sensoria-worker"
	}

	pipeline := export.NewPipeline(db, db, jobStore, resolver, &cfg.Export, cfg.Jobs.SuppressTTL, workerName)
	tree.AddWorkerService(export.NewWorker(subscriber, pipeline, cfg.NATS.ExportTopic))
	tree.AddWorkerService(export.NewCleaner(db, jobStore, time.Hour, cfg.Jobs.CleanupTTL))
	logging.Info().Int("workers", cfg.NATS.Workers).Str("topic", cfg.NATS.ExportTopic).Msg("Export workers added")

	return export.NewEnqueuer(publisher, cfg.NATS.ExportTopic)
}

// disabledEnqueuer rejects export creation when no queue is configured.
type disabledEnqueuer struct{}

func (disabledEnqueuer) Enqueue(context.Context, export.Request) error {
	return errors.New("export queue is not enabled")
}
