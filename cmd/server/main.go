// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

// Package main is the entry point for the Adscout server.
//
// Adscout searches public ad archives for advertisers matching keyword
// sets, scrapes and classifies their storefronts, and flags "winning"
// ads: creatives that accumulated unusual reach for their age. Runs are
// queued durably in DuckDB and survive process restarts.
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered loading (defaults, YAML, env)
//  2. Database: embedded DuckDB with schema migration
//  3. Credential pool: seeded from ARCHIVE_TOKENS
//  4. Collaborators: archive client, website analyzer, notifier
//  5. Supervision tree: run-queue workers and the HTTP API under Suture
//
// # Configuration
//
// Key environment variables (full list in internal/config):
//
//	DUCKDB_PATH       database file (default /data/adscout.duckdb)
//	ARCHIVE_BASE_URL  ad-archive API endpoint
//	ARCHIVE_TOKENS    comma-separated archive API tokens
//	QUEUE_WORKERS     concurrent runs (default 2)
//	HTTP_PORT         API port (default 8710)
//	API_TOKEN         bearer token for the API (required in production)
//	NATS_ENABLED      publish run lifecycle events (default false)
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the queue stops
// admitting runs, in-flight HTTP requests drain, and the database is
// closed last.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/adscout/internal/analyzer"
	"github.com/tomtom215/adscout/internal/api"
	"github.com/tomtom215/adscout/internal/archive"
	"github.com/tomtom215/adscout/internal/classifier"
	"github.com/tomtom215/adscout/internal/config"
	"github.com/tomtom215/adscout/internal/database"
	"github.com/tomtom215/adscout/internal/logging"
	"github.com/tomtom215/adscout/internal/notify"
	"github.com/tomtom215/adscout/internal/orchestrator"
	"github.com/tomtom215/adscout/internal/queue"
	"github.com/tomtom215/adscout/internal/rotator"
	"github.com/tomtom215/adscout/internal/supervisor"
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
		Int("queue_workers", cfg.Queue.Workers).
		Str("environment", cfg.Server.Environment).
		Msg("Starting Adscout")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seedCredentials(ctx, db, cfg.Archive.Tokens)

	rot := rotator.New(db, cfg.Archive.DefaultBackoff)
	client := archive.NewHTTPClient(&cfg.Archive)

	var cache *analyzer.Cache
	if cfg.Analyzer.CacheDir != "" {
		cache, err = analyzer.OpenCache(cfg.Analyzer.CacheDir, cfg.Analyzer.CacheTTL)
		if err != nil {
			logging.Warn().Err(err).Str("dir", cfg.Analyzer.CacheDir).
				Msg("Analysis cache unavailable, continuing without it")
		} else {
			defer func() {
				if err := cache.Close(); err != nil {
					logging.Warn().Err(err).Msg("Error closing analysis cache")
				}
			}()
		}
	}
	webAnalyzer := analyzer.NewHTTPAnalyzer(&cfg.Analyzer, cache)

	notifier, embeddedNATS := setupNotifier(&cfg.NATS)
	defer func() {
		if err := notifier.Close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing notifier")
		}
		if embeddedNATS != nil {
			embeddedNATS.Shutdown()
		}
	}()

	orch := orchestrator.New(db, cfg, rot, client, webAnalyzer, classifier.Disabled{}, notifier)

	runService := queue.NewService(db)
	runQueue := queue.NewSupervisor(db, &cfg.Queue, orch)

	router := api.NewRouter(&cfg.Server, runService, db)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       2 * cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddWorkerService(runQueue)
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, 10*time.Second))

	logging.Info().Str("addr", httpServer.Addr).Msg("Adscout ready")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("Supervision tree exited")
	}

	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}
	logging.Info().Msg("Adscout stopped")
}

// seedCredentials idempotently inserts configured archive tokens.
func seedCredentials(ctx context.Context, db *database.DB, tokens []string) {
	for _, token := range tokens {
		if err := db.InsertCredential(ctx, token, nil); err != nil {
			logging.Warn().Err(err).Msg("Failed to seed archive credential")
		}
	}
	if len(tokens) > 0 {
		logging.Info().Int("count", len(tokens)).Msg("Archive credentials seeded")
	}
}

// setupNotifier builds the lifecycle event publisher, starting the
// embedded NATS server first when configured.
func setupNotifier(cfg *config.NATSConfig) (notify.Notifier, *notify.EmbeddedServer) {
	if !cfg.Enabled {
		return notify.Noop{}, nil
	}

	var embedded *notify.EmbeddedServer
	url := cfg.URL
	if cfg.EmbeddedServer {
		srv, err := notify.StartEmbeddedServer()
		if err != nil {
			logging.Error().Err(err).Msg("Embedded NATS server failed, events disabled")
			return notify.Noop{}, nil
		}
		embedded = srv
		url = srv.ClientURL()
	}

	notifier, err := notify.NewNATSNotifier(cfg, url)
	if err != nil {
		logging.Error().Err(err).Msg("NATS notifier failed, events disabled")
		if embedded != nil {
			embedded.Shutdown()
		}
		return notify.Noop{}, nil
	}
	return notifier, embedded
}
