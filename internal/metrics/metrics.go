// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides instrumentation for:
// - Search run lifecycle and phase durations
// - Ad-archive API call outcomes per channel
// - Credential pool health and rate-limit back-off
// - Queue depth and worker occupancy
// - Database query performance (DuckDB)
// - Website analysis cache efficiency

var (
	// Run Lifecycle Metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_runs_total",
			Help: "Total number of search runs by final status",
		},
		[]string{"status"}, // "completed", "no_results", "failed", "cancelled", "interrupted"
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "search_run_duration_seconds",
			Help:    "End-to-end duration of search runs in seconds",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
	)

	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_phase_duration_seconds",
			Help:    "Duration of individual pipeline phases in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"phase"},
	)

	PhaseOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_phase_outcomes_total",
			Help: "Total phase executions by outcome",
		},
		[]string{"phase", "outcome"}, // "ok", "failed", "skipped"
	)

	AdsDiscovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ads_discovered_total",
			Help: "Total number of unique ads discovered across runs",
		},
	)

	PagesDiscovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pages_discovered_total",
			Help: "Total number of pages discovered across runs",
		},
	)

	WinningAdsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winning_ads_detected_total",
			Help: "Total winning-ad detections",
		},
		[]string{"novelty"}, // "new", "repeat"
	)

	// Archive API Metrics
	ArchiveCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_api_calls_total",
			Help: "Total external API calls by channel and outcome",
		},
		[]string{"channel", "outcome"}, // outcome: "success", "transient", "rate_limited", "fatal"
	)

	ArchiveCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_api_call_duration_seconds",
			Help:    "Duration of external API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	// Credential Pool Metrics
	CredentialsUsable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "credentials_usable",
			Help: "Current number of credentials eligible for dispatch",
		},
	)

	CredentialsRateLimited = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "credentials_rate_limited",
			Help: "Current number of credentials in rate-limit back-off",
		},
	)

	CredentialAcquireWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "credential_acquire_wait_seconds",
			Help:    "Time spent waiting for an eligible credential",
			Buckets: []float64{0, 0.1, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	// Queue Metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "run_queue_depth",
			Help: "Current number of pending search runs",
		},
	)

	QueueActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "run_queue_active_workers",
			Help: "Current number of runs executing concurrently",
		},
	)

	QueueStaleRunsRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "run_queue_stale_recovered_total",
			Help: "Total runs marked interrupted due to stale heartbeats",
		},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// Website Analysis Cache Metrics
	AnalysisCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analysis_cache_hits_total",
			Help: "Total website analysis cache hits",
		},
	)

	AnalysisCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analysis_cache_misses_total",
			Help: "Total website analysis cache misses",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Event Publishing Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total run lifecycle events published to NATS",
		},
		[]string{"subject"},
	)
)

// RecordRunFinished records the final status and duration of a run.
func RecordRunFinished(status string, duration time.Duration) {
	RunsTotal.WithLabelValues(status).Inc()
	RunDuration.Observe(duration.Seconds())
}

// RecordPhase records one phase execution.
func RecordPhase(phase, outcome string, duration time.Duration) {
	PhaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
	PhaseOutcomes.WithLabelValues(phase, outcome).Inc()
}

// RecordArchiveCall records one external API call.
func RecordArchiveCall(channel, outcome string, duration time.Duration) {
	ArchiveCallsTotal.WithLabelValues(channel, outcome).Inc()
	ArchiveCallDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordDBQuery records a database query metric.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// UpdateCredentialPool updates the credential pool gauges.
func UpdateCredentialPool(usable, rateLimited int) {
	CredentialsUsable.Set(float64(usable))
	CredentialsRateLimited.Set(float64(rateLimited))
}

// SetCircuitBreakerState updates the named breaker's state gauge.
// 0=closed, 1=half-open, 2=open.
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
