// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

// Package config loads and validates Adscout configuration.
//
// Configuration is layered, lowest priority first:
//
//  1. Struct defaults (defaultConfig)
//  2. YAML config file (CONFIG_PATH or the default search paths)
//  3. Environment variables (see envTransformFunc for the mapping)
package config

import "time"

// Config is the root configuration for all Adscout components.
type Config struct {
	Archive  ArchiveConfig  `koanf:"archive"`
	Analyzer AnalyzerConfig `koanf:"analyzer"`
	Queue    QueueConfig    `koanf:"queue"`
	Database DatabaseConfig `koanf:"database"`
	NATS     NATSConfig     `koanf:"nats"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ArchiveConfig controls the ad-archive API client and credential rotation.
type ArchiveConfig struct {
	// BaseURL is the ad-archive API endpoint.
	BaseURL string `koanf:"base_url"`

	// PageSize is the number of ads requested per archive page.
	PageSize int `koanf:"page_size"`

	// RequestTimeout bounds a single archive HTTP call.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// RequestsPerSecond throttles outbound archive calls per credential.
	RequestsPerSecond float64 `koanf:"requests_per_second"`

	// DefaultBackoff is applied to a rate-limited credential when the
	// server supplies no Retry-After hint.
	DefaultBackoff time.Duration `koanf:"default_backoff"`

	// MaxRetries is the retry count for transient errors per call.
	MaxRetries int `koanf:"max_retries"`

	// CostPerCallMicros is the accounting cost of one archive call in
	// micro-units, recorded in run logs.
	CostPerCallMicros int64 `koanf:"cost_per_call_micros"`

	// Tokens seeds the credential pool at startup. Tokens already known
	// to the repository are left untouched.
	Tokens []string `koanf:"tokens"`
}

// AnalyzerConfig controls website analysis (phase 4).
type AnalyzerConfig struct {
	// Parallelism is the number of concurrent website fetches.
	Parallelism int `koanf:"parallelism"`

	// RequestTimeout bounds one website fetch.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// CacheDir is the Badger directory for the analysis result cache.
	// Empty disables the cache.
	CacheDir string `koanf:"cache_dir"`

	// CacheTTL is how long a cached analysis stays valid.
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// UserAgent is sent on website fetches.
	UserAgent string `koanf:"user_agent"`
}

// QueueConfig controls the background run queue.
type QueueConfig struct {
	// Workers is the maximum number of runs executing concurrently.
	Workers int `koanf:"workers"`

	// PollInterval is the admission loop tick.
	PollInterval time.Duration `koanf:"poll_interval"`

	// PhaseTimeout bounds any single pipeline phase.
	PhaseTimeout time.Duration `koanf:"phase_timeout"`

	// HeartbeatInterval is how often a running run stamps its heartbeat.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// StaleThreshold is the heartbeat age past which a running run is
	// considered abandoned and marked interrupted.
	StaleThreshold time.Duration `koanf:"stale_threshold"`
}

// DatabaseConfig controls the embedded DuckDB store.
type DatabaseConfig struct {
	// Path is the DuckDB database file. ":memory:" for tests.
	Path string `koanf:"path"`

	// MaxMemory caps DuckDB's memory usage, e.g. "2GB".
	MaxMemory string `koanf:"max_memory"`

	// Threads sets DuckDB's thread count. 0 means runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// NATSConfig controls run lifecycle event publishing.
type NATSConfig struct {
	Enabled bool `koanf:"enabled"`

	// URL of the NATS server. Ignored when EmbeddedServer is true.
	URL string `koanf:"url"`

	// EmbeddedServer starts an in-process NATS server.
	EmbeddedServer bool `koanf:"embedded_server"`

	// SubjectPrefix prefixes published subjects, e.g. "adscout".
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// APIToken protects mutating endpoints. Empty disables auth
	// (development only).
	APIToken string `koanf:"api_token"`

	// RateLimitPerMinute caps requests per client IP.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`

	// CORSOrigins lists allowed origins. Empty allows none.
	CORSOrigins []string `koanf:"cors_origins"`

	// Environment is "development" or "production".
	Environment string `koanf:"environment"`
}

// LoggingConfig controls the zerolog global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Archive: ArchiveConfig{
			BaseURL:           "",
			PageSize:          100,
			RequestTimeout:    30 * time.Second,
			RequestsPerSecond: 2.0,
			DefaultBackoff:    60 * time.Second,
			MaxRetries:        3,
			CostPerCallMicros: 0,
			Tokens:            nil,
		},
		Analyzer: AnalyzerConfig{
			Parallelism:    5,
			RequestTimeout: 15 * time.Second,
			CacheDir:       "/data/adscout/analysis-cache",
			CacheTTL:       24 * time.Hour,
			UserAgent:      "Mozilla/5.0 (compatible; adscout/1.0)",
		},
		Queue: QueueConfig{
			Workers:           2,
			PollInterval:      3 * time.Second,
			PhaseTimeout:      30 * time.Minute,
			HeartbeatInterval: 15 * time.Second,
			StaleThreshold:    2 * time.Minute,
		},
		Database: DatabaseConfig{
			Path:      "/data/adscout.duckdb",
			MaxMemory: "2GB",
			Threads:   0,
		},
		NATS: NATSConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			SubjectPrefix:  "adscout",
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8710,
			Timeout:            30 * time.Second,
			APIToken:           "",
			RateLimitPerMinute: 120,
			CORSOrigins:        nil,
			Environment:        "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
