// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/adscout/config.yaml",
	"/etc/adscout/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file, CONFIG_PATH first, then the
// default paths. Returns empty string if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as
// comma-separated slices when they arrive as env var strings.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"archive.tokens",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings but the config expects
// slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}

		str, ok := val.(string)
		if !ok {
			continue
		}

		var parts []string
		for _, p := range strings.Split(str, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are dropped so that random environment variables do
// not pollute the config.
//
// Examples:
//   - DUCKDB_PATH -> database.path
//   - QUEUE_WORKERS -> queue.workers
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// envMappings maps lowercased environment variable names to config paths.
var envMappings = map[string]string{
	// Archive client
	"archive_base_url":           "archive.base_url",
	"archive_page_size":          "archive.page_size",
	"archive_request_timeout":    "archive.request_timeout",
	"archive_requests_per_sec":   "archive.requests_per_second",
	"rate_limit_default_backoff": "archive.default_backoff",
	"archive_max_retries":        "archive.max_retries",
	"archive_cost_per_call":      "archive.cost_per_call_micros",
	"archive_tokens":             "archive.tokens",

	// Website analyzer
	"web_analysis_parallelism": "analyzer.parallelism",
	"web_analysis_timeout":     "analyzer.request_timeout",
	"analysis_cache_dir":       "analyzer.cache_dir",
	"analysis_cache_ttl":       "analyzer.cache_ttl",
	"analysis_user_agent":      "analyzer.user_agent",

	// Queue
	"queue_workers":       "queue.workers",
	"queue_poll_interval": "queue.poll_interval",
	"phase_timeout":       "queue.phase_timeout",
	"heartbeat_interval":  "queue.heartbeat_interval",
	"stale_run_threshold": "queue.stale_threshold",

	// Database
	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	// NATS
	"nats_enabled":         "nats.enabled",
	"nats_url":             "nats.url",
	"nats_embedded_server": "nats.embedded_server",
	"nats_subject_prefix":  "nats.subject_prefix",

	// HTTP server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_timeout":          "server.timeout",
	"api_token":             "server.api_token",
	"rate_limit_per_minute": "server.rate_limit_per_minute",
	"cors_origins":          "server.cors_origins",
	"environment":           "server.environment",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}
