// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateArchive(); err != nil {
		return err
	}
	if err := c.validateAnalyzer(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateArchive() error {
	if c.Archive.BaseURL != "" {
		if err := validateHTTPURL(c.Archive.BaseURL, "ARCHIVE_BASE_URL"); err != nil {
			return err
		}
	}
	if c.Archive.PageSize < 1 || c.Archive.PageSize > 1000 {
		return fmt.Errorf("ARCHIVE_PAGE_SIZE must be between 1 and 1000, got %d", c.Archive.PageSize)
	}
	if c.Archive.RequestsPerSecond <= 0 {
		return fmt.Errorf("ARCHIVE_REQUESTS_PER_SEC must be positive, got %g", c.Archive.RequestsPerSecond)
	}
	if c.Archive.DefaultBackoff <= 0 {
		return fmt.Errorf("RATE_LIMIT_DEFAULT_BACKOFF must be positive, got %s", c.Archive.DefaultBackoff)
	}
	if c.Archive.MaxRetries < 0 || c.Archive.MaxRetries > 10 {
		return fmt.Errorf("ARCHIVE_MAX_RETRIES must be between 0 and 10, got %d", c.Archive.MaxRetries)
	}
	return nil
}

func (c *Config) validateAnalyzer() error {
	if c.Analyzer.Parallelism < 1 || c.Analyzer.Parallelism > 64 {
		return fmt.Errorf("WEB_ANALYSIS_PARALLELISM must be between 1 and 64, got %d", c.Analyzer.Parallelism)
	}
	if c.Analyzer.RequestTimeout <= 0 {
		return fmt.Errorf("WEB_ANALYSIS_TIMEOUT must be positive, got %s", c.Analyzer.RequestTimeout)
	}
	if c.Analyzer.CacheDir != "" && c.Analyzer.CacheTTL <= 0 {
		return fmt.Errorf("ANALYSIS_CACHE_TTL must be positive when the cache is enabled, got %s", c.Analyzer.CacheTTL)
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.Workers < 1 || c.Queue.Workers > 32 {
		return fmt.Errorf("QUEUE_WORKERS must be between 1 and 32, got %d", c.Queue.Workers)
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("QUEUE_POLL_INTERVAL must be positive, got %s", c.Queue.PollInterval)
	}
	if c.Queue.PhaseTimeout <= 0 {
		return fmt.Errorf("PHASE_TIMEOUT must be positive, got %s", c.Queue.PhaseTimeout)
	}
	if c.Queue.StaleThreshold <= c.Queue.HeartbeatInterval {
		return fmt.Errorf("STALE_RUN_THRESHOLD (%s) must exceed HEARTBEAT_INTERVAL (%s)",
			c.Queue.StaleThreshold, c.Queue.HeartbeatInterval)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("DUCKDB_PATH is required")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("DUCKDB_THREADS must not be negative, got %d", c.Database.Threads)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitPerMinute < 1 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", c.Server.RateLimitPerMinute)
	}

	env := strings.ToLower(c.Server.Environment)
	if env != "development" && env != "production" {
		return fmt.Errorf("ENVIRONMENT must be development or production, got %q", c.Server.Environment)
	}
	if env == "production" && c.Server.APIToken == "" {
		return fmt.Errorf("API_TOKEN is required when ENVIRONMENT=production")
	}
	if c.Server.APIToken != "" && len(c.Server.APIToken) < 16 {
		return fmt.Errorf("API_TOKEN must be at least 16 characters")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace/debug/info/warn/error/fatal, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// validateHTTPURL checks that a URL parses and uses http or https.
func validateHTTPURL(raw, name string) error {
	if err := validate.Var(raw, "url"); err != nil {
		return fmt.Errorf("%s is not a valid URL: %q", name, raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", name, u.Scheme)
	}
	return nil
}
