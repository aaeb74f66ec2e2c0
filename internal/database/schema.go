// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

/*
schema.go - Database Schema Management

This file manages the DuckDB schema: sequences, table creation and index
management.

Tables:
  - pages: discovered advertisers with CMS, size and classification data
  - ads: raw archive ads, one row per (tenant, ad_id)
  - winning_ads: deduplicated winning-ad detections
  - search_runs: run queue rows with live progress state
  - run_logs: append-only final run records with JSON sub-documents
  - credentials: archive API credentials with rate-limit state
  - run_page_history / run_winning_ad_history: per-run lineage
  - blacklist: pages excluded from results per tenant
  - settings: small key/value store for operational flags

Schema Strategy:
All columns are defined in the initial CREATE TABLE statements. DuckDB list
values (keywords, countries, languages) are stored as JSON text so rows
round-trip through database/sql without driver-specific list types.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createSequences creates id sequences used by table defaults.
func (db *DB) createSequences() error {
	ctx, cancel := schemaContext()
	defer cancel()

	sequences := []string{
		`CREATE SEQUENCE IF NOT EXISTS search_run_id_seq START 1`,
		`CREATE SEQUENCE IF NOT EXISTS credential_id_seq START 1`,
	}
	for _, q := range sequences {
		if _, err := db.conn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to create sequence: %s: %w", q, err)
		}
	}
	return nil
}

// createTables creates the core database tables.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}

// tableCreationQueries returns the table creation SQL statements.
func tableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS pages (
			tenant TEXT NOT NULL,
			page_id TEXT NOT NULL,
			name TEXT NOT NULL,
			website_url TEXT,
			cms TEXT NOT NULL DEFAULT 'unknown',
			theme TEXT,
			product_count INTEGER,
			active_ad_count INTEGER NOT NULL DEFAULT 0,
			size_bucket TEXT NOT NULL DEFAULT 'inactif',
			category TEXT,
			subcategory TEXT,
			category_confidence DOUBLE,
			currency TEXT,
			keywords TEXT NOT NULL DEFAULT '[]',
			countries TEXT NOT NULL DEFAULT '[]',
			first_seen TIMESTAMP NOT NULL,
			last_updated TIMESTAMP NOT NULL,
			last_scanned TIMESTAMP,
			last_run_id BIGINT,
			was_created_in_last_run BOOLEAN NOT NULL DEFAULT false,
			PRIMARY KEY (tenant, page_id)
		)`,

		`CREATE TABLE IF NOT EXISTS ads (
			tenant TEXT NOT NULL,
			ad_id TEXT NOT NULL,
			page_id TEXT NOT NULL,
			page_name TEXT NOT NULL,
			created_date TIMESTAMP,
			reach BIGINT NOT NULL DEFAULT 0,
			reach_lower BIGINT,
			reach_upper BIGINT,
			bodies TEXT NOT NULL DEFAULT '[]',
			link_titles TEXT NOT NULL DEFAULT '[]',
			link_captions TEXT NOT NULL DEFAULT '[]',
			snapshot_url TEXT,
			currency TEXT,
			languages TEXT NOT NULL DEFAULT '[]',
			platforms TEXT NOT NULL DEFAULT '[]',
			targeting_summary TEXT,
			keyword TEXT,
			PRIMARY KEY (tenant, ad_id)
		)`,

		`CREATE TABLE IF NOT EXISTS winning_ads (
			tenant TEXT NOT NULL,
			ad_id TEXT NOT NULL,
			page_id TEXT NOT NULL,
			criterion TEXT NOT NULL,
			reach_at_detection BIGINT NOT NULL,
			age_at_detection INTEGER NOT NULL,
			detected_at TIMESTAMP NOT NULL,
			search_run_id BIGINT NOT NULL,
			PRIMARY KEY (tenant, ad_id)
		)`,

		`CREATE TABLE IF NOT EXISTS search_runs (
			id BIGINT PRIMARY KEY DEFAULT nextval('search_run_id_seq'),
			tenant TEXT NOT NULL,
			keywords TEXT NOT NULL,
			countries TEXT NOT NULL,
			languages TEXT NOT NULL DEFAULT '[]',
			min_active_ads INTEGER NOT NULL DEFAULT 0,
			cms_filter TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			ended_at TIMESTAMP,
			last_heartbeat TIMESTAMP,
			phase_number INTEGER NOT NULL DEFAULT 0,
			phase_name TEXT NOT NULL DEFAULT '',
			percent INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 0,
			run_log_id TEXT,
			error_message TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS run_logs (
			id TEXT PRIMARY KEY,
			run_id BIGINT NOT NULL,
			tenant TEXT NOT NULL,
			keywords TEXT NOT NULL,
			countries TEXT NOT NULL,
			languages TEXT NOT NULL DEFAULT '[]',
			min_active_ads INTEGER NOT NULL DEFAULT 0,
			cms_filter TEXT NOT NULL DEFAULT '[]',
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NOT NULL,
			final_status TEXT NOT NULL,
			phases TEXT NOT NULL DEFAULT '[]',
			counts TEXT NOT NULL DEFAULT '{}',
			api_counters TEXT NOT NULL DEFAULT '{}',
			errors TEXT NOT NULL DEFAULT '[]'
		)`,

		`CREATE TABLE IF NOT EXISTS credentials (
			id BIGINT PRIMARY KEY DEFAULT nextval('credential_id_seq'),
			token TEXT NOT NULL UNIQUE,
			proxy_url TEXT,
			active BOOLEAN NOT NULL DEFAULT true,
			total_calls BIGINT NOT NULL DEFAULT 0,
			total_errors BIGINT NOT NULL DEFAULT 0,
			rate_limit_hits BIGINT NOT NULL DEFAULT 0,
			last_used_at TIMESTAMP,
			last_error_at TIMESTAMP,
			rate_limited_until TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS run_page_history (
			run_id BIGINT NOT NULL,
			tenant TEXT NOT NULL,
			page_id TEXT NOT NULL,
			was_new_at_discovery BOOLEAN NOT NULL,
			keyword_matched TEXT,
			ad_count_at_discovery INTEGER NOT NULL DEFAULT 0,
			found_at TIMESTAMP NOT NULL,
			PRIMARY KEY (run_id, page_id)
		)`,

		`CREATE TABLE IF NOT EXISTS run_winning_ad_history (
			run_id BIGINT NOT NULL,
			tenant TEXT NOT NULL,
			ad_id TEXT NOT NULL,
			was_new_at_detection BOOLEAN NOT NULL,
			reach_at_detection BIGINT NOT NULL,
			found_at TIMESTAMP NOT NULL,
			PRIMARY KEY (run_id, ad_id)
		)`,

		`CREATE TABLE IF NOT EXISTS blacklist (
			tenant TEXT NOT NULL,
			page_id TEXT NOT NULL,
			reason TEXT,
			added_at TIMESTAMP NOT NULL,
			PRIMARY KEY (tenant, page_id)
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			tenant TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (tenant, key)
		)`,
	}
}

// createIndexes creates indexes for common query patterns.
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON search_runs(status, priority, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_tenant ON search_runs(tenant, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_cms ON pages(tenant, cms)`,
		`CREATE INDEX IF NOT EXISTS idx_ads_page ON ads(tenant, page_id)`,
		`CREATE INDEX IF NOT EXISTS idx_winning_page ON winning_ads(tenant, page_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_page ON run_page_history(tenant, page_id)`,
		`CREATE INDEX IF NOT EXISTS idx_run_logs_run ON run_logs(run_id)`,
	}
	for _, q := range indexes {
		if _, err := db.conn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", q, err)
		}
	}
	return nil
}
