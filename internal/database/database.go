// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

// Package database wraps the embedded DuckDB store and provides typed data
// access for pages, ads, winning ads, search runs, run logs, credentials,
// the blacklist, settings, and run lineage.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/adscout/internal/config"
	"github.com/tomtom215/adscout/internal/metrics"
)

// DB wraps the DuckDB connection and provides data access methods.
// All methods are safe for concurrent use; DuckDB serializes writes
// internally and the pool is sized per CPU for reads.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
}

// New creates a new database connection and initializes the schema.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure parent directory exists for file-backed databases.
	if cfg.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
	}

	// Disable auto-install/auto-load to prevent hangs in restricted
	// network environments.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads)
	// An empty max_memory is rejected by the driver; leave DuckDB's own
	// default in place when no cap is configured.
	if cfg.MaxMemory != "" {
		connStr += "&max_memory=" + cfg.MaxMemory
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg}

	db.configureConnectionPool()

	if err := db.initialize(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// configureConnectionPool tunes the sql.DB pool for DuckDB.
func (db *DB) configureConnectionPool() {
	db.conn.SetMaxOpenConns(runtime.NumCPU())
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(time.Hour)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)
}

// initialize creates tables, sequences and indexes.
func (db *DB) initialize() error {
	if err := db.createSequences(); err != nil {
		return err
	}
	if err := db.createTables(); err != nil {
		return err
	}
	return db.createIndexes()
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close releases the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn exposes the underlying pool for health checks and tests.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// instrument records query metrics for the given operation and table.
// instrument times a repository operation. Use as
// `defer instrument("select", "pages")(&err)` so the deferred closure
// observes the final error value.
func instrument(operation, table string) func(*error) {
	start := time.Now()
	return func(err *error) {
		var e error
		if err != nil {
			e = *err
		}
		metrics.RecordDBQuery(operation, table, time.Since(start), e)
	}
}
