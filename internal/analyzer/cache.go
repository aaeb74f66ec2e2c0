// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package analyzer

import (
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/tomtom215/adscout/internal/logging"
	"github.com/tomtom215/adscout/internal/metrics"
	"github.com/tomtom215/adscout/internal/models"
)

// Cache is a persistent TTL cache of website analyses keyed by normalized
// URL. Entries expire via Badger's native TTL; a restart keeps the warm
// cache. Cache failures are logged and treated as misses.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenCache opens (or creates) the cache at dir.
func OpenCache(dir string, ttl time.Duration) (*Cache, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithCompactL0OnClose(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open analysis cache at %s: %w", dir, err)
	}
	return &Cache{db: db, ttl: ttl}, nil
}

// Get returns the cached analysis for a URL, if present and fresh.
func (c *Cache) Get(url string) (*models.WebsiteAnalysis, bool) {
	var result models.WebsiteAnalysis
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(url))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &result)
		})
	})
	if err != nil {
		metrics.AnalysisCacheMisses.Inc()
		return nil, false
	}
	metrics.AnalysisCacheHits.Inc()
	return &result, true
}

// Put stores an analysis with the configured TTL.
func (c *Cache) Put(url string, a *models.WebsiteAnalysis) {
	payload, err := json.Marshal(a)
	if err != nil {
		logging.Warn().Err(err).Str("url", url).Msg("failed to marshal analysis for cache")
		return
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(url), payload).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		logging.Warn().Err(err).Str("url", url).Msg("failed to write analysis cache")
	}
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.db.Close()
}
