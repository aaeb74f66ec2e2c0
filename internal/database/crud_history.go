// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package database

import (
	"context"
	"fmt"

	"github.com/tomtom215/adscout/internal/models"
)

// Lineage rows answer "which runs found this page" and "what did this run
// find" without replaying run logs.

// InsertRunPageHistory records that a run discovered a page. Idempotent per
// (run, page).
func (db *DB) InsertRunPageHistory(ctx context.Context, h *models.RunPageHistory) (err error) {
	defer instrument("insert", "run_page_history")(&err)

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO run_page_history (run_id, tenant, page_id, was_new_at_discovery,
			keyword_matched, ad_count_at_discovery, found_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, page_id) DO NOTHING`,
		h.RunID, h.Tenant, h.PageID, h.WasNew, h.KeywordMatched,
		h.AdCountAtDiscovery, h.FoundAt)
	if err != nil {
		return fmt.Errorf("failed to insert page history for run %d: %w", h.RunID, err)
	}
	return nil
}

// InsertRunWinningAdHistory records that a run detected a winning ad.
// Idempotent per (run, ad).
func (db *DB) InsertRunWinningAdHistory(ctx context.Context, h *models.RunWinningAdHistory) (err error) {
	defer instrument("insert", "run_winning_ad_history")(&err)

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO run_winning_ad_history (run_id, tenant, ad_id, was_new_at_detection,
			reach_at_detection, found_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, ad_id) DO NOTHING`,
		h.RunID, h.Tenant, h.AdID, h.WasNew, h.ReachAtDetection, h.FoundAt)
	if err != nil {
		return fmt.Errorf("failed to insert winning-ad history for run %d: %w", h.RunID, err)
	}
	return nil
}

// ListPagesByRun returns the lineage rows for one run, discovery order.
func (db *DB) ListPagesByRun(ctx context.Context, runID int64) (hist []*models.RunPageHistory, err error) {
	defer instrument("select", "run_page_history")(&err)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT run_id, tenant, page_id, was_new_at_discovery, keyword_matched,
			ad_count_at_discovery, found_at
		 FROM run_page_history WHERE run_id = ? ORDER BY found_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run pages: %w", err)
	}
	defer closeWithLog(rows, "run_page_history rows")

	for rows.Next() {
		var h models.RunPageHistory
		if err := rows.Scan(&h.RunID, &h.Tenant, &h.PageID, &h.WasNew,
			&h.KeywordMatched, &h.AdCountAtDiscovery, &h.FoundAt); err != nil {
			return nil, fmt.Errorf("failed to scan page history: %w", err)
		}
		hist = append(hist, &h)
	}
	return hist, rows.Err()
}

// ListRunsByPage returns the runs that discovered a page, newest first.
func (db *DB) ListRunsByPage(ctx context.Context, tenant, pageID string) (hist []*models.RunPageHistory, err error) {
	defer instrument("select", "run_page_history")(&err)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT run_id, tenant, page_id, was_new_at_discovery, keyword_matched,
			ad_count_at_discovery, found_at
		 FROM run_page_history WHERE tenant = ? AND page_id = ?
		 ORDER BY found_at DESC`, tenant, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list page runs: %w", err)
	}
	defer closeWithLog(rows, "run_page_history rows")

	for rows.Next() {
		var h models.RunPageHistory
		if err := rows.Scan(&h.RunID, &h.Tenant, &h.PageID, &h.WasNew,
			&h.KeywordMatched, &h.AdCountAtDiscovery, &h.FoundAt); err != nil {
			return nil, fmt.Errorf("failed to scan page history: %w", err)
		}
		hist = append(hist, &h)
	}
	return hist, rows.Err()
}

// ListWinningAdHistoryByRun returns the winning-ad lineage for one run.
func (db *DB) ListWinningAdHistoryByRun(ctx context.Context, runID int64) (hist []*models.RunWinningAdHistory, err error) {
	defer instrument("select", "run_winning_ad_history")(&err)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT run_id, tenant, ad_id, was_new_at_detection, reach_at_detection, found_at
		 FROM run_winning_ad_history WHERE run_id = ? ORDER BY found_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run winning ads: %w", err)
	}
	defer closeWithLog(rows, "run_winning_ad_history rows")

	for rows.Next() {
		var h models.RunWinningAdHistory
		if err := rows.Scan(&h.RunID, &h.Tenant, &h.AdID, &h.WasNew,
			&h.ReachAtDetection, &h.FoundAt); err != nil {
			return nil, fmt.Errorf("failed to scan winning-ad history: %w", err)
		}
		hist = append(hist, &h)
	}
	return hist, rows.Err()
}
