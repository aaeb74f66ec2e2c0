// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tomtom215/adscout/internal/models"
)

const winningAdColumns = `tenant, ad_id, page_id, criterion, reach_at_detection,
	age_at_detection, detected_at, search_run_id`

// UpsertWinningAd records a winning-ad detection. A given ad wins at most
// one row per tenant: re-detection refreshes the snapshot fields and run
// pointer but never duplicates. Reports whether this was the first-ever
// detection for the tenant.
func (db *DB) UpsertWinningAd(ctx context.Context, w *models.WinningAd) (wasNew bool, err error) {
	defer instrument("upsert", "winning_ads")(&err)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM winning_ads WHERE tenant = ? AND ad_id = ?)`,
		w.Tenant, w.AdID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check winning ad: %w", err)
	}

	if exists {
		_, err = tx.ExecContext(ctx,
			`UPDATE winning_ads SET criterion = ?, reach_at_detection = ?,
				age_at_detection = ?, detected_at = ?, search_run_id = ?
			 WHERE tenant = ? AND ad_id = ?`,
			w.Criterion, w.ReachAtDetection, w.AgeAtDetection, w.DetectedAt,
			w.SearchRunID, w.Tenant, w.AdID)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO winning_ads (`+winningAdColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			w.Tenant, w.AdID, w.PageID, w.Criterion, w.ReachAtDetection,
			w.AgeAtDetection, w.DetectedAt, w.SearchRunID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to upsert winning ad %s: %w", w.AdID, err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	w.IsNew = !exists
	return !exists, nil
}

// ListWinningAdsByRun returns the winning ads detected by one run.
func (db *DB) ListWinningAdsByRun(ctx context.Context, tenant string, runID int64) (ads []*models.WinningAd, err error) {
	defer instrument("select", "winning_ads")(&err)

	return db.queryWinningAds(ctx,
		`SELECT `+winningAdColumns+` FROM winning_ads
		 WHERE tenant = ? AND search_run_id = ? ORDER BY reach_at_detection DESC`,
		tenant, runID)
}

// ListWinningAdsByPage returns all winning ads on one page.
func (db *DB) ListWinningAdsByPage(ctx context.Context, tenant, pageID string) (ads []*models.WinningAd, err error) {
	defer instrument("select", "winning_ads")(&err)

	return db.queryWinningAds(ctx,
		`SELECT `+winningAdColumns+` FROM winning_ads
		 WHERE tenant = ? AND page_id = ? ORDER BY detected_at DESC`,
		tenant, pageID)
}

// GetWinningAd returns one detection row, or sql.ErrNoRows.
func (db *DB) GetWinningAd(ctx context.Context, tenant, adID string) (ad *models.WinningAd, err error) {
	defer instrument("select", "winning_ads")(&err)

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+winningAdColumns+` FROM winning_ads WHERE tenant = ? AND ad_id = ?`,
		tenant, adID)
	return scanWinningAd(row)
}

func (db *DB) queryWinningAds(ctx context.Context, query string, args ...any) ([]*models.WinningAd, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query winning ads: %w", err)
	}
	defer closeWithLog(rows, "winning_ads rows")

	var ads []*models.WinningAd
	for rows.Next() {
		w, err := scanWinningAd(rows)
		if err != nil {
			return nil, err
		}
		ads = append(ads, w)
	}
	return ads, rows.Err()
}

func scanWinningAd(row rowScanner) (*models.WinningAd, error) {
	var w models.WinningAd
	err := row.Scan(&w.Tenant, &w.AdID, &w.PageID, &w.Criterion,
		&w.ReachAtDetection, &w.AgeAtDetection, &w.DetectedAt, &w.SearchRunID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan winning ad: %w", err)
	}
	return &w, nil
}
