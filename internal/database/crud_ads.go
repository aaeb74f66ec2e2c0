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

const adColumns = `tenant, ad_id, page_id, page_name, created_date, reach,
	reach_lower, reach_upper, bodies, link_titles, link_captions, snapshot_url,
	currency, languages, platforms, targeting_summary, keyword`

// UpsertAd inserts an ad or refreshes its snapshot fields when the ad was
// already seen. Reach and snapshot data move between runs; identity fields
// (page, creation date) never change.
func (db *DB) UpsertAd(ctx context.Context, ad *models.Ad) (err error) {
	defer instrument("upsert", "ads")(&err)

	query := `INSERT INTO ads (` + adColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant, ad_id) DO UPDATE SET
			reach = excluded.reach,
			reach_lower = excluded.reach_lower,
			reach_upper = excluded.reach_upper,
			bodies = excluded.bodies,
			link_titles = excluded.link_titles,
			link_captions = excluded.link_captions,
			snapshot_url = excluded.snapshot_url,
			targeting_summary = excluded.targeting_summary`
	_, err = db.conn.ExecContext(ctx, query,
		ad.Tenant, ad.AdID, ad.PageID, ad.PageName, ad.CreatedDate, ad.Reach,
		ad.ReachLower, ad.ReachUpper, mustJSON(ad.Bodies), mustJSON(ad.LinkTitles),
		mustJSON(ad.LinkCaptions), ad.SnapshotURL, ad.Currency, mustJSON(ad.Languages),
		mustJSON(ad.Platforms), ad.TargetingSummary, ad.Keyword)
	if err != nil {
		return fmt.Errorf("failed to upsert ad %s: %w", ad.AdID, err)
	}
	return nil
}

// GetAd returns one ad by id.
func (db *DB) GetAd(ctx context.Context, tenant, adID string) (ad *models.Ad, err error) {
	defer instrument("select", "ads")(&err)

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+adColumns+` FROM ads WHERE tenant = ? AND ad_id = ?`, tenant, adID)
	return scanAd(row)
}

// ListAdsByPage returns all stored ads for a page, highest reach first.
func (db *DB) ListAdsByPage(ctx context.Context, tenant, pageID string) (ads []*models.Ad, err error) {
	defer instrument("select", "ads")(&err)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+adColumns+` FROM ads WHERE tenant = ? AND page_id = ? ORDER BY reach DESC`,
		tenant, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ads: %w", err)
	}
	defer closeWithLog(rows, "ads rows")

	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, err
		}
		ads = append(ads, ad)
	}
	return ads, rows.Err()
}

// CountActiveAdsByPage returns the number of stored ads per page for a
// tenant in a single scan.
func (db *DB) CountActiveAdsByPage(ctx context.Context, tenant string) (counts map[string]int, err error) {
	defer instrument("select", "ads")(&err)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT page_id, COUNT(*) FROM ads WHERE tenant = ? GROUP BY page_id`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to count ads: %w", err)
	}
	defer closeWithLog(rows, "ads rows")

	counts = make(map[string]int)
	for rows.Next() {
		var pageID string
		var n int
		if err := rows.Scan(&pageID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan ad count: %w", err)
		}
		counts[pageID] = n
	}
	return counts, rows.Err()
}

func scanAd(row rowScanner) (*models.Ad, error) {
	var (
		a                                          models.Ad
		bodies, titles, captions, langs, platforms string
	)
	err := row.Scan(
		&a.Tenant, &a.AdID, &a.PageID, &a.PageName, &a.CreatedDate, &a.Reach,
		&a.ReachLower, &a.ReachUpper, &bodies, &titles, &captions, &a.SnapshotURL,
		&a.Currency, &langs, &platforms, &a.TargetingSummary, &a.Keyword)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan ad: %w", err)
	}

	lists := []struct {
		raw string
		dst *[]string
	}{
		{bodies, &a.Bodies},
		{titles, &a.LinkTitles},
		{captions, &a.LinkCaptions},
		{langs, &a.Languages},
		{platforms, &a.Platforms},
	}
	for _, l := range lists {
		if err := fromJSON(l.raw, l.dst); err != nil {
			return nil, err
		}
	}
	return &a, nil
}
