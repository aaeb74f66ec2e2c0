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
	"sort"
	"time"

	"github.com/tomtom215/adscout/internal/models"
)

const pageColumns = `tenant, page_id, name, website_url, cms, theme, product_count,
	active_ad_count, size_bucket, category, subcategory, category_confidence,
	currency, keywords, countries, first_seen, last_updated, last_scanned,
	last_run_id, was_created_in_last_run`

// UpsertPage inserts or merges a page and reports whether the page was new
// for the tenant.
//
// Merge semantics:
//   - Keywords and Countries are unioned with the existing row
//   - A non-empty existing Name wins over the incoming one
//   - WebsiteURL is only overwritten when the incoming value is present
//   - ActiveAdCount, SizeBucket and run-tracking fields are replaced
//   - FirstSeen is preserved from the existing row
func (db *DB) UpsertPage(ctx context.Context, page *models.Page) (wasNew bool, err error) {
	defer instrument("upsert", "pages")(&err)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	existing, err := getPageTx(ctx, tx, page.Tenant, page.PageID)
	if err != nil && !errors.Is(err, ErrPageNotFound) {
		return false, err
	}

	now := time.Now().UTC()
	if existing == nil {
		page.FirstSeen = now
		page.LastUpdated = now
		if err = insertPageTx(ctx, tx, page); err != nil {
			return false, err
		}
		if err = tx.Commit(); err != nil {
			return false, fmt.Errorf("failed to commit: %w", err)
		}
		return true, nil
	}

	merged := mergePage(existing, page, now)
	if err = updatePageTx(ctx, tx, merged); err != nil {
		return false, err
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	*page = *merged
	return false, nil
}

// mergePage combines an existing page row with an incoming discovery.
func mergePage(existing, incoming *models.Page, now time.Time) *models.Page {
	merged := *incoming
	merged.FirstSeen = existing.FirstSeen
	merged.LastUpdated = now

	if existing.Name != "" {
		merged.Name = existing.Name
	}
	if merged.WebsiteURL == nil {
		merged.WebsiteURL = existing.WebsiteURL
	}
	// Enrichment survives runs that did not re-scan the site.
	if merged.CMS == models.CMSUnknown || merged.CMS == "" {
		merged.CMS = existing.CMS
	}
	if merged.Theme == nil {
		merged.Theme = existing.Theme
	}
	if merged.ProductCount == nil {
		merged.ProductCount = existing.ProductCount
	}
	if merged.Category == nil {
		merged.Category = existing.Category
		merged.Subcategory = existing.Subcategory
		merged.CategoryConfidence = existing.CategoryConfidence
	}
	if merged.Currency == nil {
		merged.Currency = existing.Currency
	}
	if merged.LastScanned == nil {
		merged.LastScanned = existing.LastScanned
	}

	merged.Keywords = unionStrings(existing.Keywords, incoming.Keywords)
	merged.Countries = unionStrings(existing.Countries, incoming.Countries)
	return &merged
}

// unionStrings returns the sorted union of two string slices.
func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		seen[s] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func insertPageTx(ctx context.Context, tx *sql.Tx, p *models.Page) error {
	query := `INSERT INTO pages (` + pageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, query,
		p.Tenant, p.PageID, p.Name, p.WebsiteURL, string(p.CMS), p.Theme, p.ProductCount,
		p.ActiveAdCount, string(p.SizeBucket), p.Category, p.Subcategory, p.CategoryConfidence,
		p.Currency, mustJSON(p.Keywords), mustJSON(p.Countries), p.FirstSeen, p.LastUpdated,
		p.LastScanned, p.LastRunID, p.WasCreatedInLastRun)
	if err != nil {
		return fmt.Errorf("failed to insert page %s: %w", p.PageID, err)
	}
	return nil
}

func updatePageTx(ctx context.Context, tx *sql.Tx, p *models.Page) error {
	query := `UPDATE pages SET
		name = ?, website_url = ?, cms = ?, theme = ?, product_count = ?,
		active_ad_count = ?, size_bucket = ?, category = ?, subcategory = ?,
		category_confidence = ?, currency = ?, keywords = ?, countries = ?,
		last_updated = ?, last_scanned = ?, last_run_id = ?, was_created_in_last_run = ?
		WHERE tenant = ? AND page_id = ?`
	_, err := tx.ExecContext(ctx, query,
		p.Name, p.WebsiteURL, string(p.CMS), p.Theme, p.ProductCount,
		p.ActiveAdCount, string(p.SizeBucket), p.Category, p.Subcategory,
		p.CategoryConfidence, p.Currency, mustJSON(p.Keywords), mustJSON(p.Countries),
		p.LastUpdated, p.LastScanned, p.LastRunID, p.WasCreatedInLastRun,
		p.Tenant, p.PageID)
	if err != nil {
		return fmt.Errorf("failed to update page %s: %w", p.PageID, err)
	}
	return nil
}

// GetPage returns a page by id or ErrPageNotFound.
func (db *DB) GetPage(ctx context.Context, tenant, pageID string) (page *models.Page, err error) {
	defer instrument("select", "pages")(&err)

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE tenant = ? AND page_id = ?`,
		tenant, pageID)
	return scanPage(row)
}

func getPageTx(ctx context.Context, tx *sql.Tx, tenant, pageID string) (*models.Page, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE tenant = ? AND page_id = ?`,
		tenant, pageID)
	return scanPage(row)
}

// ListPages returns pages for a tenant ordered by last update, newest first.
func (db *DB) ListPages(ctx context.Context, tenant string, limit, offset int) (pages []*models.Page, err error) {
	defer instrument("select", "pages")(&err)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE tenant = ?
		 ORDER BY last_updated DESC LIMIT ? OFFSET ?`,
		tenant, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer closeWithLog(rows, "pages rows")

	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// UpdatePageAnalysis applies website analysis results to a page.
// Absent analysis fields leave the stored values untouched.
func (db *DB) UpdatePageAnalysis(ctx context.Context, tenant, pageID string, a *models.WebsiteAnalysis) (err error) {
	defer instrument("update", "pages")(&err)

	now := time.Now().UTC()
	res, err := db.conn.ExecContext(ctx,
		`UPDATE pages SET
			cms = CASE WHEN ? != 'unknown' AND ? != '' THEN ? ELSE cms END,
			theme = COALESCE(?, theme),
			product_count = COALESCE(?, product_count),
			currency = COALESCE(?, currency),
			last_scanned = ?, last_updated = ?
		 WHERE tenant = ? AND page_id = ?`,
		string(a.CMS), string(a.CMS), string(a.CMS),
		a.Theme, a.ProductCount, a.Currency, now, now, tenant, pageID)
	if err != nil {
		return fmt.Errorf("failed to update page analysis: %w", err)
	}
	return requireRow(res, ErrPageNotFound)
}

// UpdatePageClassification applies a classifier verdict to a page.
func (db *DB) UpdatePageClassification(ctx context.Context, tenant, pageID string, c *models.Classification) (err error) {
	defer instrument("update", "pages")(&err)

	res, err := db.conn.ExecContext(ctx,
		`UPDATE pages SET category = ?, subcategory = ?, category_confidence = ?, last_updated = ?
		 WHERE tenant = ? AND page_id = ?`,
		c.Category, c.Subcategory, c.Confidence, time.Now().UTC(), tenant, pageID)
	if err != nil {
		return fmt.Errorf("failed to update page classification: %w", err)
	}
	return requireRow(res, ErrPageNotFound)
}

// requireRow converts a zero-rows-affected result into the given sentinel.
func requireRow(res sql.Result, sentinel error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return sentinel
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (*models.Page, error) {
	var (
		p                   models.Page
		cms, bucket         string
		keywords, countries string
	)
	err := row.Scan(
		&p.Tenant, &p.PageID, &p.Name, &p.WebsiteURL, &cms, &p.Theme, &p.ProductCount,
		&p.ActiveAdCount, &bucket, &p.Category, &p.Subcategory, &p.CategoryConfidence,
		&p.Currency, &keywords, &countries, &p.FirstSeen, &p.LastUpdated, &p.LastScanned,
		&p.LastRunID, &p.WasCreatedInLastRun)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan page: %w", err)
	}

	p.CMS = models.CMS(cms)
	p.SizeBucket = models.SizeBucket(bucket)
	if err := fromJSON(keywords, &p.Keywords); err != nil {
		return nil, err
	}
	if err := fromJSON(countries, &p.Countries); err != nil {
		return nil, err
	}
	return &p, nil
}
