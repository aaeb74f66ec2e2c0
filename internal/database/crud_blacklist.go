// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package database

import (
	"context"
	"fmt"
	"time"
)

// AddToBlacklist excludes a page from future results for the tenant.
// Idempotent.
func (db *DB) AddToBlacklist(ctx context.Context, tenant, pageID, reason string) (err error) {
	defer instrument("insert", "blacklist")(&err)

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO blacklist (tenant, page_id, reason, added_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (tenant, page_id) DO NOTHING`,
		tenant, pageID, nullIfEmpty(reason), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to blacklist page %s: %w", pageID, err)
	}
	return nil
}

// RemoveFromBlacklist re-admits a page. Removing an absent entry is a no-op.
func (db *DB) RemoveFromBlacklist(ctx context.Context, tenant, pageID string) (err error) {
	defer instrument("delete", "blacklist")(&err)

	_, err = db.conn.ExecContext(ctx,
		`DELETE FROM blacklist WHERE tenant = ? AND page_id = ?`, tenant, pageID)
	if err != nil {
		return fmt.Errorf("failed to unblacklist page %s: %w", pageID, err)
	}
	return nil
}

// BlacklistedPages returns the set of blacklisted page ids for a tenant.
// The orchestrator loads this once per run rather than probing per page.
func (db *DB) BlacklistedPages(ctx context.Context, tenant string) (set map[string]struct{}, err error) {
	defer instrument("select", "blacklist")(&err)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT page_id FROM blacklist WHERE tenant = ?`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to load blacklist: %w", err)
	}
	defer closeWithLog(rows, "blacklist rows")

	set = make(map[string]struct{})
	for rows.Next() {
		var pageID string
		if err := rows.Scan(&pageID); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist row: %w", err)
		}
		set[pageID] = struct{}{}
	}
	return set, rows.Err()
}
