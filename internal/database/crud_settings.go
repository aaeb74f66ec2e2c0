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
	"time"
)

// Well-known settings keys. Values are stored as text; callers own parsing.
const (
	SettingSizeThresholds = "size_bucket_thresholds"
	SettingMinAdsDetail   = "min_ads_detail"
)

// SetSetting writes a tenant-scoped key/value flag.
func (db *DB) SetSetting(ctx context.Context, tenant, key, value string) (err error) {
	defer instrument("upsert", "settings")(&err)

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO settings (tenant, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (tenant, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		tenant, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set setting %s/%s: %w", tenant, key, err)
	}
	return nil
}

// GetSetting reads a tenant-scoped flag. Returns fallback when absent.
func (db *DB) GetSetting(ctx context.Context, tenant, key, fallback string) (value string, err error) {
	defer instrument("select", "settings")(&err)

	err = db.conn.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE tenant = ? AND key = ?`, tenant, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s/%s: %w", tenant, key, err)
	}
	return value, nil
}
