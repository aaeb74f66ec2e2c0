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

	"github.com/tomtom215/adscout/internal/models"
)

const credentialColumns = `id, token, proxy_url, active, total_calls, total_errors,
	rate_limit_hits, last_used_at, last_error_at, rate_limited_until`

// InsertCredential adds a credential to the pool. Duplicate tokens are
// silently ignored so that seeding from config is idempotent.
func (db *DB) InsertCredential(ctx context.Context, token string, proxyURL *string) (err error) {
	defer instrument("insert", "credentials")(&err)

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO credentials (token, proxy_url, active)
		 VALUES (?, ?, true)
		 ON CONFLICT (token) DO NOTHING`, token, proxyURL)
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	return nil
}

// ListCredentials returns all credentials, least recently used first so the
// rotator's fairness order falls out of the query.
func (db *DB) ListCredentials(ctx context.Context) (creds []*models.Credential, err error) {
	defer instrument("select", "credentials")(&err)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials
		 ORDER BY last_used_at ASC NULLS FIRST, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer closeWithLog(rows, "credentials rows")

	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// GetCredential returns one credential or ErrCredentialNotFound.
func (db *DB) GetCredential(ctx context.Context, id int64) (cred *models.Credential, err error) {
	defer instrument("select", "credentials")(&err)

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, id)
	return scanCredential(row)
}

// TouchCredential stamps last_used_at and bumps the call counter. Called on
// every dispatch regardless of outcome.
func (db *DB) TouchCredential(ctx context.Context, id int64) (err error) {
	defer instrument("update", "credentials")(&err)

	res, err := db.conn.ExecContext(ctx,
		`UPDATE credentials SET last_used_at = ?, total_calls = total_calls + 1
		 WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch credential %d: %w", id, err)
	}
	return requireRow(res, ErrCredentialNotFound)
}

// RecordCredentialError bumps the error counter and stamps last_error_at.
func (db *DB) RecordCredentialError(ctx context.Context, id int64) (err error) {
	defer instrument("update", "credentials")(&err)

	res, err := db.conn.ExecContext(ctx,
		`UPDATE credentials SET total_errors = total_errors + 1, last_error_at = ?
		 WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record credential %d error: %w", id, err)
	}
	return requireRow(res, ErrCredentialNotFound)
}

// RateLimitCredential puts a credential into back-off until the given time
// and bumps the rate-limit counter.
func (db *DB) RateLimitCredential(ctx context.Context, id int64, until time.Time) (err error) {
	defer instrument("update", "credentials")(&err)

	res, err := db.conn.ExecContext(ctx,
		`UPDATE credentials SET rate_limited_until = ?, rate_limit_hits = rate_limit_hits + 1
		 WHERE id = ?`, until.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to rate-limit credential %d: %w", id, err)
	}
	return requireRow(res, ErrCredentialNotFound)
}

// DeactivateCredential removes a credential from rotation permanently,
// used on fatal (auth) errors.
func (db *DB) DeactivateCredential(ctx context.Context, id int64) (err error) {
	defer instrument("update", "credentials")(&err)

	res, err := db.conn.ExecContext(ctx,
		`UPDATE credentials SET active = false, last_error_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate credential %d: %w", id, err)
	}
	return requireRow(res, ErrCredentialNotFound)
}

func scanCredential(row rowScanner) (*models.Credential, error) {
	var c models.Credential
	err := row.Scan(&c.ID, &c.Token, &c.ProxyURL, &c.Active, &c.TotalCalls,
		&c.TotalErrors, &c.RateLimitHits, &c.LastUsedAt, &c.LastErrorAt,
		&c.RateLimitedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}
	return &c, nil
}
