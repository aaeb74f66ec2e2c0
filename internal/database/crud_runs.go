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

const runColumns = `id, tenant, keywords, countries, languages, min_active_ads,
	cms_filter, status, created_at, started_at, ended_at, last_heartbeat,
	phase_number, phase_name, percent, message, priority, run_log_id, error_message`

// CreateRun inserts a new pending run and returns its assigned id.
func (db *DB) CreateRun(ctx context.Context, run *models.SearchRun) (err error) {
	defer instrument("insert", "search_runs")(&err)

	run.Status = models.RunPending
	run.CreatedAt = time.Now().UTC()

	err = db.conn.QueryRowContext(ctx,
		`INSERT INTO search_runs (tenant, keywords, countries, languages,
			min_active_ads, cms_filter, status, created_at, priority)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		run.Tenant, mustJSON(run.Keywords), mustJSON(run.Countries),
		mustJSON(run.Languages), run.MinActiveAds, mustJSON(run.CMSFilter),
		string(run.Status), run.CreatedAt, run.Priority).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun returns one run or ErrRunNotFound.
func (db *DB) GetRun(ctx context.Context, id int64) (run *models.SearchRun, err error) {
	defer instrument("select", "search_runs")(&err)

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM search_runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns runs for a tenant, newest first. An empty status lists
// all states.
func (db *DB) ListRuns(ctx context.Context, tenant string, status models.RunStatus, limit, offset int) (runs []*models.SearchRun, err error) {
	defer instrument("select", "search_runs")(&err)

	query := `SELECT ` + runColumns + ` FROM search_runs WHERE tenant = ?`
	args := []any{tenant}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	return db.queryRuns(ctx, query, args...)
}

// ListInterruptedRuns returns interrupted runs across tenants, oldest first.
func (db *DB) ListInterruptedRuns(ctx context.Context) (runs []*models.SearchRun, err error) {
	defer instrument("select", "search_runs")(&err)

	return db.queryRuns(ctx,
		`SELECT `+runColumns+` FROM search_runs WHERE status = 'interrupted'
		 ORDER BY created_at ASC`)
}

// ClaimNextPending atomically claims the oldest eligible pending run and
// moves it to running. Higher priority wins, then FIFO by creation time.
// Returns ErrRunNotClaimable when no pending run exists or the claim races
// and loses.
func (db *DB) ClaimNextPending(ctx context.Context) (run *models.SearchRun, err error) {
	defer instrument("update", "search_runs")(&err)

	row := db.conn.QueryRowContext(ctx,
		`SELECT id FROM search_runs WHERE status = 'pending'
		 ORDER BY priority DESC, created_at ASC, id ASC LIMIT 1`)

	var id int64
	if err = row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotClaimable
		}
		return nil, fmt.Errorf("failed to select pending run: %w", err)
	}

	now := time.Now().UTC()
	res, err := db.conn.ExecContext(ctx,
		`UPDATE search_runs SET status = 'running', started_at = ?, last_heartbeat = ?
		 WHERE id = ? AND status = 'pending'`, now, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to claim run %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		// Another worker won the race.
		return nil, ErrRunNotClaimable
	}

	return db.GetRun(ctx, id)
}

// UpdateRunStatus moves a run to a new status, enforcing the state machine.
// Terminal transitions stamp ended_at; restarts clear progress fields.
func (db *DB) UpdateRunStatus(ctx context.Context, id int64, to models.RunStatus, errorMessage string) (err error) {
	defer instrument("update", "search_runs")(&err)

	run, err := db.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if !models.ValidTransition(run.Status, to) {
		return fmt.Errorf("%w: %s -> %s for run %d", ErrInvalidTransition, run.Status, to, id)
	}

	now := time.Now().UTC()
	var res sql.Result
	switch {
	case to.IsTerminal():
		res, err = db.conn.ExecContext(ctx,
			`UPDATE search_runs SET status = ?, ended_at = ?, error_message = ?
			 WHERE id = ? AND status = ?`,
			string(to), now, nullIfEmpty(errorMessage), id, string(run.Status))
	case to == models.RunPending:
		// Restart: back to the queue with progress cleared.
		res, err = db.conn.ExecContext(ctx,
			`UPDATE search_runs SET status = 'pending', started_at = NULL,
				ended_at = NULL, last_heartbeat = NULL, phase_number = 0,
				phase_name = '', percent = 0, message = '', error_message = NULL,
				created_at = ?
			 WHERE id = ? AND status = ?`, now, id, string(run.Status))
	default:
		res, err = db.conn.ExecContext(ctx,
			`UPDATE search_runs SET status = ?, started_at = COALESCE(started_at, ?),
				last_heartbeat = ?
			 WHERE id = ? AND status = ?`,
			string(to), now, now, id, string(run.Status))
	}
	if err != nil {
		return fmt.Errorf("failed to update run %d status: %w", id, err)
	}
	return requireRow(res, ErrInvalidTransition)
}

// SetRunProgress updates the live progress fields of a running run.
func (db *DB) SetRunProgress(ctx context.Context, id int64, phaseNumber int, phaseName string, percent int, message string) (err error) {
	defer instrument("update", "search_runs")(&err)

	res, err := db.conn.ExecContext(ctx,
		`UPDATE search_runs SET phase_number = ?, phase_name = ?, percent = ?,
			message = ?, last_heartbeat = ?
		 WHERE id = ?`,
		phaseNumber, phaseName, percent, message, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update run %d progress: %w", id, err)
	}
	return requireRow(res, ErrRunNotFound)
}

// Heartbeat stamps the run's liveness timestamp.
func (db *DB) Heartbeat(ctx context.Context, id int64) (err error) {
	defer instrument("update", "search_runs")(&err)

	res, err := db.conn.ExecContext(ctx,
		`UPDATE search_runs SET last_heartbeat = ? WHERE id = ? AND status = 'running'`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to heartbeat run %d: %w", id, err)
	}
	return requireRow(res, ErrRunNotFound)
}

// GetRunStatus returns just the status column, cheap enough for phase
// boundary cancellation checks.
func (db *DB) GetRunStatus(ctx context.Context, id int64) (status models.RunStatus, err error) {
	defer instrument("select", "search_runs")(&err)

	var s string
	err = db.conn.QueryRowContext(ctx,
		`SELECT status FROM search_runs WHERE id = ?`, id).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRunNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read run %d status: %w", id, err)
	}
	return models.RunStatus(s), nil
}

// RequestCancel marks a pending or running run cancelled. Pending runs are
// cancelled immediately; running runs keep executing until the orchestrator
// observes the status at the next phase boundary.
func (db *DB) RequestCancel(ctx context.Context, id int64) (err error) {
	defer instrument("update", "search_runs")(&err)

	res, err := db.conn.ExecContext(ctx,
		`UPDATE search_runs SET status = 'cancelled', ended_at = ?
		 WHERE id = ? AND status IN ('pending', 'running')`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to cancel run %d: %w", id, err)
	}
	return requireRow(res, ErrInvalidTransition)
}

// MarkStaleRunsInterrupted moves running runs whose heartbeat is older than
// the threshold to interrupted. Returns how many runs were recovered.
func (db *DB) MarkStaleRunsInterrupted(ctx context.Context, threshold time.Duration) (n int64, err error) {
	defer instrument("update", "search_runs")(&err)

	cutoff := time.Now().UTC().Add(-threshold)
	res, err := db.conn.ExecContext(ctx,
		`UPDATE search_runs SET status = 'interrupted', ended_at = ?
		 WHERE status = 'running' AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		time.Now().UTC(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale runs: %w", err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// AttachRunLog records the run log id on the run row.
func (db *DB) AttachRunLog(ctx context.Context, id int64, runLogID string) (err error) {
	defer instrument("update", "search_runs")(&err)

	res, err := db.conn.ExecContext(ctx,
		`UPDATE search_runs SET run_log_id = ? WHERE id = ?`, runLogID, id)
	if err != nil {
		return fmt.Errorf("failed to attach run log to run %d: %w", id, err)
	}
	return requireRow(res, ErrRunNotFound)
}

// CountPendingRuns returns the current queue depth.
func (db *DB) CountPendingRuns(ctx context.Context) (n int, err error) {
	defer instrument("select", "search_runs")(&err)

	err = db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM search_runs WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending runs: %w", err)
	}
	return n, nil
}

func (db *DB) queryRuns(ctx context.Context, query string, args ...any) ([]*models.SearchRun, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer closeWithLog(rows, "search_runs rows")

	var runs []*models.SearchRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*models.SearchRun, error) {
	var (
		r                                       models.SearchRun
		status                                  string
		keywords, countries, languages, cmsList string
	)
	err := row.Scan(&r.ID, &r.Tenant, &keywords, &countries, &languages,
		&r.MinActiveAds, &cmsList, &status, &r.CreatedAt, &r.StartedAt,
		&r.EndedAt, &r.Heartbeat, &r.PhaseNumber, &r.PhaseName, &r.Percent,
		&r.Message, &r.Priority, &r.RunLogID, &r.ErrorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	r.Status = models.RunStatus(status)
	if err := fromJSON(keywords, &r.Keywords); err != nil {
		return nil, err
	}
	if err := fromJSON(countries, &r.Countries); err != nil {
		return nil, err
	}
	if err := fromJSON(languages, &r.Languages); err != nil {
		return nil, err
	}
	if err := fromJSON(cmsList, &r.CMSFilter); err != nil {
		return nil, err
	}
	return &r, nil
}

// nullIfEmpty maps "" to SQL NULL for optional text columns.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
