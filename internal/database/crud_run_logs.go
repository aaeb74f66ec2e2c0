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

	"github.com/google/uuid"

	"github.com/tomtom215/adscout/internal/models"
)

const runLogColumns = `id, run_id, tenant, keywords, countries, languages,
	min_active_ads, cms_filter, started_at, ended_at, final_status, phases,
	counts, api_counters, errors`

// InsertRunLog appends the final record of an executed run. The id is
// assigned here when empty. Run logs are append-only; there is no update.
func (db *DB) InsertRunLog(ctx context.Context, rl *models.RunLog) (err error) {
	defer instrument("insert", "run_logs")(&err)

	if rl.ID == "" {
		rl.ID = uuid.New().String()
	}

	phases, err := toJSON(rl.Phases)
	if err != nil {
		return err
	}
	counts, err := toJSON(rl.Counts)
	if err != nil {
		return err
	}
	counters, err := toJSON(rl.APICounters)
	if err != nil {
		return err
	}
	errs, err := toJSON(rl.Errors)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO run_logs (`+runLogColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rl.ID, rl.RunID, rl.Tenant, mustJSON(rl.Keywords), mustJSON(rl.Countries),
		mustJSON(rl.Languages), rl.MinActiveAds, mustJSON(rl.CMSFilter),
		rl.StartedAt, rl.EndedAt, string(rl.FinalStatus), phases, counts, counters, errs)
	if err != nil {
		return fmt.Errorf("failed to insert run log for run %d: %w", rl.RunID, err)
	}
	return nil
}

// GetRunLog returns the final record for a run, or ErrRunNotFound when the
// run never produced one.
func (db *DB) GetRunLog(ctx context.Context, runID int64) (rl *models.RunLog, err error) {
	defer instrument("select", "run_logs")(&err)

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+runLogColumns+` FROM run_logs WHERE run_id = ?
		 ORDER BY ended_at DESC LIMIT 1`, runID)
	return scanRunLog(row)
}

func scanRunLog(row rowScanner) (*models.RunLog, error) {
	var (
		rl                                      models.RunLog
		status                                  string
		keywords, countries, languages, cmsList string
		phases, counts, counters, errs          string
	)
	err := row.Scan(&rl.ID, &rl.RunID, &rl.Tenant, &keywords, &countries,
		&languages, &rl.MinActiveAds, &cmsList, &rl.StartedAt, &rl.EndedAt,
		&status, &phases, &counts, &counters, &errs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run log: %w", err)
	}

	rl.FinalStatus = models.RunStatus(status)
	for _, f := range []struct {
		raw string
		dst any
	}{
		{keywords, &rl.Keywords},
		{countries, &rl.Countries},
		{languages, &rl.Languages},
		{cmsList, &rl.CMSFilter},
		{phases, &rl.Phases},
		{counts, &rl.Counts},
		{counters, &rl.APICounters},
		{errs, &rl.Errors},
	} {
		if err := fromJSON(f.raw, f.dst); err != nil {
			return nil, err
		}
	}
	return &rl, nil
}
