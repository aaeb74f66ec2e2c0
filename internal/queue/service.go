// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

// Package queue owns the durable run queue: submission, cancellation,
// restart, and the background workers that claim and execute pending
// runs. All queue state lives in the repository, so a crash loses
// nothing and stale runs are recovered on the next start.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tomtom215/adscout/internal/database"
	"github.com/tomtom215/adscout/internal/models"
)

// Validation errors returned by Submit.
var (
	ErrNoKeywords  = errors.New("a run needs at least one keyword")
	ErrNoTenant    = errors.New("a run needs a tenant")
	ErrRestartOnly = errors.New("only interrupted or failed runs can be restarted")
)

// Service is the run-queue API consumed by the HTTP layer.
type Service struct {
	db *database.DB
}

// NewService returns the queue API over the given repository.
func NewService(db *database.DB) *Service {
	return &Service{db: db}
}

// Submit validates and enqueues a run. The run comes back with its
// assigned id and pending status; a worker picks it up on the next tick.
func (s *Service) Submit(ctx context.Context, run *models.SearchRun) error {
	run.Tenant = strings.TrimSpace(run.Tenant)
	if run.Tenant == "" {
		return ErrNoTenant
	}

	var keywords []string
	for _, kw := range run.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) == 0 {
		return ErrNoKeywords
	}
	run.Keywords = keywords
	if run.MinActiveAds < 0 {
		run.MinActiveAds = 0
	}

	return s.db.CreateRun(ctx, run)
}

// Cancel requests cancellation of a pending or running run. A running
// run stops at its next phase boundary.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	return s.db.RequestCancel(ctx, id)
}

// Status returns the run with its live progress fields.
func (s *Service) Status(ctx context.Context, id int64) (*models.SearchRun, error) {
	return s.db.GetRun(ctx, id)
}

// ListActive returns a tenant's pending and running runs, newest first.
func (s *Service) ListActive(ctx context.Context, tenant string) ([]*models.SearchRun, error) {
	pending, err := s.db.ListRuns(ctx, tenant, models.RunPending, listLimit, 0)
	if err != nil {
		return nil, err
	}
	running, err := s.db.ListRuns(ctx, tenant, models.RunRunning, listLimit, 0)
	if err != nil {
		return nil, err
	}
	return append(running, pending...), nil
}

const listLimit = 200

// List returns a tenant's runs filtered by optional status.
func (s *Service) List(ctx context.Context, tenant string, status models.RunStatus, limit, offset int) ([]*models.SearchRun, error) {
	if limit <= 0 || limit > listLimit {
		limit = listLimit
	}
	return s.db.ListRuns(ctx, tenant, status, limit, offset)
}

// ListInterrupted returns every interrupted run, oldest first.
func (s *Service) ListInterrupted(ctx context.Context) ([]*models.SearchRun, error) {
	return s.db.ListInterruptedRuns(ctx)
}

// Restart re-queues an interrupted or failed run. Progress is cleared
// and the run re-enters the queue at the tail of its priority band.
func (s *Service) Restart(ctx context.Context, id int64) error {
	err := s.db.UpdateRunStatus(ctx, id, models.RunPending, "")
	if errors.Is(err, database.ErrInvalidTransition) {
		return fmt.Errorf("%w: run %d", ErrRestartOnly, id)
	}
	return err
}
