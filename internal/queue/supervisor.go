// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/adscout/internal/config"
	"github.com/tomtom215/adscout/internal/database"
	"github.com/tomtom215/adscout/internal/logging"
	"github.com/tomtom215/adscout/internal/metrics"
	"github.com/tomtom215/adscout/internal/models"
)

// Runner executes one claimed run to its terminal state.
type Runner interface {
	Run(ctx context.Context, run *models.SearchRun) error
}

// Supervisor is the background worker pool. It claims pending runs on a
// fixed tick and executes up to Workers of them concurrently. It
// implements suture.Service and is restarted by the supervision tree on
// failure.
type Supervisor struct {
	db     *database.DB
	cfg    *config.QueueConfig
	runner Runner

	slots chan struct{}
	wg    sync.WaitGroup
}

// NewSupervisor wires the worker pool. It does not start anything; the
// supervision tree calls Serve.
func NewSupervisor(db *database.DB, cfg *config.QueueConfig, runner Runner) *Supervisor {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Supervisor{
		db:     db,
		cfg:    cfg,
		runner: runner,
		slots:  make(chan struct{}, workers),
	}
}

// Serve implements suture.Service. It recovers stale runs once, then
// admits pending runs every poll tick until ctx ends.
func (s *Supervisor) Serve(ctx context.Context) error {
	logger := logging.WithComponent("queue")

	s.recoverStaleRuns(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	logger.Info().Int("workers", cap(s.slots)).
		Dur("poll_interval", s.cfg.PollInterval).Msg("run queue started")

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			logger.Info().Msg("run queue stopped")
			return ctx.Err()
		case <-ticker.C:
			s.updateDepth(ctx)
			s.admit(ctx)
			s.markStale(ctx)
		}
	}
}

// String names the service in supervision tree logs.
func (s *Supervisor) String() string { return "run-queue" }

// admit claims pending runs while free worker slots remain.
func (s *Supervisor) admit(ctx context.Context) {
	for {
		select {
		case s.slots <- struct{}{}:
		default:
			return
		}

		run, err := s.db.ClaimNextPending(ctx)
		if err != nil {
			<-s.slots
			if !errors.Is(err, database.ErrRunNotClaimable) {
				logging.Error().Err(err).Msg("failed to claim pending run")
			}
			return
		}

		s.wg.Add(1)
		metrics.QueueActiveWorkers.Inc()
		go func() {
			defer func() {
				metrics.QueueActiveWorkers.Dec()
				<-s.slots
				s.wg.Done()
			}()
			logging.Info().Int64("run_id", run.ID).Str("tenant", run.Tenant).
				Msg("run claimed")
			if err := s.runner.Run(ctx, run); err != nil {
				logging.Warn().Err(err).Int64("run_id", run.ID).Msg("run ended with error")
			}
		}()
	}
}

// recoverStaleRuns marks running runs with a stale heartbeat as
// interrupted. Called once at start; a crashed instance's runs become
// restartable instead of hanging in running forever.
func (s *Supervisor) recoverStaleRuns(ctx context.Context) {
	n, err := s.db.MarkStaleRunsInterrupted(ctx, s.cfg.StaleThreshold)
	if err != nil {
		logging.Error().Err(err).Msg("stale run recovery failed")
		return
	}
	if n > 0 {
		metrics.QueueStaleRunsRecovered.Add(float64(n))
		logging.Warn().Int64("count", n).Msg("stale runs marked interrupted")
	}
}

// markStale runs the same sweep on every tick so runs orphaned by a
// sibling instance are caught while this one keeps serving.
func (s *Supervisor) markStale(ctx context.Context) {
	n, err := s.db.MarkStaleRunsInterrupted(ctx, s.cfg.StaleThreshold)
	if err != nil {
		logging.Warn().Err(err).Msg("stale run sweep failed")
		return
	}
	if n > 0 {
		metrics.QueueStaleRunsRecovered.Add(float64(n))
	}
}

func (s *Supervisor) updateDepth(ctx context.Context) {
	n, err := s.db.CountPendingRuns(ctx)
	if err != nil {
		return
	}
	metrics.QueueDepth.Set(float64(n))
}
