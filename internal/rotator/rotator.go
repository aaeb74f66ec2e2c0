// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

// Package rotator multiplexes archive API calls over a pool of credentials
// with per-credential rate-limit state and back-off.
//
// Selection is least-recently-used over the dispatchable set (active and
// not in back-off), ties broken by id. Eligibility is always checked
// against live repository state, never a cached snapshot, so a credential
// rate-limited by another process is skipped here too.
package rotator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/adscout/internal/logging"
	"github.com/tomtom215/adscout/internal/metrics"
	"github.com/tomtom215/adscout/internal/models"
)

// ErrNoCredentialAvailable is returned by Acquire when no credential is
// currently dispatchable.
var ErrNoCredentialAvailable = errors.New("no credential available")

// Repository is the credential storage the rotator operates on.
// *database.DB satisfies it.
type Repository interface {
	ListCredentials(ctx context.Context) ([]*models.Credential, error)
	TouchCredential(ctx context.Context, id int64) error
	RecordCredentialError(ctx context.Context, id int64) error
	RateLimitCredential(ctx context.Context, id int64, until time.Time) error
	DeactivateCredential(ctx context.Context, id int64) error
}

// Rotator hands out credentials and applies usage outcomes.
type Rotator struct {
	repo           Repository
	defaultBackoff time.Duration
	now            func() time.Time

	// mu serializes Acquire so two concurrent calls never pick the same
	// least-recently-used credential before the first stamps it.
	mu sync.Mutex

	logger zerolog.Logger
}

// New creates a rotator. defaultBackoff is applied to RateLimited outcomes
// that carry no retry hint.
func New(repo Repository, defaultBackoff time.Duration) *Rotator {
	if defaultBackoff <= 0 {
		defaultBackoff = 60 * time.Second
	}
	return &Rotator{
		repo:           repo,
		defaultBackoff: defaultBackoff,
		now:            time.Now,
		logger:         logging.WithComponent("rotator"),
	}
}

// Lease is a handle on one acquired credential. Exactly one Report call is
// expected per lease.
type Lease struct {
	Credential *models.Credential

	rot      *Rotator
	reported bool
}

// Acquire returns the dispatchable credential with the oldest last_used_at,
// stamping its usage. Returns ErrNoCredentialAvailable when the pool has no
// eligible credential right now.
func (r *Rotator) Acquire(ctx context.Context) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.now()
	creds, err := r.repo.ListCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	now := r.now()
	usable, limited := partition(creds, now)
	metrics.UpdateCredentialPool(len(usable), limited)

	if len(usable) == 0 {
		return nil, ErrNoCredentialAvailable
	}

	// ListCredentials orders by last_used_at ascending (NULLS FIRST) then
	// id, so the first usable entry is the fair pick.
	chosen := usable[0]
	if err := r.repo.TouchCredential(ctx, chosen.ID); err != nil {
		return nil, fmt.Errorf("failed to stamp credential %d: %w", chosen.ID, err)
	}
	metrics.CredentialAcquireWait.Observe(r.now().Sub(start).Seconds())

	r.logger.Debug().Int64("credential_id", chosen.ID).Msg("credential acquired")
	return &Lease{Credential: chosen, rot: r}, nil
}

// ListUsable returns the currently dispatchable credentials, fairness order.
func (r *Rotator) ListUsable(ctx context.Context) ([]*models.Credential, error) {
	creds, err := r.repo.ListCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	usable, _ := partition(creds, r.now())
	return usable, nil
}

// NextEligibleWait returns how long until the soonest rate-limited active
// credential becomes dispatchable again. Returns ErrNoCredentialAvailable
// when the pool holds no active credentials at all.
func (r *Rotator) NextEligibleWait(ctx context.Context) (time.Duration, error) {
	creds, err := r.repo.ListCredentials(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list credentials: %w", err)
	}

	now := r.now()
	var best time.Duration = -1
	anyActive := false
	for _, c := range creds {
		if !c.Active {
			continue
		}
		anyActive = true
		if c.Usable(now) {
			return 0, nil
		}
		wait := c.RateLimitedUntil.Sub(now)
		if best < 0 || wait < best {
			best = wait
		}
	}
	if !anyActive {
		return 0, ErrNoCredentialAvailable
	}
	return best, nil
}

// Report applies the outcome of using the leased credential. Safe to call
// once; repeat calls are no-ops.
func (l *Lease) Report(ctx context.Context, outcome Outcome) error {
	if l.reported {
		return nil
	}
	l.reported = true
	return l.rot.report(ctx, l.Credential.ID, outcome)
}

func (r *Rotator) report(ctx context.Context, id int64, outcome Outcome) error {
	switch outcome.kind {
	case outcomeSuccess:
		return nil

	case outcomeTransient:
		r.logger.Warn().Int64("credential_id", id).Str("error", outcome.message).
			Msg("transient error on credential")
		return r.repo.RecordCredentialError(ctx, id)

	case outcomeRateLimited:
		retryAfter := outcome.retryAfter
		if retryAfter <= 0 {
			retryAfter = r.defaultBackoff
		}
		until := r.now().Add(retryAfter)
		r.logger.Warn().Int64("credential_id", id).Dur("retry_after", retryAfter).
			Msg("credential rate limited")
		return r.repo.RateLimitCredential(ctx, id, until)

	case outcomeFatal:
		r.logger.Error().Int64("credential_id", id).Str("error", outcome.message).
			Msg("fatal error, deactivating credential")
		if err := r.repo.RecordCredentialError(ctx, id); err != nil {
			return err
		}
		return r.repo.DeactivateCredential(ctx, id)

	default:
		return fmt.Errorf("unknown outcome kind %d", outcome.kind)
	}
}

// partition splits credentials into the dispatchable set (order preserved)
// and a count of those merely in rate-limit back-off.
func partition(creds []*models.Credential, now time.Time) (usable []*models.Credential, limited int) {
	for _, c := range creds {
		switch {
		case c.Usable(now):
			usable = append(usable, c)
		case c.Active:
			limited++
		}
	}
	return usable, limited
}
