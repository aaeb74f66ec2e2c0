// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/adscout/internal/archive"
	"github.com/tomtom215/adscout/internal/logging"
	"github.com/tomtom215/adscout/internal/models"
	"github.com/tomtom215/adscout/internal/rotator"
)

// archiveCall runs one archive operation under the credential and retry
// contract:
//
//   - transient errors retry with 1s/2s/4s backoff, up to MaxRetries
//   - a rate-limited credential is released and another one is tried,
//     without consuming a transient retry
//   - with no credential available, the call waits out the shortest
//     remaining back-off window, unless that window exceeds the phase
//     budget, in which case it fails with "no eligible credentials"
//   - a fatal error deactivates the credential and is returned
func (o *Orchestrator) archiveCall(ctx context.Context, st *runState,
	fn func(cred *models.Credential) ([]models.AdRecord, error)) ([]models.AdRecord, error) {

	var transientAttempts int
	for {
		lease, err := o.rotator.Acquire(ctx)
		if errors.Is(err, rotator.ErrNoCredentialAvailable) {
			wait, werr := o.rotator.NextEligibleWait(ctx)
			if werr != nil {
				return nil, fmt.Errorf("no eligible credentials: %w", werr)
			}
			if deadline, ok := ctx.Deadline(); ok && wait > time.Until(deadline) {
				return nil, fmt.Errorf("no eligible credentials: shortest back-off %s exceeds the phase budget",
					wait.Round(time.Second))
			}
			logging.Debug().Dur("wait", wait).Msg("all credentials rate limited, waiting")
			if serr := sleepCtx(ctx, wait); serr != nil {
				return nil, serr
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		start := o.now()
		records, callErr := fn(lease.Credential)
		latency := o.now().Sub(start)

		if callErr == nil {
			st.countCall(models.ChannelArchiveAPI, latency, false, false, o.cfg.Archive.CostPerCallMicros)
			_ = lease.Report(ctx, rotator.Success())
			return records, nil
		}

		ae := archive.AsError(callErr)
		switch ae.Kind {
		case archive.KindRateLimited:
			st.countCall(models.ChannelArchiveAPI, latency, false, true, o.cfg.Archive.CostPerCallMicros)
			_ = lease.Report(ctx, rotator.RateLimited(ae.RetryAfter))
			// Another credential may be usable right away.
			continue

		case archive.KindFatal:
			st.countCall(models.ChannelArchiveAPI, latency, true, false, o.cfg.Archive.CostPerCallMicros)
			_ = lease.Report(ctx, rotator.FatalError(ae.Message))
			return nil, ae

		default:
			st.countCall(models.ChannelArchiveAPI, latency, true, false, o.cfg.Archive.CostPerCallMicros)
			_ = lease.Report(ctx, rotator.TransientError(ae.Message))
			if transientAttempts >= o.cfg.Archive.MaxRetries {
				return nil, fmt.Errorf("retries exhausted: %w", ae)
			}
			backoff := time.Second << transientAttempts
			transientAttempts++
			if serr := sleepCtx(ctx, backoff); serr != nil {
				return nil, serr
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
