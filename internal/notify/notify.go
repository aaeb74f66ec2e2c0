// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

// Package notify publishes run lifecycle events. Delivery is best-effort
// by contract: a publish failure is logged and never affects run status.
package notify

import (
	"context"
	"time"

	"github.com/tomtom215/adscout/internal/models"
)

// RunEvent is the payload published when a run reaches a terminal state.
type RunEvent struct {
	RunID       int64            `json:"run_id"`
	Tenant      string           `json:"tenant"`
	FinalStatus models.RunStatus `json:"final_status"`
	PagesFound  int              `json:"pages_found"`
	WinningAds  int              `json:"winning_ads"`
	EndedAt     time.Time        `json:"ended_at"`
}

// Notifier publishes run lifecycle events.
type Notifier interface {
	// PublishRunFinished emits the terminal event for a run. Errors are
	// returned for logging only; callers must not fail the run on them.
	PublishRunFinished(ctx context.Context, event RunEvent) error

	Close() error
}

// Noop is the notifier used when eventing is disabled.
type Noop struct{}

// PublishRunFinished implements Notifier.
func (Noop) PublishRunFinished(_ context.Context, _ RunEvent) error { return nil }

// Close implements Notifier.
func (Noop) Close() error { return nil }

var _ Notifier = Noop{}
