// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package database

import (
	"errors"
	"io"

	"github.com/tomtom215/adscout/internal/logging"
)

// Sentinel errors returned by repository methods. Callers branch on these
// with errors.Is.
var (
	// ErrRunNotFound is returned when a search run id does not exist.
	ErrRunNotFound = errors.New("search run not found")

	// ErrPageNotFound is returned when a page id does not exist for the tenant.
	ErrPageNotFound = errors.New("page not found")

	// ErrCredentialNotFound is returned when a credential id does not exist.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrInvalidTransition is returned when a status update violates the
	// run state machine.
	ErrInvalidTransition = errors.New("invalid run status transition")

	// ErrRunNotClaimable is returned when a claim races and loses, or the
	// run is no longer pending.
	ErrRunNotClaimable = errors.New("run not claimable")
)

// closeQuietly closes a resource and explicitly ignores any error.
// Use in error paths where Close() errors are not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}

// closeWithLog closes a resource and logs any error.
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}
