// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package rotator

import "time"

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeTransient
	outcomeRateLimited
	outcomeFatal
)

// Outcome describes how a leased credential was used. Construct via the
// factory functions below.
type Outcome struct {
	kind       outcomeKind
	message    string
	retryAfter time.Duration
}

// Success reports a successful call.
func Success() Outcome {
	return Outcome{kind: outcomeSuccess}
}

// TransientError reports a retryable failure (network error, 5xx).
func TransientError(msg string) Outcome {
	return Outcome{kind: outcomeTransient, message: msg}
}

// RateLimited reports a rate-limit rejection. retryAfter may be zero, in
// which case the rotator applies its configured default back-off.
func RateLimited(retryAfter time.Duration) Outcome {
	return Outcome{kind: outcomeRateLimited, retryAfter: retryAfter}
}

// FatalError reports a permanent failure (revoked or invalid credential);
// the credential is deactivated.
func FatalError(msg string) Outcome {
	return Outcome{kind: outcomeFatal, message: msg}
}
