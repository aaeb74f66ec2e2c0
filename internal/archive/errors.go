// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package archive

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies archive client failures for the retry contract.
type ErrorKind int

const (
	// KindTransient errors may be retried on the same credential.
	KindTransient ErrorKind = iota
	// KindRateLimited means the credential must back off; RetryAfter may
	// carry the server's hint.
	KindRateLimited
	// KindFatal means the credential is dead (revoked, unauthorized).
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a classified archive client failure.
type Error struct {
	Kind       ErrorKind
	RetryAfter time.Duration // only for KindRateLimited
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("archive %s error: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("archive %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a classified error.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// NewRateLimitError builds a rate-limit error with a retry hint (zero when
// the server gave none).
func NewRateLimitError(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, RetryAfter: retryAfter, Message: "rate limited"}
}

// AsError extracts a classified *Error from err. Unclassified errors map to
// KindTransient so unexpected failures stay retryable.
func AsError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: KindTransient, Message: err.Error(), Cause: err}
}
