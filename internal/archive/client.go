// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

// Package archive is the ad-archive API client. The orchestrator drives it
// through the rotator: every call is made on behalf of one credential, and
// failures are classified so the caller can apply the retry contract.
package archive

import (
	"context"

	"github.com/tomtom215/adscout/internal/models"
)

// Client is the ad-archive API surface consumed by the orchestrator.
// Implementations classify every failure as *Error.
type Client interface {
	// SearchByKeyword returns the active ads matching a keyword in the
	// given countries and languages.
	SearchByKeyword(ctx context.Context, keyword string, countries, languages []string, cred *models.Credential) ([]models.AdRecord, error)

	// GetPageAds returns the active ads of one page.
	GetPageAds(ctx context.Context, pageID string, countries, languages []string, cred *models.Credential) ([]models.AdRecord, error)
}
