// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

// Package classifier defines the thematic classification collaborator. The
// concrete implementation (an external LLM service) lives outside the
// core; deployments without one run with Disabled and skip the phase.
package classifier

import (
	"context"

	"github.com/tomtom215/adscout/internal/models"
)

// Classifier assigns a thematic category to pages in batch.
type Classifier interface {
	// Available reports whether classification can run at all.
	Available() bool

	// ClassifyBatch returns a verdict per page id. Pages absent from the
	// result map stay unclassified; per-page failures are carried in the
	// verdict's Error field.
	ClassifyBatch(ctx context.Context, contents []models.SiteContent) (map[string]models.Classification, error)
}

// Disabled is the no-op classifier used when no external service is
// configured.
type Disabled struct{}

// Available implements Classifier.
func (Disabled) Available() bool { return false }

// ClassifyBatch implements Classifier.
func (Disabled) ClassifyBatch(_ context.Context, _ []models.SiteContent) (map[string]models.Classification, error) {
	return nil, nil
}

var _ Classifier = Disabled{}
