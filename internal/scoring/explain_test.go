// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package scoring

import (
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/adscout/internal/models"
)

func TestExplain(t *testing.T) {
	ref := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	scorer := NewScorer(nil)

	mk := func(ageDays int, reach int64) *models.Ad {
		ad := &models.Ad{Reach: reach}
		if ageDays >= 0 {
			created := ref.AddDate(0, 0, -ageDays)
			ad.CreatedDate = &created
		}
		return ad
	}

	tests := []struct {
		name string
		ad   *models.Ad
		want string
	}{
		{"winner", mk(3, 20_000), "WINNING: age 3d, reach 20000 — criterion ≤4d & >15k"},
		{"near miss", mk(3, 14_000), "short by 1000 reach"},
		{"too old", mk(60, 1_000_000), "age exceeds all criteria"},
		{"unknown date", mk(-1, 50_000), "creation date unknown"},
		{"no reach", mk(2, 0), "no reach data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scorer.Explain(tt.ad, ref)
			if !strings.Contains(got, tt.want) {
				t.Errorf("Explain() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}
