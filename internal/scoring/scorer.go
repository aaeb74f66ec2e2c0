// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

// Package scoring implements the winning-ad classifier and the page size
// buckets. Both are pure functions over their inputs so results are
// identical across runs and processes.
package scoring

import (
	"fmt"
	"time"

	"github.com/tomtom215/adscout/internal/models"
)

// Criterion is one (max age, min reach) rule. An ad matches when its age in
// days is within MaxAgeDays and its reach is at least MinReach.
type Criterion struct {
	MaxAgeDays int
	MinReach   int64
}

// Label renders the criterion in the canonical display form, e.g.
// "≤4d & >15k".
func (c Criterion) Label() string {
	return fmt.Sprintf("≤%dd & >%dk", c.MaxAgeDays, c.MinReach/1000)
}

// DefaultCriteria is the ordered default rule set. Order matters: the first
// matching pair names the criterion.
func DefaultCriteria() []Criterion {
	return []Criterion{
		{4, 15_000},
		{5, 20_000},
		{6, 30_000},
		{7, 40_000},
		{8, 50_000},
		{15, 100_000},
		{22, 200_000},
		{29, 400_000},
	}
}

// Scorer applies an ordered criteria list to ads.
type Scorer struct {
	criteria []Criterion
}

// NewScorer builds a scorer. A nil or empty list falls back to the defaults.
func NewScorer(criteria []Criterion) *Scorer {
	if len(criteria) == 0 {
		criteria = DefaultCriteria()
	}
	return &Scorer{criteria: criteria}
}

// Match returns the first criterion the ad satisfies relative to ref, and
// whether any matched. Ads with unknown creation date or non-positive reach
// never win.
func (s *Scorer) Match(ad *models.Ad, ref time.Time) (Criterion, bool) {
	if ad.Reach <= 0 {
		return Criterion{}, false
	}
	age := ad.AgeDays(ref)
	if age < 0 {
		return Criterion{}, false
	}
	for _, c := range s.criteria {
		if age <= c.MaxAgeDays && ad.Reach >= c.MinReach {
			return c, true
		}
	}
	return Criterion{}, false
}

// Score evaluates one ad and, on a match, returns the detection record.
func (s *Scorer) Score(ad *models.Ad, runID int64, ref time.Time) (*models.WinningAd, bool) {
	c, ok := s.Match(ad, ref)
	if !ok {
		return nil, false
	}
	return &models.WinningAd{
		Tenant:           ad.Tenant,
		AdID:             ad.AdID,
		PageID:           ad.PageID,
		Criterion:        c.Label(),
		ReachAtDetection: ad.Reach,
		AgeAtDetection:   ad.AgeDays(ref),
		DetectedAt:       ref,
		SearchRunID:      runID,
	}, true
}
