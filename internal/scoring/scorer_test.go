// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package scoring

import (
	"testing"
	"time"

	"github.com/tomtom215/adscout/internal/models"
)

func TestScorerMatch(t *testing.T) {
	ref := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	scorer := NewScorer(nil)

	tests := []struct {
		name      string
		ageDays   int // -1 means unknown creation date
		reach     int64
		wantMatch bool
		wantLabel string
	}{
		{"young high reach", 2, 20_000, true, "≤4d & >15k"},
		{"exactly at boundary", 4, 15_000, true, "≤4d & >15k"},
		{"young but weak", 3, 14_999, false, ""},
		{"five days fifty k", 5, 50_000, true, "≤5d & >20k"},
		{"first match wins over later pairs", 4, 400_000, true, "≤4d & >15k"},
		{"mid-age mid-reach", 12, 150_000, true, "≤15d & >100k"},
		{"old needs huge reach", 29, 400_000, true, "≤29d & >400k"},
		{"too old", 30, 1_000_000, false, ""},
		{"unknown creation date", -1, 500_000, false, ""},
		{"zero reach", 1, 0, false, ""},
		{"negative reach", 1, -5, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ad := &models.Ad{Reach: tt.reach}
			if tt.ageDays >= 0 {
				created := ref.AddDate(0, 0, -tt.ageDays)
				ad.CreatedDate = &created
			}

			c, ok := scorer.Match(ad, ref)
			if ok != tt.wantMatch {
				t.Fatalf("Match() = %v, want %v", ok, tt.wantMatch)
			}
			if ok && c.Label() != tt.wantLabel {
				t.Errorf("Label() = %q, want %q", c.Label(), tt.wantLabel)
			}
		})
	}
}

func TestScorerDeterminism(t *testing.T) {
	ref := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	created := ref.AddDate(0, 0, -6)
	ad := &models.Ad{Tenant: "t1", AdID: "a", PageID: "p", Reach: 35_000, CreatedDate: &created}

	scorer := NewScorer(nil)
	first, ok := scorer.Score(ad, 1, ref)
	if !ok {
		t.Fatal("expected a match")
	}
	for i := 0; i < 10; i++ {
		again, ok := NewScorer(nil).Score(ad, 1, ref)
		if !ok || again.Criterion != first.Criterion {
			t.Fatalf("criterion not deterministic: %q vs %q", again.Criterion, first.Criterion)
		}
	}
	if first.Criterion != "≤6d & >30k" {
		t.Errorf("Criterion = %q", first.Criterion)
	}
	if first.AgeAtDetection != 6 || first.ReachAtDetection != 35_000 {
		t.Errorf("snapshot fields wrong: %+v", first)
	}
}

func TestCustomCriteriaOrder(t *testing.T) {
	ref := time.Now().UTC()
	created := ref.AddDate(0, 0, -1)
	ad := &models.Ad{Reach: 100_000, CreatedDate: &created}

	// A deliberately reordered list: the first listed pair names the match
	// even when a later pair also applies.
	scorer := NewScorer([]Criterion{{30, 50_000}, {4, 15_000}})
	c, ok := scorer.Match(ad, ref)
	if !ok {
		t.Fatal("expected a match")
	}
	if c.Label() != "≤30d & >50k" {
		t.Errorf("first matching pair should win, got %q", c.Label())
	}
}

func TestSizeBucket(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		count int
		want  models.SizeBucket
	}{
		{0, models.SizeInactive},
		{-3, models.SizeInactive},
		{1, models.SizeXS},
		{9, models.SizeXS},
		{10, models.SizeS},
		{19, models.SizeS},
		{20, models.SizeM},
		{34, models.SizeM},
		{35, models.SizeL},
		{79, models.SizeL},
		{80, models.SizeXL},
		{149, models.SizeXL},
		{150, models.SizeXXL},
		{10_000, models.SizeXXL},
	}

	for _, tt := range tests {
		if got := th.Bucket(tt.count); got != tt.want {
			t.Errorf("Bucket(%d) = %s, want %s", tt.count, got, tt.want)
		}
	}
}

func TestSizeBucketCustomThresholds(t *testing.T) {
	th := Thresholds{XSMax: 2, SMax: 4, MMax: 6, LMax: 8, XLMax: 10}
	if got := th.Bucket(5); got != models.SizeM {
		t.Errorf("Bucket(5) = %s, want M", got)
	}
	if got := th.Bucket(10); got != models.SizeXXL {
		t.Errorf("Bucket(10) = %s, want XXL", got)
	}
}
