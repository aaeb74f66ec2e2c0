// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package scoring

import "github.com/tomtom215/adscout/internal/models"

// Thresholds are the upper bounds (exclusive) of the XS..XL buckets.
// Counts at or above XLMax land in XXL; zero is always "inactif".
type Thresholds struct {
	XSMax int `json:"xs_max"`
	SMax  int `json:"s_max"`
	MMax  int `json:"m_max"`
	LMax  int `json:"l_max"`
	XLMax int `json:"xl_max"`
}

// DefaultThresholds returns the standard bucket boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{XSMax: 10, SMax: 20, MMax: 35, LMax: 80, XLMax: 150}
}

// Bucket derives the size bucket from an active-ad count. Pure function of
// (thresholds, count).
func (t Thresholds) Bucket(activeAdCount int) models.SizeBucket {
	switch {
	case activeAdCount <= 0:
		return models.SizeInactive
	case activeAdCount < t.XSMax:
		return models.SizeXS
	case activeAdCount < t.SMax:
		return models.SizeS
	case activeAdCount < t.MMax:
		return models.SizeM
	case activeAdCount < t.LMax:
		return models.SizeL
	case activeAdCount < t.XLMax:
		return models.SizeXL
	default:
		return models.SizeXXL
	}
}
