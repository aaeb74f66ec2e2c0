// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package scoring

import (
	"fmt"
	"time"

	"github.com/tomtom215/adscout/internal/models"
)

// Explain returns a human-readable verdict for an ad: why it won, or which
// criterion it came closest to and by how much.
func (s *Scorer) Explain(ad *models.Ad, ref time.Time) string {
	if c, ok := s.Match(ad, ref); ok {
		return fmt.Sprintf("WINNING: age %dd, reach %d — criterion %s",
			ad.AgeDays(ref), ad.Reach, c.Label())
	}

	age := ad.AgeDays(ref)
	if age < 0 {
		return "NON-WINNING: creation date unknown"
	}
	if ad.Reach <= 0 {
		return "NON-WINNING: no reach data"
	}

	// Among criteria whose age window still admits this ad, find the one
	// it missed by the least reach.
	var (
		closest  Criterion
		shortBy  int64 = -1
		eligible       = false
	)
	for _, c := range s.criteria {
		if age > c.MaxAgeDays {
			continue
		}
		eligible = true
		delta := c.MinReach - ad.Reach
		if shortBy < 0 || delta < shortBy {
			shortBy = delta
			closest = c
		}
	}
	if !eligible {
		return "NON-WINNING: age exceeds all criteria"
	}
	return fmt.Sprintf("NON-WINNING: closest missed criterion was %s, short by %d reach",
		closest.Label(), shortBy)
}
