// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/adscout/internal/models"
	"github.com/tomtom215/adscout/internal/scoring"
)

// runState is the in-memory working set of one run, built up phase by
// phase and flushed to the repository in the persistence phase. It is
// only touched from the run's own goroutine except counters and errors,
// which fan-out workers update through mu.
type runState struct {
	run       *models.SearchRun
	startedAt time.Time

	// ads deduplicated by AdID; the first keyword that surfaced an ad is
	// the one recorded on it.
	ads     map[string]*models.Ad
	adOrder []string

	// pages grouped in the aggregation phase, keyed by PageID.
	pages     map[string]*pageDraft
	pageOrder []string

	// pageURLs holds the first destination URL seen per page, taken from
	// the ad records before they are collapsed into Ad rows.
	pageURLs map[string]string

	// pageKeywords is the union of keywords that surfaced any ad of a
	// page, kept outside the ad set so dedup cannot lose a keyword.
	pageKeywords map[string]map[string]struct{}

	winners []*models.WinningAd

	mu       sync.Mutex
	counts   models.RunCounts
	counters map[models.Channel]*models.APICounter
	errors   []models.ErrorRecord
	phases   []models.PhaseRecord

	thresholds   scoring.Thresholds
	minAdsDetail int

	// noResults is set when aggregation or the CMS filter leaves zero
	// pages. Analysis and classification are then skipped; scoring and
	// persistence still run as long as any ad survived the blacklist.
	noResults   bool
	finalStatus models.RunStatus
}

// pageDraft is one page under construction plus everything discovered
// about it during the run.
type pageDraft struct {
	page           *models.Page
	ads            []*models.Ad
	keywordMatched string
	analysis       *models.WebsiteAnalysis
	classification *models.Classification
	wasNew         bool
}

func newRunState(run *models.SearchRun, now time.Time) *runState {
	return &runState{
		run:          run,
		startedAt:    now,
		ads:          make(map[string]*models.Ad),
		pages:        make(map[string]*pageDraft),
		pageURLs:     make(map[string]string),
		pageKeywords: make(map[string]map[string]struct{}),
		counters:     make(map[models.Channel]*models.APICounter),
		thresholds:   scoring.DefaultThresholds(),
		minAdsDetail: defaultMinAdsDetail,
	}
}

// addAd merges one wire record into the deduplicated ad set. The keyword
// is recorded against the page even when the ad itself is a duplicate.
func (st *runState) addAd(rec *models.AdRecord, keyword string) {
	kws, ok := st.pageKeywords[rec.PageID]
	if !ok {
		kws = make(map[string]struct{})
		st.pageKeywords[rec.PageID] = kws
	}
	kws[keyword] = struct{}{}

	if _, seen := st.ads[rec.AdID]; seen {
		return
	}
	kw := keyword
	ad := &models.Ad{
		Tenant:           st.run.Tenant,
		AdID:             rec.AdID,
		PageID:           rec.PageID,
		PageName:         rec.PageName,
		CreatedDate:      rec.CreatedDate,
		Reach:            rec.Reach,
		ReachLower:       rec.ReachLower,
		ReachUpper:       rec.ReachUpper,
		Bodies:           rec.Bodies,
		LinkTitles:       rec.LinkTitles,
		LinkCaptions:     rec.LinkCaptions,
		SnapshotURL:      rec.SnapshotURL,
		Currency:         rec.Currency,
		Languages:        rec.Languages,
		Platforms:        rec.Platforms,
		TargetingSummary: rec.TargetingSummary,
		Keyword:          &kw,
	}
	st.ads[rec.AdID] = ad
	st.adOrder = append(st.adOrder, rec.AdID)

	if _, have := st.pageURLs[rec.PageID]; !have && rec.WebsiteURL != nil {
		st.pageURLs[rec.PageID] = *rec.WebsiteURL
	}
}

// dropAd removes an ad from the working set, preserving order.
func (st *runState) dropAds(pageIDs map[string]struct{}) (adsDropped int) {
	kept := st.adOrder[:0]
	for _, id := range st.adOrder {
		if _, gone := pageIDs[st.ads[id].PageID]; gone {
			delete(st.ads, id)
			adsDropped++
			continue
		}
		kept = append(kept, id)
	}
	st.adOrder = kept
	return adsDropped
}

// skipOnNoResults reports whether a phase has nothing to operate on once
// aggregation left zero pages. Analysis and classification need pages;
// scoring and persistence still apply while any ad remains.
func (st *runState) skipOnNoResults(number int) bool {
	if !st.noResults || number < 4 {
		return false
	}
	return number <= 5 || len(st.ads) == 0
}

// keptDrafts returns the page drafts in deterministic discovery order.
func (st *runState) keptDrafts() []*pageDraft {
	out := make([]*pageDraft, 0, len(st.pageOrder))
	for _, id := range st.pageOrder {
		if d, ok := st.pages[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

func (st *runState) recordPhase(number int, name string, start time.Time, elapsed time.Duration, outcome string, stats map[string]int64) {
	st.phases = append(st.phases, models.PhaseRecord{
		Number:     number,
		Name:       name,
		StartedAt:  start.UTC(),
		DurationMs: elapsed.Milliseconds(),
		Outcome:    outcome,
		Stats:      stats,
	})
}

func (st *runState) counter(ch models.Channel) *models.APICounter {
	c, ok := st.counters[ch]
	if !ok {
		c = &models.APICounter{}
		st.counters[ch] = c
	}
	return c
}

// countCall folds one external call into the per-channel counter, keeping
// a running latency average. Safe to call from fan-out workers.
func (st *runState) countCall(ch models.Channel, latency time.Duration, failed, rateLimited bool, costMicros int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	c := st.counter(ch)
	c.Calls++
	if failed {
		c.Errors++
	}
	if rateLimited {
		c.RateLimitHits++
	}
	c.AvgLatencyMs += (float64(latency.Milliseconds()) - c.AvgLatencyMs) / float64(c.Calls)
	c.CostMicros += costMicros
}

func (st *runState) addError(ch models.Channel, msg string, keyword, url *string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.errors = append(st.errors, models.ErrorRecord{
		Channel:   ch,
		Message:   msg,
		Keyword:   keyword,
		URL:       url,
		Timestamp: time.Now().UTC(),
	})
}

// buildRunLog assembles the immutable record of the finished run.
func (st *runState) buildRunLog(final models.RunStatus, endedAt time.Time) *models.RunLog {
	phases := make([]models.PhaseRecord, len(st.phases))
	copy(phases, st.phases)
	sort.SliceStable(phases, func(i, j int) bool { return phases[i].Number < phases[j].Number })

	return &models.RunLog{
		RunID:        st.run.ID,
		Tenant:       st.run.Tenant,
		Keywords:     st.run.Keywords,
		Countries:    st.run.Countries,
		Languages:    st.run.Languages,
		MinActiveAds: st.run.MinActiveAds,
		CMSFilter:    st.run.CMSFilter,
		StartedAt:    st.startedAt.UTC(),
		EndedAt:      endedAt.UTC(),
		FinalStatus:  final,
		Phases:       phases,
		Counts:       st.counts,
		APICounters:  st.counters,
		Errors:       st.errors,
	}
}
