// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/adscout/internal/logging"
	"github.com/tomtom215/adscout/internal/metrics"
	"github.com/tomtom215/adscout/internal/models"
	"github.com/tomtom215/adscout/internal/scoring"
)

// phaseKeywordSearch fans out archive searches across the usable
// credential set and merges the results into a deduplicated ad set. The
// phase fails up front when no credential can become eligible within the
// phase budget; a keyword whose retries are exhausted is recorded and
// skipped, and the phase only fails afterwards when every keyword failed.
func (o *Orchestrator) phaseKeywordSearch(ctx context.Context, st *runState) (map[string]int64, error) {
	run := st.run

	usable, err := o.rotator.ListUsable(ctx)
	if err != nil {
		return nil, err
	}
	if len(usable) == 0 {
		wait, werr := o.rotator.NextEligibleWait(ctx)
		if werr != nil {
			return nil, fmt.Errorf("no eligible credentials: %w", werr)
		}
		if deadline, ok := ctx.Deadline(); ok && wait > time.Until(deadline) {
			return nil, fmt.Errorf("no eligible credentials: shortest back-off %s exceeds the phase budget",
				wait.Round(time.Second))
		}
	}

	fanOut := len(usable)
	if fanOut < 1 {
		fanOut = 1
	}
	if fanOut > len(run.Keywords) {
		fanOut = len(run.Keywords)
	}

	results := make([][]models.AdRecord, len(run.Keywords))
	errs := make([]error, len(run.Keywords))
	jobCh := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < fanOut; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobCh {
				kw := run.Keywords[i]
				results[i], errs[i] = o.archiveCall(ctx, st, func(cred *models.Credential) ([]models.AdRecord, error) {
					return o.client.SearchByKeyword(ctx, kw, run.Countries, run.Languages, cred)
				})
			}
		}()
	}
	for i := range run.Keywords {
		jobCh <- i
	}
	close(jobCh)
	wg.Wait()

	// Merge in keyword order so dedup attribution stays deterministic.
	var failed int
	for i, kw := range run.Keywords {
		if err := errs[i]; err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			k := kw
			st.addError(models.ChannelArchiveAPI, err.Error(), &k, nil)
			logging.Warn().Err(err).Int64("run_id", run.ID).Str("keyword", kw).
				Msg("keyword search failed, skipping keyword")
			continue
		}
		records := results[i]
		for j := range records {
			st.addAd(&records[j], kw)
		}
	}

	st.counts.AdsFound = len(st.ads)
	metrics.AdsDiscovered.Add(float64(len(st.ads)))

	if failed == len(run.Keywords) && len(run.Keywords) > 0 {
		return nil, fmt.Errorf("all %d keyword searches failed", failed)
	}
	return map[string]int64{
		"ads_found":       int64(len(st.ads)),
		"fan_out":         int64(fanOut),
		"keywords_failed": int64(failed),
		"keywords_total":  int64(len(run.Keywords)),
	}, nil
}

// phaseBlacklistFilter drops every ad belonging to a blacklisted page
// before any page is materialized.
func (o *Orchestrator) phaseBlacklistFilter(ctx context.Context, st *runState) (map[string]int64, error) {
	blacklisted, err := o.db.BlacklistedPages(ctx, st.run.Tenant)
	if err != nil {
		return nil, err
	}

	hit := make(map[string]struct{})
	for _, id := range st.adOrder {
		pageID := st.ads[id].PageID
		if _, bad := blacklisted[pageID]; bad {
			hit[pageID] = struct{}{}
		}
	}
	adsDropped := st.dropAds(hit)
	st.counts.BlacklistSkipped = len(hit)

	return map[string]int64{
		"pages_skipped": int64(len(hit)),
		"ads_dropped":   int64(adsDropped),
	}, nil
}

// phasePageAggregation groups the surviving ads into page drafts and
// applies the run's minimum-active-ads floor. Zero surviving pages flips
// the run onto the no_results path.
func (o *Orchestrator) phasePageAggregation(_ context.Context, st *runState) (map[string]int64, error) {
	run := st.run
	grouped := make(map[string][]*models.Ad)
	var order []string
	for _, id := range st.adOrder {
		ad := st.ads[id]
		if _, seen := grouped[ad.PageID]; !seen {
			order = append(order, ad.PageID)
		}
		grouped[ad.PageID] = append(grouped[ad.PageID], ad)
	}
	st.counts.PagesFound = len(grouped)

	var belowMin int
	for _, pageID := range order {
		ads := grouped[pageID]
		if len(ads) < run.MinActiveAds {
			belowMin++
			continue
		}
		st.pages[pageID] = st.buildDraft(pageID, ads)
		st.pageOrder = append(st.pageOrder, pageID)
	}
	st.counts.PagesAfterFilter = len(st.pageOrder)
	metrics.PagesDiscovered.Add(float64(len(st.pageOrder)))

	if len(st.pageOrder) == 0 {
		st.noResults = true
	}
	return map[string]int64{
		"pages_total":         int64(len(grouped)),
		"pages_kept":          int64(len(st.pageOrder)),
		"pages_below_min_ads": int64(belowMin),
	}, nil
}

func (st *runState) buildDraft(pageID string, ads []*models.Ad) *pageDraft {
	run := st.run
	page := &models.Page{
		Tenant:        run.Tenant,
		PageID:        pageID,
		CMS:           models.CMSUnknown,
		ActiveAdCount: len(ads),
		SizeBucket:    st.thresholds.Bucket(len(ads)),
		Countries:     run.Countries,
	}

	if raw := st.pageURLs[pageID]; raw != "" {
		if normalized := models.NormalizeWebsiteURL(raw); normalized != "" {
			page.WebsiteURL = &normalized
		}
	}

	var keywordMatched string
	for _, ad := range ads {
		if page.Name == "" && ad.PageName != "" {
			page.Name = ad.PageName
		}
		if keywordMatched == "" && ad.Keyword != nil {
			keywordMatched = *ad.Keyword
		}
		if page.Currency == nil && ad.Currency != nil {
			page.Currency = ad.Currency
		}
		// Link captions usually carry the advertiser's domain; use them
		// when the archive record had no explicit destination URL.
		if page.WebsiteURL == nil && len(ad.LinkCaptions) > 0 {
			if normalized := models.NormalizeWebsiteURL(ad.LinkCaptions[0]); normalized != "" {
				page.WebsiteURL = &normalized
			}
		}
	}

	// The page-level union survives ad dedup: a keyword whose only hits
	// were already-seen ads still counts for the page.
	for kw := range st.pageKeywords[pageID] {
		page.Keywords = append(page.Keywords, kw)
	}
	sort.Strings(page.Keywords)

	return &pageDraft{page: page, ads: ads, keywordMatched: keywordMatched}
}

// phaseWebsiteAnalysis scrapes each page's website through a bounded
// worker pool. Failures never abort the phase; they land in the error
// list and the page keeps its unknown CMS. The run's CMS filter, when
// set, is applied afterwards since it needs the detected platform.
func (o *Orchestrator) phaseWebsiteAnalysis(ctx context.Context, st *runState) (map[string]int64, error) {
	drafts := st.keptDrafts()
	countryHint := ""
	if len(st.run.Countries) > 0 {
		countryHint = st.run.Countries[0]
	}

	type job struct {
		draft *pageDraft
		url   string
	}
	var jobs []job
	for _, d := range drafts {
		if d.page.WebsiteURL != nil {
			jobs = append(jobs, job{draft: d, url: *d.page.WebsiteURL})
		}
	}

	workers := o.cfg.Analyzer.Parallelism
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	var mu sync.Mutex
	var failures int
	jobCh := make(chan job)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				start := o.now()
				result := o.analyzer.Analyze(ctx, j.url, countryHint)
				latency := o.now().Sub(start)

				mu.Lock()
				st.countCall(models.ChannelWebDirect, latency, result.Error != "", false, 0)
				if result.Error != "" {
					failures++
					url := j.url
					st.addError(models.ChannelWebDirect, result.Error, nil, &url)
				} else {
					applyAnalysis(j.draft, result)
				}
				mu.Unlock()
			}
		}()
	}
	for _, j := range jobs {
		select {
		case <-ctx.Done():
			close(jobCh)
			wg.Wait()
			return nil, ctx.Err()
		case jobCh <- j:
		}
	}
	close(jobCh)
	wg.Wait()

	droppedByCMS := o.applyCMSFilter(st)

	return map[string]int64{
		"websites":        int64(len(jobs)),
		"failures":        int64(failures),
		"dropped_by_cms":  int64(droppedByCMS),
		"pages_remaining": int64(len(st.pageOrder)),
	}, nil
}

// applyAnalysis merges a successful analysis into the draft. A detected
// CMS wins; an unknown result never downgrades prior knowledge.
func applyAnalysis(d *pageDraft, a *models.WebsiteAnalysis) {
	d.analysis = a
	if a.CMS != "" && a.CMS != models.CMSUnknown {
		d.page.CMS = a.CMS
	}
	if a.Theme != nil {
		d.page.Theme = a.Theme
	}
	if a.ProductCount != nil {
		d.page.ProductCount = a.ProductCount
	}
	if a.Currency != nil {
		d.page.Currency = a.Currency
	}
}

// applyCMSFilter drops drafts whose detected platform is outside the
// run's CMS filter. Pages with an undetected platform are dropped too:
// a filtered run asks for specific platforms only.
func (o *Orchestrator) applyCMSFilter(st *runState) int {
	if len(st.run.CMSFilter) == 0 {
		return 0
	}
	allowed := make(map[models.CMS]struct{}, len(st.run.CMSFilter))
	for _, c := range st.run.CMSFilter {
		allowed[c] = struct{}{}
	}

	var dropped int
	kept := st.pageOrder[:0]
	for _, pageID := range st.pageOrder {
		d := st.pages[pageID]
		if _, ok := allowed[d.page.CMS]; !ok {
			delete(st.pages, pageID)
			dropped++
			continue
		}
		kept = append(kept, pageID)
	}
	st.pageOrder = kept
	st.counts.PagesAfterFilter = len(st.pageOrder)
	if len(st.pageOrder) == 0 {
		st.noResults = true
	}
	return dropped
}

// phaseClassification submits page content to the classifier in one
// batch. The collaborator is optional; its absence skips the phase and a
// batch failure is recorded without failing the run.
func (o *Orchestrator) phaseClassification(ctx context.Context, st *runState) (map[string]int64, error) {
	if !o.classifier.Available() {
		return nil, errSkipPhase
	}

	var contents []models.SiteContent
	for _, d := range st.keptDrafts() {
		if d.analysis == nil || d.page.WebsiteURL == nil {
			continue
		}
		content := models.SiteContent{
			PageID:   d.page.PageID,
			URL:      *d.page.WebsiteURL,
			Keywords: d.analysis.Keywords,
		}
		if d.analysis.Title != nil {
			content.Title = *d.analysis.Title
		}
		if d.analysis.Description != nil {
			content.Description = *d.analysis.Description
		}
		if d.analysis.H1 != nil {
			content.H1 = *d.analysis.H1
		}
		contents = append(contents, content)
	}
	if len(contents) == 0 {
		return map[string]int64{"classified": 0}, nil
	}

	verdicts, err := o.classifier.ClassifyBatch(ctx, contents)
	if err != nil {
		st.addError(models.ChannelScraperAPI, err.Error(), nil, nil)
		logging.Warn().Err(err).Int64("run_id", st.run.ID).Msg("classification batch failed")
		return map[string]int64{"classified": 0, "errors": 1}, nil
	}

	var classified int
	for pageID, verdict := range verdicts {
		d, ok := st.pages[pageID]
		if !ok || verdict.Error != "" {
			continue
		}
		v := verdict
		d.classification = &v
		d.page.Category = &v.Category
		d.page.Subcategory = v.Subcategory
		d.page.CategoryConfidence = &v.Confidence
		classified++
	}
	return map[string]int64{
		"submitted":  int64(len(contents)),
		"classified": int64(classified),
	}, nil
}

// phaseScoring runs every ad that survived the blacklist through the
// winning-ad rules. Ads on pages dropped by the active-ad floor or the
// CMS filter are still candidates: a winner is a winner regardless of
// how small its page is.
func (o *Orchestrator) phaseScoring(_ context.Context, st *runState) (map[string]int64, error) {
	scorer := scoring.NewScorer(nil)
	ref := o.now()

	for _, id := range st.adOrder {
		if w, ok := scorer.Score(st.ads[id], st.run.ID, ref); ok {
			st.winners = append(st.winners, w)
		}
	}
	st.counts.WinningAds = len(st.winners)

	return map[string]int64{
		"candidates": int64(len(st.adOrder)),
		"winners":    int64(len(st.winners)),
	}, nil
}

// phasePersistence flushes the run's discoveries in lineage-safe order:
// pages, page history, winning ads, winning-ad history, then individual
// ads for pages above the detail floor. Any repository error here fails
// the run; partial writes are idempotent on restart.
func (o *Orchestrator) phasePersistence(ctx context.Context, st *runState) (map[string]int64, error) {
	now := o.now().UTC()
	drafts := st.keptDrafts()
	pagesByCMS := make(map[string]int)

	for _, d := range drafts {
		wasNew, err := o.db.UpsertPage(ctx, d.page)
		if err != nil {
			return nil, err
		}
		d.wasNew = wasNew
		if wasNew {
			st.counts.NewPages++
		} else {
			st.counts.UpdatedPages++
		}
		pagesByCMS[string(d.page.CMS)]++

		if d.analysis != nil {
			if err := o.db.UpdatePageAnalysis(ctx, st.run.Tenant, d.page.PageID, d.analysis); err != nil {
				return nil, err
			}
		}
		if d.classification != nil {
			if err := o.db.UpdatePageClassification(ctx, st.run.Tenant, d.page.PageID, d.classification); err != nil {
				return nil, err
			}
		}
	}
	st.counts.PagesByCMS = pagesByCMS

	for _, d := range drafts {
		var keyword *string
		if d.keywordMatched != "" {
			kw := d.keywordMatched
			keyword = &kw
		}
		err := o.db.InsertRunPageHistory(ctx, &models.RunPageHistory{
			RunID:              st.run.ID,
			Tenant:             st.run.Tenant,
			PageID:             d.page.PageID,
			WasNew:             d.wasNew,
			KeywordMatched:     keyword,
			AdCountAtDiscovery: d.page.ActiveAdCount,
			FoundAt:            now,
		})
		if err != nil {
			return nil, err
		}
	}

	for _, w := range st.winners {
		wasNew, err := o.db.UpsertWinningAd(ctx, w)
		if err != nil {
			return nil, err
		}
		if wasNew {
			st.counts.NewWinningAds++
			metrics.WinningAdsDetected.WithLabelValues("new").Inc()
		} else {
			st.counts.UpdatedWinningAds++
			metrics.WinningAdsDetected.WithLabelValues("seen").Inc()
		}

		err = o.db.InsertRunWinningAdHistory(ctx, &models.RunWinningAdHistory{
			RunID:            st.run.ID,
			Tenant:           st.run.Tenant,
			AdID:             w.AdID,
			WasNew:           w.IsNew,
			ReachAtDetection: w.ReachAtDetection,
			FoundAt:          now,
		})
		if err != nil {
			return nil, err
		}
	}

	var adsPersisted int
	for _, d := range drafts {
		if d.page.ActiveAdCount < st.minAdsDetail {
			continue
		}
		for _, ad := range d.ads {
			if err := o.db.UpsertAd(ctx, ad); err != nil {
				return nil, err
			}
			adsPersisted++
		}
	}

	return map[string]int64{
		"pages_persisted":   int64(len(drafts)),
		"winners_persisted": int64(len(st.winners)),
		"ads_persisted":     int64(adsPersisted),
	}, nil
}
