// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/adscout/internal/archive"
	"github.com/tomtom215/adscout/internal/classifier"
	"github.com/tomtom215/adscout/internal/config"
	"github.com/tomtom215/adscout/internal/database"
	"github.com/tomtom215/adscout/internal/models"
	"github.com/tomtom215/adscout/internal/notify"
	"github.com/tomtom215/adscout/internal/rotator"
)

// testDBSemaphore serializes DuckDB-backed tests within the package.
var testDBSemaphore = make(chan struct{}, 1)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	db, err := database.New(&config.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		Archive: config.ArchiveConfig{
			MaxRetries:        2,
			DefaultBackoff:    time.Minute,
			CostPerCallMicros: 100,
		},
		Analyzer: config.AnalyzerConfig{Parallelism: 2},
		Queue: config.QueueConfig{
			Workers:           1,
			PhaseTimeout:      time.Minute,
			HeartbeatInterval: 50 * time.Millisecond,
			StaleThreshold:    time.Minute,
		},
	}
}

// fakeClient serves canned ad records per keyword and can inject errors.
type fakeClient struct {
	byKeyword map[string][]models.AdRecord
	err       error
	calls     int
}

func (f *fakeClient) SearchByKeyword(_ context.Context, keyword string, _, _ []string, _ *models.Credential) ([]models.AdRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.byKeyword[keyword], nil
}

func (f *fakeClient) GetPageAds(_ context.Context, pageID string, _, _ []string, _ *models.Credential) ([]models.AdRecord, error) {
	var out []models.AdRecord
	for _, records := range f.byKeyword {
		for _, r := range records {
			if r.PageID == pageID {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// fakeAnalyzer returns a fixed verdict for every URL.
type fakeAnalyzer struct {
	cms models.CMS
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _, _ string) *models.WebsiteAnalysis {
	return &models.WebsiteAnalysis{CMS: f.cms}
}

func daysAgo(n int) *time.Time {
	t := time.Now().UTC().AddDate(0, 0, -n)
	return &t
}

func strPtr(s string) *string { return &s }

func seedRun(t *testing.T, db *database.DB, run *models.SearchRun) *models.SearchRun {
	t.Helper()
	ctx := context.Background()
	if run.Tenant == "" {
		run.Tenant = "acme"
	}
	if run.Status == "" {
		run.Status = models.RunPending
	}
	if err := db.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	claimed, err := db.ClaimNextPending(ctx)
	if err != nil {
		t.Fatalf("failed to claim run: %v", err)
	}
	return claimed
}

func newTestOrchestrator(db *database.DB, client archive.Client, an analyzer) *Orchestrator {
	cfg := testConfig()
	rot := rotator.New(db, cfg.Archive.DefaultBackoff)
	return New(db, cfg, rot, client, an, classifier.Disabled{}, notify.Noop{})
}

func TestRunCompletesAndDetectsWinners(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.InsertCredential(ctx, "token-1", nil); err != nil {
		t.Fatalf("failed to seed credential: %v", err)
	}

	client := &fakeClient{byKeyword: map[string][]models.AdRecord{
		"sneakers": {
			{AdID: "ad-1", PageID: "page-1", PageName: "Acme Shoes",
				CreatedDate: daysAgo(3), Reach: 20000,
				WebsiteURL: strPtr("https://acmeshoes.example")},
			{AdID: "ad-2", PageID: "page-1", PageName: "Acme Shoes",
				CreatedDate: daysAgo(200), Reach: 500},
		},
		"boots": {
			// Same ad surfaced by a second keyword: must deduplicate.
			{AdID: "ad-1", PageID: "page-1", PageName: "Acme Shoes",
				CreatedDate: daysAgo(3), Reach: 20000},
		},
	}}

	run := seedRun(t, db, &models.SearchRun{
		Keywords:     []string{"sneakers", "boots"},
		Countries:    []string{"FR"},
		MinActiveAds: 1,
	})

	o := newTestOrchestrator(db, client, &fakeAnalyzer{cms: models.CMSShopify})
	if err := o.Run(ctx, run); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	got, err := db.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to reload run: %v", err)
	}
	if got.Status != models.RunCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.Percent != 100 {
		t.Errorf("final percent = %d, want 100", got.Percent)
	}
	if got.RunLogID == nil {
		t.Fatal("run log not attached")
	}

	rl, err := db.GetRunLog(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to load run log: %v", err)
	}
	if len(rl.Phases) != 9 {
		t.Errorf("phase records = %d, want 9", len(rl.Phases))
	}
	if rl.Counts.AdsFound != 2 {
		t.Errorf("AdsFound = %d, want 2 (deduplicated)", rl.Counts.AdsFound)
	}
	if rl.Counts.PagesAfterFilter != 1 || rl.Counts.NewPages != 1 {
		t.Errorf("page counts = %+v", rl.Counts)
	}
	if rl.Counts.WinningAds != 1 || rl.Counts.NewWinningAds != 1 {
		t.Errorf("winning counts = %+v", rl.Counts)
	}
	if c := rl.APICounters[models.ChannelArchiveAPI]; c == nil || c.Calls != 2 || c.CostMicros != 200 {
		t.Errorf("archive counter = %+v", c)
	}

	page, err := db.GetPage(ctx, "acme", "page-1")
	if err != nil {
		t.Fatalf("failed to load page: %v", err)
	}
	if page.CMS != models.CMSShopify {
		t.Errorf("page CMS = %s, want shopify", page.CMS)
	}
	if page.ActiveAdCount != 2 {
		t.Errorf("ActiveAdCount = %d, want 2", page.ActiveAdCount)
	}
	// "boots" only re-surfaced the deduplicated ad, but it still counts
	// for the page's keyword union.
	if len(page.Keywords) != 2 {
		t.Errorf("page keywords = %v, want both search keywords", page.Keywords)
	}

	winners, err := db.ListWinningAdsByRun(ctx, "acme", run.ID)
	if err != nil {
		t.Fatalf("failed to list winners: %v", err)
	}
	if len(winners) != 1 || winners[0].AdID != "ad-1" {
		t.Fatalf("winners = %+v", winners)
	}

	lineage, err := db.ListPagesByRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list page lineage: %v", err)
	}
	if len(lineage) != 1 || !lineage[0].WasNew {
		t.Errorf("page lineage = %+v", lineage)
	}
}

func TestWinnersDetectedOnDroppedPages(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.InsertCredential(ctx, "token-1", nil); err != nil {
		t.Fatalf("failed to seed credential: %v", err)
	}

	client := &fakeClient{byKeyword: map[string][]models.AdRecord{
		"bijoux": {
			{AdID: "ad-1", PageID: "page-big", PageName: "Big Jewels",
				CreatedDate: daysAgo(20), Reach: 250000},
			{AdID: "ad-2", PageID: "page-big", PageName: "Big Jewels",
				CreatedDate: daysAgo(100), Reach: 100},
			{AdID: "ad-3", PageID: "page-big", PageName: "Big Jewels",
				CreatedDate: daysAgo(90), Reach: 200},
			// A single-ad page below the floor, carrying a winner.
			{AdID: "ad-4", PageID: "page-small", PageName: "Small Gems",
				CreatedDate: daysAgo(2), Reach: 30000},
		},
	}}

	run := seedRun(t, db, &models.SearchRun{
		Keywords:     []string{"bijoux"},
		Countries:    []string{"FR"},
		MinActiveAds: 3,
	})

	o := newTestOrchestrator(db, client, &fakeAnalyzer{})
	if err := o.Run(ctx, run); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	status, err := db.GetRunStatus(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to read status: %v", err)
	}
	if status != models.RunCompleted {
		t.Fatalf("status = %s, want completed", status)
	}

	winners, err := db.ListWinningAdsByRun(ctx, "acme", run.ID)
	if err != nil {
		t.Fatalf("failed to list winners: %v", err)
	}
	if len(winners) != 2 {
		t.Fatalf("winners = %d, want 2 (one on the dropped page)", len(winners))
	}
	byAd := make(map[string]*models.WinningAd, len(winners))
	for _, w := range winners {
		byAd[w.AdID] = w
	}
	if byAd["ad-4"] == nil {
		t.Error("winner on the below-floor page was not detected")
	}
	if byAd["ad-1"] == nil {
		t.Error("winner on the surviving page was not detected")
	}

	// Only the surviving page is persisted.
	if _, err := db.GetPage(ctx, "acme", "page-small"); err == nil {
		t.Error("below-floor page should not be persisted")
	}
	lineage, err := db.ListPagesByRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list page lineage: %v", err)
	}
	if len(lineage) != 1 || lineage[0].PageID != "page-big" {
		t.Errorf("page lineage = %+v", lineage)
	}
}

func TestScoringRunsWhenNoPageSurvives(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.InsertCredential(ctx, "token-1", nil); err != nil {
		t.Fatalf("failed to seed credential: %v", err)
	}

	client := &fakeClient{byKeyword: map[string][]models.AdRecord{
		"bijoux": {
			{AdID: "ad-1", PageID: "page-1", PageName: "Small Gems",
				CreatedDate: daysAgo(2), Reach: 30000},
		},
	}}

	run := seedRun(t, db, &models.SearchRun{
		Keywords:     []string{"bijoux"},
		MinActiveAds: 5,
	})

	o := newTestOrchestrator(db, client, &fakeAnalyzer{})
	if err := o.Run(ctx, run); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	status, err := db.GetRunStatus(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to read status: %v", err)
	}
	if status != models.RunNoResults {
		t.Fatalf("status = %s, want no_results", status)
	}

	winners, err := db.ListWinningAdsByRun(ctx, "acme", run.ID)
	if err != nil {
		t.Fatalf("failed to list winners: %v", err)
	}
	if len(winners) != 1 || winners[0].AdID != "ad-1" {
		t.Fatalf("winners = %+v, want the ad on the filtered page", winners)
	}

	rl, err := db.GetRunLog(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to load run log: %v", err)
	}
	outcomes := make(map[int]string, len(rl.Phases))
	for _, p := range rl.Phases {
		outcomes[p.Number] = p.Outcome
	}
	if outcomes[4] != "skipped" || outcomes[5] != "skipped" {
		t.Errorf("analysis/classification outcomes = %s/%s, want skipped", outcomes[4], outcomes[5])
	}
	if outcomes[6] != "ok" || outcomes[7] != "ok" {
		t.Errorf("scoring/persistence outcomes = %s/%s, want ok", outcomes[6], outcomes[7])
	}
}

func TestRunFailsWhenCredentialsBackedOff(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.InsertCredential(ctx, "token-1", nil); err != nil {
		t.Fatalf("failed to seed credential: %v", err)
	}
	rot := rotator.New(db, time.Minute)
	lease, err := rot.Acquire(ctx)
	if err != nil {
		t.Fatalf("failed to acquire credential: %v", err)
	}
	// Back off far beyond the phase budget.
	if err := lease.Report(ctx, rotator.RateLimited(time.Hour)); err != nil {
		t.Fatalf("failed to rate-limit credential: %v", err)
	}

	client := &fakeClient{}
	run := seedRun(t, db, &models.SearchRun{Keywords: []string{"bijoux"}})

	o := newTestOrchestrator(db, client, &fakeAnalyzer{})
	err = o.Run(ctx, run)
	if err == nil {
		t.Fatal("expected failure when every credential is backed off past the phase budget")
	}
	if !strings.Contains(err.Error(), "no eligible credentials") {
		t.Errorf("error = %v, want no-eligible-credentials failure", err)
	}
	if client.calls != 0 {
		t.Errorf("archive called %d times, want 0", client.calls)
	}

	got, err := db.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to reload run: %v", err)
	}
	if got.Status != models.RunFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	lineage, err := db.ListPagesByRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list page lineage: %v", err)
	}
	if len(lineage) != 0 {
		t.Errorf("page writes = %d, want none", len(lineage))
	}
}

func TestRunWithNoAdsEndsNoResults(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.InsertCredential(ctx, "token-1", nil); err != nil {
		t.Fatalf("failed to seed credential: %v", err)
	}

	run := seedRun(t, db, &models.SearchRun{Keywords: []string{"nothing"}, Countries: []string{"FR"}})
	o := newTestOrchestrator(db, &fakeClient{}, &fakeAnalyzer{})
	if err := o.Run(ctx, run); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	status, err := db.GetRunStatus(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to read status: %v", err)
	}
	if status != models.RunNoResults {
		t.Fatalf("status = %s, want no_results", status)
	}

	rl, err := db.GetRunLog(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to load run log: %v", err)
	}
	if len(rl.Phases) != 9 {
		t.Fatalf("phase records = %d, want 9", len(rl.Phases))
	}
	skipped := 0
	for _, p := range rl.Phases {
		if p.Number >= 4 && p.Number <= 7 && p.Outcome == "skipped" {
			skipped++
		}
	}
	if skipped != 4 {
		t.Errorf("skipped mid phases = %d, want 4", skipped)
	}
}

func TestRunFailsWithoutCredentials(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	run := seedRun(t, db, &models.SearchRun{Keywords: []string{"sneakers"}})
	o := newTestOrchestrator(db, &fakeClient{}, &fakeAnalyzer{})
	if err := o.Run(ctx, run); err == nil {
		t.Fatal("expected run error with empty credential pool")
	}

	status, err := db.GetRunStatus(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to read status: %v", err)
	}
	if status != models.RunFailed {
		t.Fatalf("status = %s, want failed", status)
	}
}

func TestCancelledRunStopsWithoutRunLog(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.InsertCredential(ctx, "token-1", nil); err != nil {
		t.Fatalf("failed to seed credential: %v", err)
	}

	run := seedRun(t, db, &models.SearchRun{Keywords: []string{"sneakers"}})
	if err := db.RequestCancel(ctx, run.ID); err != nil {
		t.Fatalf("failed to cancel: %v", err)
	}

	client := &fakeClient{}
	o := newTestOrchestrator(db, client, &fakeAnalyzer{})
	if err := o.Run(ctx, run); err != nil {
		t.Fatalf("cancelled run should not error: %v", err)
	}

	if client.calls != 0 {
		t.Errorf("archive called %d times after cancellation", client.calls)
	}
	status, err := db.GetRunStatus(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to read status: %v", err)
	}
	if status != models.RunCancelled {
		t.Fatalf("status = %s, want cancelled", status)
	}
	if _, err := db.GetRunLog(ctx, run.ID); err == nil {
		t.Error("cancelled run should have no run log")
	}
}

func TestTransientErrorsRetryThenSkipKeyword(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.InsertCredential(ctx, "token-1", nil); err != nil {
		t.Fatalf("failed to seed credential: %v", err)
	}

	client := &fakeClient{err: archive.NewError(archive.KindTransient, "upstream 502", nil)}
	run := seedRun(t, db, &models.SearchRun{Keywords: []string{"sneakers"}})

	o := newTestOrchestrator(db, client, &fakeAnalyzer{})
	if err := o.Run(ctx, run); err == nil {
		t.Fatal("expected error when the only keyword fails")
	}

	// MaxRetries 2 means one initial attempt plus two retries.
	if client.calls != 3 {
		t.Errorf("archive calls = %d, want 3", client.calls)
	}
}

func TestCMSFilterDropsNonMatchingPages(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.InsertCredential(ctx, "token-1", nil); err != nil {
		t.Fatalf("failed to seed credential: %v", err)
	}

	client := &fakeClient{byKeyword: map[string][]models.AdRecord{
		"sneakers": {
			{AdID: "ad-1", PageID: "page-1", PageName: "Acme",
				CreatedDate: daysAgo(3), Reach: 20000,
				WebsiteURL: strPtr("https://acme.example")},
		},
	}}

	run := seedRun(t, db, &models.SearchRun{
		Keywords:  []string{"sneakers"},
		CMSFilter: []models.CMS{models.CMSWooCommerce},
	})

	// Analyzer detects Shopify; the WooCommerce-only filter drops the page.
	o := newTestOrchestrator(db, client, &fakeAnalyzer{cms: models.CMSShopify})
	if err := o.Run(ctx, run); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	status, err := db.GetRunStatus(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to read status: %v", err)
	}
	if status != models.RunNoResults {
		t.Fatalf("status = %s, want no_results after CMS filter", status)
	}
	if _, err := db.GetPage(ctx, "acme", "page-1"); err == nil {
		t.Error("filtered page should not be persisted")
	}
}
