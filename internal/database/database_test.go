// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package database

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/adscout/internal/config"
	"github.com/tomtom215/adscout/internal/models"
)

// testDBSemaphore serializes database creation. Concurrent DuckDB CGO calls
// can hang under CI resource pressure, so only one test holds an active
// connection at a time.
var testDBSemaphore = make(chan struct{}, 1)

// setupTestDB creates a new in-memory test database. The semaphore is held
// for the entire test lifecycle and released via t.Cleanup.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	cfg := &config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "1GB",
	}

	db, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})
	return db
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func strPtr(s string) *string { return &s }

// A config without a memory cap must still open; the driver rejects an
// empty max_memory parameter outright.
func TestNewWithoutMemoryCap(t *testing.T) {
	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	db, err := New(&config.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("New without max_memory failed: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})

	if err := db.Ping(testContext(t)); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestUpsertPageNewAndMerge(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	page := &models.Page{
		Tenant:        "t1",
		PageID:        "p1",
		Name:          "Acme Store",
		WebsiteURL:    strPtr("https://acme.example.com"),
		CMS:           models.CMSUnknown,
		ActiveAdCount: 12,
		SizeBucket:    models.SizeS,
		Keywords:      []string{"shoes"},
		Countries:     []string{"FR"},
	}

	wasNew, err := db.UpsertPage(ctx, page)
	if err != nil {
		t.Fatalf("UpsertPage failed: %v", err)
	}
	if !wasNew {
		t.Error("first upsert should report new")
	}

	// Second discovery from another keyword/country, with no website and an
	// empty name: existing values must survive, lists must union.
	again := &models.Page{
		Tenant:        "t1",
		PageID:        "p1",
		Name:          "Acme Renamed",
		CMS:           models.CMSShopify,
		ActiveAdCount: 20,
		SizeBucket:    models.SizeM,
		Keywords:      []string{"boots", "shoes"},
		Countries:     []string{"DE"},
	}
	wasNew, err = db.UpsertPage(ctx, again)
	if err != nil {
		t.Fatalf("second UpsertPage failed: %v", err)
	}
	if wasNew {
		t.Error("second upsert should not report new")
	}

	got, err := db.GetPage(ctx, "t1", "p1")
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if got.Name != "Acme Store" {
		t.Errorf("existing non-empty name should win, got %q", got.Name)
	}
	if got.WebsiteURL == nil || *got.WebsiteURL != "https://acme.example.com" {
		t.Error("existing website URL should survive an absent incoming value")
	}
	if got.CMS != models.CMSShopify {
		t.Errorf("CMS should update to shopify, got %s", got.CMS)
	}
	if got.ActiveAdCount != 20 {
		t.Errorf("ActiveAdCount should be replaced, got %d", got.ActiveAdCount)
	}
	if len(got.Keywords) != 2 {
		t.Errorf("keywords should union to 2, got %v", got.Keywords)
	}
	if len(got.Countries) != 2 {
		t.Errorf("countries should union to 2, got %v", got.Countries)
	}
	if got.FirstSeen.IsZero() || !got.LastUpdated.After(got.FirstSeen.Add(-time.Second)) {
		t.Error("timestamps should be maintained")
	}
}

func TestUpsertPageTenantIsolation(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	for _, tenant := range []string{"t1", "t2"} {
		wasNew, err := db.UpsertPage(ctx, &models.Page{
			Tenant: tenant, PageID: "p1", Name: "Store",
			CMS: models.CMSUnknown, SizeBucket: models.SizeInactive,
		})
		if err != nil {
			t.Fatalf("UpsertPage(%s) failed: %v", tenant, err)
		}
		if !wasNew {
			t.Errorf("page should be new for tenant %s", tenant)
		}
	}
}

func TestUpsertWinningAdDeduplicates(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	w := &models.WinningAd{
		Tenant: "t1", AdID: "ad1", PageID: "p1",
		Criterion:        "≤4d & >15k",
		ReachAtDetection: 20000,
		AgeAtDetection:   3,
		DetectedAt:       time.Now().UTC(),
		SearchRunID:      1,
	}
	wasNew, err := db.UpsertWinningAd(ctx, w)
	if err != nil {
		t.Fatalf("UpsertWinningAd failed: %v", err)
	}
	if !wasNew {
		t.Error("first detection should be new")
	}

	// Re-detection by a later run updates the snapshot, never duplicates.
	w2 := &models.WinningAd{
		Tenant: "t1", AdID: "ad1", PageID: "p1",
		Criterion:        "≤9d & >50k",
		ReachAtDetection: 60000,
		AgeAtDetection:   8,
		DetectedAt:       time.Now().UTC(),
		SearchRunID:      2,
	}
	wasNew, err = db.UpsertWinningAd(ctx, w2)
	if err != nil {
		t.Fatalf("second UpsertWinningAd failed: %v", err)
	}
	if wasNew {
		t.Error("re-detection should not be new")
	}

	got, err := db.GetWinningAd(ctx, "t1", "ad1")
	if err != nil {
		t.Fatalf("GetWinningAd failed: %v", err)
	}
	if got.SearchRunID != 2 || got.ReachAtDetection != 60000 {
		t.Errorf("snapshot fields should refresh: %+v", got)
	}

	byRun, err := db.ListWinningAdsByRun(ctx, "t1", 2)
	if err != nil {
		t.Fatalf("ListWinningAdsByRun failed: %v", err)
	}
	if len(byRun) != 1 {
		t.Errorf("expected 1 winning ad for run 2, got %d", len(byRun))
	}
}

func TestRunLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	run := &models.SearchRun{
		Tenant:    "t1",
		Keywords:  []string{"sneakers"},
		Countries: []string{"FR"},
		Languages: []string{"fr"},
	}
	if err := db.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.ID == 0 {
		t.Fatal("CreateRun should assign an id")
	}

	claimed, err := db.ClaimNextPending(ctx)
	if err != nil {
		t.Fatalf("ClaimNextPending failed: %v", err)
	}
	if claimed.ID != run.ID || claimed.Status != models.RunRunning {
		t.Errorf("claimed run = %+v, want running run %d", claimed, run.ID)
	}

	// No more pending runs to claim.
	if _, err := db.ClaimNextPending(ctx); err != ErrRunNotClaimable {
		t.Errorf("expected ErrRunNotClaimable, got %v", err)
	}

	if err := db.SetRunProgress(ctx, run.ID, 3, "fetch_details", 40, "fetching"); err != nil {
		t.Fatalf("SetRunProgress failed: %v", err)
	}
	if err := db.UpdateRunStatus(ctx, run.ID, models.RunCompleted, ""); err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}

	got, err := db.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != models.RunCompleted || got.EndedAt == nil {
		t.Errorf("run should be completed with ended_at set: %+v", got)
	}

	// Completed runs reject further transitions.
	err = db.UpdateRunStatus(ctx, run.ID, models.RunRunning, "")
	if err == nil {
		t.Error("transition from completed should fail")
	}
}

func TestClaimOrderPriorityThenFIFO(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	low := &models.SearchRun{Tenant: "t1", Keywords: []string{"a"}, Countries: []string{"FR"}}
	if err := db.CreateRun(ctx, low); err != nil {
		t.Fatal(err)
	}
	high := &models.SearchRun{Tenant: "t1", Keywords: []string{"b"}, Countries: []string{"FR"}, Priority: 5}
	if err := db.CreateRun(ctx, high); err != nil {
		t.Fatal(err)
	}

	first, err := db.ClaimNextPending(ctx)
	if err != nil {
		t.Fatalf("ClaimNextPending failed: %v", err)
	}
	if first.ID != high.ID {
		t.Errorf("higher priority run should be claimed first, got %d", first.ID)
	}
	second, err := db.ClaimNextPending(ctx)
	if err != nil {
		t.Fatalf("second ClaimNextPending failed: %v", err)
	}
	if second.ID != low.ID {
		t.Errorf("expected run %d second, got %d", low.ID, second.ID)
	}
}

func TestMarkStaleRunsInterruptedAndRestart(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	run := &models.SearchRun{Tenant: "t1", Keywords: []string{"a"}, Countries: []string{"FR"}}
	if err := db.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ClaimNextPending(ctx); err != nil {
		t.Fatal(err)
	}

	// Backdate the heartbeat past the threshold.
	_, err := db.conn.ExecContext(ctx,
		`UPDATE search_runs SET last_heartbeat = ? WHERE id = ?`,
		time.Now().UTC().Add(-5*time.Minute), run.ID)
	if err != nil {
		t.Fatal(err)
	}

	n, err := db.MarkStaleRunsInterrupted(ctx, 2*time.Minute)
	if err != nil {
		t.Fatalf("MarkStaleRunsInterrupted failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 stale run recovered, got %d", n)
	}

	interrupted, err := db.ListInterruptedRuns(ctx)
	if err != nil {
		t.Fatalf("ListInterruptedRuns failed: %v", err)
	}
	if len(interrupted) != 1 || interrupted[0].ID != run.ID {
		t.Fatalf("expected run %d interrupted, got %+v", run.ID, interrupted)
	}

	// Restart re-queues with progress cleared.
	if err := db.UpdateRunStatus(ctx, run.ID, models.RunPending, ""); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	got, err := db.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.RunPending || got.PhaseNumber != 0 || got.StartedAt != nil {
		t.Errorf("restarted run should be pending with cleared progress: %+v", got)
	}
}

func TestRequestCancelPendingRun(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	run := &models.SearchRun{Tenant: "t1", Keywords: []string{"a"}, Countries: []string{"FR"}}
	if err := db.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if err := db.RequestCancel(ctx, run.ID); err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}

	status, err := db.GetRunStatus(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if status != models.RunCancelled {
		t.Errorf("pending run should cancel immediately, got %s", status)
	}

	// Cancelling a terminal run fails.
	if err := db.RequestCancel(ctx, run.ID); err == nil {
		t.Error("cancelling a cancelled run should fail")
	}
}

func TestRunLogRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	started := time.Now().UTC().Add(-time.Minute)
	rl := &models.RunLog{
		RunID:       7,
		Tenant:      "t1",
		Keywords:    []string{"sneakers"},
		Countries:   []string{"FR", "DE"},
		Languages:   []string{"fr"},
		StartedAt:   started,
		EndedAt:     time.Now().UTC(),
		FinalStatus: models.RunCompleted,
		Phases: []models.PhaseRecord{
			{Number: 1, Name: "search_ads", StartedAt: started, DurationMs: 1500, Outcome: "ok",
				Stats: map[string]int64{"ads": 120}},
			{Number: 6, Name: "classify", StartedAt: started, DurationMs: 0, Outcome: "skipped"},
		},
		Counts: models.RunCounts{AdsFound: 120, PagesFound: 30, WinningAds: 4},
		APICounters: map[models.Channel]*models.APICounter{
			models.ChannelArchiveAPI: {Calls: 12, Errors: 1, RateLimitHits: 2},
		},
		Errors: []models.ErrorRecord{
			{Channel: models.ChannelWebDirect, Message: "timeout", URL: strPtr("https://x.example"), Timestamp: time.Now().UTC()},
		},
	}

	if err := db.InsertRunLog(ctx, rl); err != nil {
		t.Fatalf("InsertRunLog failed: %v", err)
	}
	if rl.ID == "" {
		t.Fatal("InsertRunLog should assign an id")
	}

	got, err := db.GetRunLog(ctx, 7)
	if err != nil {
		t.Fatalf("GetRunLog failed: %v", err)
	}
	if got.FinalStatus != models.RunCompleted {
		t.Errorf("FinalStatus = %s", got.FinalStatus)
	}
	if len(got.Phases) != 2 || got.Phases[1].Outcome != "skipped" {
		t.Errorf("phases did not round-trip: %+v", got.Phases)
	}
	if got.Counts.AdsFound != 120 {
		t.Errorf("counts did not round-trip: %+v", got.Counts)
	}
	if c := got.APICounters[models.ChannelArchiveAPI]; c == nil || c.RateLimitHits != 2 {
		t.Errorf("api counters did not round-trip: %+v", got.APICounters)
	}
	if len(got.Errors) != 1 || got.Errors[0].Channel != models.ChannelWebDirect {
		t.Errorf("errors did not round-trip: %+v", got.Errors)
	}
}

func TestCredentialLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	if err := db.InsertCredential(ctx, "tok-a", nil); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertCredential(ctx, "tok-b", strPtr("http://proxy.example:8080")); err != nil {
		t.Fatal(err)
	}
	// Seeding is idempotent.
	if err := db.InsertCredential(ctx, "tok-a", nil); err != nil {
		t.Fatal(err)
	}

	creds, err := db.ListCredentials(ctx)
	if err != nil {
		t.Fatalf("ListCredentials failed: %v", err)
	}
	if len(creds) != 2 {
		t.Fatalf("expected 2 credentials, got %d", len(creds))
	}

	id := creds[0].ID
	if err := db.TouchCredential(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := db.RateLimitCredential(ctx, id, time.Now().Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetCredential(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalCalls != 1 || got.RateLimitHits != 1 || got.RateLimitedUntil == nil {
		t.Errorf("credential counters wrong: %+v", got)
	}
	if got.Usable(time.Now()) {
		t.Error("rate-limited credential should not be usable")
	}

	if err := db.DeactivateCredential(ctx, id); err != nil {
		t.Fatal(err)
	}
	got, err = db.GetCredential(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Active {
		t.Error("credential should be deactivated")
	}
}

func TestBlacklist(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	if err := db.AddToBlacklist(ctx, "t1", "bad-page", "spam"); err != nil {
		t.Fatal(err)
	}
	if err := db.AddToBlacklist(ctx, "t1", "bad-page", "spam"); err != nil {
		t.Fatal(err) // idempotent
	}

	set, err := db.BlacklistedPages(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := set["bad-page"]; !ok {
		t.Error("bad-page should be blacklisted")
	}

	other, err := db.BlacklistedPages(ctx, "t2")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Error("blacklist must be tenant-scoped")
	}

	if err := db.RemoveFromBlacklist(ctx, "t1", "bad-page"); err != nil {
		t.Fatal(err)
	}
	set, err = db.BlacklistedPages(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 0 {
		t.Error("blacklist entry should be removed")
	}
}

func TestRunHistoryLineage(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	now := time.Now().UTC()
	h := &models.RunPageHistory{
		RunID: 1, Tenant: "t1", PageID: "p1", WasNew: true,
		KeywordMatched: strPtr("sneakers"), AdCountAtDiscovery: 12, FoundAt: now,
	}
	if err := db.InsertRunPageHistory(ctx, h); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertRunPageHistory(ctx, h); err != nil {
		t.Fatal(err) // idempotent per (run, page)
	}
	if err := db.InsertRunPageHistory(ctx, &models.RunPageHistory{
		RunID: 2, Tenant: "t1", PageID: "p1", WasNew: false, FoundAt: now.Add(time.Minute),
	}); err != nil {
		t.Fatal(err)
	}

	byRun, err := db.ListPagesByRun(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(byRun) != 1 || !byRun[0].WasNew {
		t.Errorf("run 1 lineage wrong: %+v", byRun)
	}

	byPage, err := db.ListRunsByPage(ctx, "t1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byPage) != 2 {
		t.Errorf("expected 2 runs for page, got %d", len(byPage))
	}
	if byPage[0].RunID != 2 {
		t.Errorf("newest run first, got run %d", byPage[0].RunID)
	}

	if err := db.InsertRunWinningAdHistory(ctx, &models.RunWinningAdHistory{
		RunID: 1, Tenant: "t1", AdID: "ad1", WasNew: true, ReachAtDetection: 30000, FoundAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	wins, err := db.ListWinningAdHistoryByRun(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(wins) != 1 || wins[0].AdID != "ad1" {
		t.Errorf("winning-ad lineage wrong: %+v", wins)
	}
}

func TestSettings(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	got, err := db.GetSetting(ctx, "t1", SettingMinAdsDetail, "3")
	if err != nil {
		t.Fatal(err)
	}
	if got != "3" {
		t.Errorf("absent setting should fall back, got %q", got)
	}

	if err := db.SetSetting(ctx, "t1", SettingMinAdsDetail, "5"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSetting(ctx, "t1", SettingMinAdsDetail, "7"); err != nil {
		t.Fatal(err)
	}
	got, err = db.GetSetting(ctx, "t1", SettingMinAdsDetail, "3")
	if err != nil {
		t.Fatal(err)
	}
	if got != "7" {
		t.Errorf("setting should overwrite, got %q", got)
	}

	// Tenant isolation.
	got, err = db.GetSetting(ctx, "t2", SettingMinAdsDetail, "3")
	if err != nil {
		t.Fatal(err)
	}
	if got != "3" {
		t.Errorf("settings must be tenant-scoped, got %q", got)
	}
}

func TestUpsertAdRefreshesSnapshot(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	created := time.Now().UTC().Add(-48 * time.Hour)
	ad := &models.Ad{
		Tenant: "t1", AdID: "ad1", PageID: "p1", PageName: "Acme",
		CreatedDate: &created, Reach: 10000,
		Bodies: []string{"Buy now"}, Languages: []string{"fr"},
	}
	if err := db.UpsertAd(ctx, ad); err != nil {
		t.Fatalf("UpsertAd failed: %v", err)
	}

	ad.Reach = 25000
	ad.Bodies = []string{"Buy now", "Sale"}
	if err := db.UpsertAd(ctx, ad); err != nil {
		t.Fatalf("second UpsertAd failed: %v", err)
	}

	got, err := db.GetAd(ctx, "t1", "ad1")
	if err != nil {
		t.Fatalf("GetAd failed: %v", err)
	}
	if got.Reach != 25000 || len(got.Bodies) != 2 {
		t.Errorf("snapshot fields should refresh: %+v", got)
	}

	counts, err := db.CountActiveAdsByPage(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if counts["p1"] != 1 {
		t.Errorf("expected 1 ad for p1, got %d", counts["p1"])
	}
}
