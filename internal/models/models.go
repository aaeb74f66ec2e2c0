// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

// Package models defines the typed domain entities shared across Adscout.
//
// Every persisted entity carries a tenant identifier; all repository access
// is tenant-scoped. Optional fields use pointers so that "absent" and
// "zero" stay distinguishable across the wire and the database.
package models

import (
	"time"
)

// CMS identifies the e-commerce platform detected behind a page's website.
type CMS string

// Known CMS values. CMSUnknown is the default for undetected platforms.
const (
	CMSShopify     CMS = "shopify"
	CMSWooCommerce CMS = "woocommerce"
	CMSPrestaShop  CMS = "prestashop"
	CMSMagento     CMS = "magento"
	CMSBigCommerce CMS = "bigcommerce"
	CMSWix         CMS = "wix"
	CMSSquarespace CMS = "squarespace"
	CMSUnknown     CMS = "unknown"
)

// AllCMS lists every known CMS value, CMSUnknown included.
var AllCMS = []CMS{
	CMSShopify, CMSWooCommerce, CMSPrestaShop, CMSMagento,
	CMSBigCommerce, CMSWix, CMSSquarespace, CMSUnknown,
}

// SizeBucket is the categorical page size label derived from active-ad count.
type SizeBucket string

// Size buckets, smallest to largest. SizeInactive marks pages with zero
// active ads.
const (
	SizeInactive SizeBucket = "inactif"
	SizeXS       SizeBucket = "XS"
	SizeS        SizeBucket = "S"
	SizeM        SizeBucket = "M"
	SizeL        SizeBucket = "L"
	SizeXL       SizeBucket = "XL"
	SizeXXL      SizeBucket = "XXL"
)

// RunStatus is the lifecycle state of a SearchRun.
type RunStatus string

// SearchRun states. Transitions are validated by the repository; see
// ValidTransition.
const (
	RunPending     RunStatus = "pending"
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunCancelled   RunStatus = "cancelled"
	RunInterrupted RunStatus = "interrupted"
	RunNoResults   RunStatus = "no_results"
)

// IsTerminal reports whether the status is an end state of a run.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunInterrupted, RunNoResults:
		return true
	default:
		return false
	}
}

// ValidTransition reports whether a run may move from one status to another.
//
// pending  -> running | cancelled
// running  -> completed | no_results | failed | cancelled | interrupted
// interrupted | failed -> pending (user restart)
func ValidTransition(from, to RunStatus) bool {
	switch from {
	case RunPending:
		return to == RunRunning || to == RunCancelled
	case RunRunning:
		return to == RunCompleted || to == RunNoResults || to == RunFailed ||
			to == RunCancelled || to == RunInterrupted
	case RunInterrupted, RunFailed:
		return to == RunPending
	default:
		return false
	}
}

// Channel labels the external system an API counter or error refers to.
type Channel string

// Channels tracked in run logs.
const (
	ChannelArchiveAPI Channel = "archive_api"
	ChannelScraperAPI Channel = "scraper_api"
	ChannelWebDirect  Channel = "web_direct"
)

// Page is a discovered advertiser. PageID is externally assigned by the ad
// archive and unique within a tenant. Keywords and Countries are append-only
// unions across runs.
type Page struct {
	Tenant              string     `json:"tenant"`
	PageID              string     `json:"page_id"`
	Name                string     `json:"name"`
	WebsiteURL          *string    `json:"website_url,omitempty"`
	CMS                 CMS        `json:"cms"`
	Theme               *string    `json:"theme,omitempty"`
	ProductCount        *int       `json:"product_count,omitempty"`
	ActiveAdCount       int        `json:"active_ad_count"`
	SizeBucket          SizeBucket `json:"size_bucket"`
	Category            *string    `json:"category,omitempty"`
	Subcategory         *string    `json:"subcategory,omitempty"`
	CategoryConfidence  *float64   `json:"category_confidence,omitempty"`
	Currency            *string    `json:"currency,omitempty"`
	Keywords            []string   `json:"keywords"`
	Countries           []string   `json:"countries"`
	FirstSeen           time.Time  `json:"first_seen"`
	LastUpdated         time.Time  `json:"last_updated"`
	LastScanned         *time.Time `json:"last_scanned,omitempty"`
	LastRunID           *int64     `json:"last_run_id,omitempty"`
	WasCreatedInLastRun bool       `json:"was_created_in_last_run"`
}

// AdRecord is one advertisement as returned by the ad-archive client.
// It is the wire shape; Ad is the persisted shape.
type AdRecord struct {
	AdID             string     `json:"ad_id"`
	PageID           string     `json:"page_id"`
	PageName         string     `json:"page_name"`
	CreatedDate      *time.Time `json:"created_date,omitempty"`
	Reach            int64      `json:"reach"`
	ReachLower       *int64     `json:"reach_lower,omitempty"`
	ReachUpper       *int64     `json:"reach_upper,omitempty"`
	Bodies           []string   `json:"bodies,omitempty"`
	LinkTitles       []string   `json:"link_titles,omitempty"`
	LinkCaptions     []string   `json:"link_captions,omitempty"`
	SnapshotURL      *string    `json:"snapshot_url,omitempty"`
	Currency         *string    `json:"currency,omitempty"`
	Languages        []string   `json:"languages,omitempty"`
	Platforms        []string   `json:"platforms,omitempty"`
	TargetingSummary *string    `json:"targeting_summary,omitempty"`
	WebsiteURL       *string    `json:"website_url,omitempty"`
}

// Ad is one advertisement from the archive, immutable once saved except for
// snapshot fields. AdID is unique within a tenant.
type Ad struct {
	Tenant           string     `json:"tenant"`
	AdID             string     `json:"ad_id"`
	PageID           string     `json:"page_id"`
	PageName         string     `json:"page_name"`
	CreatedDate      *time.Time `json:"created_date,omitempty"`
	Reach            int64      `json:"reach"`
	ReachLower       *int64     `json:"reach_lower,omitempty"`
	ReachUpper       *int64     `json:"reach_upper,omitempty"`
	Bodies           []string   `json:"bodies,omitempty"`
	LinkTitles       []string   `json:"link_titles,omitempty"`
	LinkCaptions     []string   `json:"link_captions,omitempty"`
	SnapshotURL      *string    `json:"snapshot_url,omitempty"`
	Currency         *string    `json:"currency,omitempty"`
	Languages        []string   `json:"languages,omitempty"`
	Platforms        []string   `json:"platforms,omitempty"`
	TargetingSummary *string    `json:"targeting_summary,omitempty"`
	Keyword          *string    `json:"keyword,omitempty"`
}

// AgeDays returns the ad's age in whole days relative to ref, or -1 when the
// creation date is unknown. Never negative for known dates: ads created
// "later today" clamp to 0.
func (a *Ad) AgeDays(ref time.Time) int {
	if a.CreatedDate == nil {
		return -1
	}
	days := int(ref.Sub(*a.CreatedDate).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// WinningAd is an Ad that passed the scoring rules. One row per AdID within
// a tenant; re-detection updates snapshot fields but never duplicates.
type WinningAd struct {
	Tenant           string    `json:"tenant"`
	AdID             string    `json:"ad_id"`
	PageID           string    `json:"page_id"`
	Criterion        string    `json:"criterion"`
	ReachAtDetection int64     `json:"reach_at_detection"`
	AgeAtDetection   int       `json:"age_at_detection"`
	DetectedAt       time.Time `json:"detected_at"`
	SearchRunID      int64     `json:"search_run_id"`

	// IsNew reports first-ever detection within the tenant, set by the
	// repository on upsert.
	IsNew bool `json:"is_new"`
}

// SearchRun is one submitted search request and its live progress state.
type SearchRun struct {
	ID           int64      `json:"id"`
	Tenant       string     `json:"tenant"`
	Keywords     []string   `json:"keywords"`
	Countries    []string   `json:"countries"`
	Languages    []string   `json:"languages"`
	MinActiveAds int        `json:"min_active_ads"`
	CMSFilter    []CMS      `json:"cms_filter,omitempty"`
	Status       RunStatus  `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Heartbeat    *time.Time `json:"last_heartbeat,omitempty"`
	PhaseNumber  int        `json:"phase_number"`
	PhaseName    string     `json:"phase_name"`
	Percent      int        `json:"percent"`
	Message      string     `json:"message"`
	Priority     int        `json:"priority"`
	RunLogID     *string    `json:"run_log_id,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// PhaseRecord is the immutable record of one executed orchestrator phase.
type PhaseRecord struct {
	Number     int              `json:"number"`
	Name       string           `json:"name"`
	StartedAt  time.Time        `json:"started_at"`
	DurationMs int64            `json:"duration_ms"`
	Outcome    string           `json:"outcome"`
	Stats      map[string]int64 `json:"stats,omitempty"`
}

// APICounter aggregates per-channel external call statistics for a run.
type APICounter struct {
	Calls         int64   `json:"calls"`
	Errors        int64   `json:"errors"`
	RateLimitHits int64   `json:"rate_limit_hits"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	CostMicros    int64   `json:"cost_micros"`
}

// ErrorRecord is one structured per-item error captured during a run.
type ErrorRecord struct {
	Channel   Channel   `json:"channel"`
	Message   string    `json:"message"`
	Keyword   *string   `json:"keyword,omitempty"`
	URL       *string   `json:"url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RunCounts holds the final aggregate counters of a run.
type RunCounts struct {
	AdsFound          int            `json:"ads_found"`
	PagesFound        int            `json:"pages_found"`
	PagesAfterFilter  int            `json:"pages_after_filter"`
	PagesByCMS        map[string]int `json:"pages_by_cms,omitempty"`
	WinningAds        int            `json:"winning_ads"`
	NewPages          int            `json:"new_pages"`
	UpdatedPages      int            `json:"updated_pages"`
	NewWinningAds     int            `json:"new_winning_ads"`
	UpdatedWinningAds int            `json:"updated_winning_ads"`
	BlacklistSkipped  int            `json:"blacklist_skipped"`
}

// RunLog is the final, append-only record of an executed run.
type RunLog struct {
	ID           string                  `json:"id"`
	RunID        int64                   `json:"run_id"`
	Tenant       string                  `json:"tenant"`
	Keywords     []string                `json:"keywords"`
	Countries    []string                `json:"countries"`
	Languages    []string                `json:"languages"`
	MinActiveAds int                     `json:"min_active_ads"`
	CMSFilter    []CMS                   `json:"cms_filter,omitempty"`
	StartedAt    time.Time               `json:"started_at"`
	EndedAt      time.Time               `json:"ended_at"`
	FinalStatus  RunStatus               `json:"final_status"`
	Phases       []PhaseRecord           `json:"phases"`
	Counts       RunCounts               `json:"counts"`
	APICounters  map[Channel]*APICounter `json:"api_counters"`
	Errors       []ErrorRecord           `json:"errors,omitempty"`
}

// Credential is an ad-archive access token with optional proxy and
// rate-limit state. A credential with RateLimitedUntil in the future, or
// with Active=false, is ineligible for dispatch.
type Credential struct {
	ID               int64      `json:"id"`
	Token            string     `json:"-"`
	ProxyURL         *string    `json:"proxy_url,omitempty"`
	Active           bool       `json:"active"`
	TotalCalls       int64      `json:"total_calls"`
	TotalErrors      int64      `json:"total_errors"`
	RateLimitHits    int64      `json:"rate_limit_hits"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	LastErrorAt      *time.Time `json:"last_error_at,omitempty"`
	RateLimitedUntil *time.Time `json:"rate_limited_until,omitempty"`
}

// Usable reports whether the credential is dispatchable at the given time.
func (c *Credential) Usable(now time.Time) bool {
	if !c.Active {
		return false
	}
	return c.RateLimitedUntil == nil || !c.RateLimitedUntil.After(now)
}

// RunPageHistory is one lineage row tying a run to a page it discovered.
type RunPageHistory struct {
	RunID              int64     `json:"run_id"`
	Tenant             string    `json:"tenant"`
	PageID             string    `json:"page_id"`
	WasNew             bool      `json:"was_new_at_discovery"`
	KeywordMatched     *string   `json:"keyword_matched,omitempty"`
	AdCountAtDiscovery int       `json:"ad_count_at_discovery"`
	FoundAt            time.Time `json:"found_at"`
}

// RunWinningAdHistory is one lineage row tying a run to a winning ad.
type RunWinningAdHistory struct {
	RunID            int64     `json:"run_id"`
	Tenant           string    `json:"tenant"`
	AdID             string    `json:"ad_id"`
	WasNew           bool      `json:"was_new_at_detection"`
	ReachAtDetection int64     `json:"reach_at_detection"`
	FoundAt          time.Time `json:"found_at"`
}

// WebsiteAnalysis is the result of scraping a page's website. Any field may
// be absent; failures are carried in Error, never raised.
type WebsiteAnalysis struct {
	CMS          CMS      `json:"cms,omitempty"`
	Theme        *string  `json:"theme,omitempty"`
	ProductCount *int     `json:"product_count,omitempty"`
	Currency     *string  `json:"currency,omitempty"`
	Title        *string  `json:"title,omitempty"`
	Description  *string  `json:"description,omitempty"`
	H1           *string  `json:"h1,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// SiteContent is the text payload submitted to the classifier for one page.
type SiteContent struct {
	PageID      string   `json:"page_id"`
	URL         string   `json:"url"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	H1          string   `json:"h1,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

// Classification is the classifier verdict for one page.
type Classification struct {
	Category    string  `json:"category"`
	Subcategory *string `json:"subcategory,omitempty"`
	Confidence  float64 `json:"confidence"`
	Error       string  `json:"error,omitempty"`
}
