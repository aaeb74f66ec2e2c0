// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

// Package analyzer inspects an advertiser's website: CMS fingerprint,
// theme, product count hints, currency, and text metadata for the
// classifier. Analyze never returns a Go error; all failures are carried in
// the result's Error field so one dead site cannot abort a phase.
package analyzer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tomtom215/adscout/internal/config"
	"github.com/tomtom215/adscout/internal/logging"
	"github.com/tomtom215/adscout/internal/models"
)

// maxBodyBytes bounds how much HTML is read per site.
const maxBodyBytes = 2 << 20 // 2 MiB

// Analyzer produces a WebsiteAnalysis for a URL.
type Analyzer interface {
	Analyze(ctx context.Context, rawURL, countryHint string) *models.WebsiteAnalysis
}

// HTTPAnalyzer fetches and fingerprints live websites, with an optional
// TTL cache in front so repeated runs against the same advertisers do not
// refetch within the cache window.
type HTTPAnalyzer struct {
	cfg    *config.AnalyzerConfig
	client *http.Client
	cache  *Cache // nil when disabled
	logger zerolog.Logger
}

// NewHTTPAnalyzer builds the analyzer. cache may be nil.
func NewHTTPAnalyzer(cfg *config.AnalyzerConfig, cache *Cache) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		cfg:   cfg,
		cache: cache,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger: logging.WithComponent("analyzer"),
	}
}

// Analyze implements Analyzer. The normalized URL is the cache identity
// only; the fetch uses the URL as given, since normalization forces the
// https scheme and would break http-only sites.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, rawURL, countryHint string) *models.WebsiteAnalysis {
	cacheKey := models.NormalizeWebsiteURL(rawURL)
	if cacheKey == "" {
		return &models.WebsiteAnalysis{CMS: models.CMSUnknown, Error: "invalid URL"}
	}

	if a.cache != nil {
		if cached, ok := a.cache.Get(cacheKey); ok {
			return cached
		}
	}

	fetchURL := strings.TrimSpace(rawURL)
	if !strings.Contains(fetchURL, "://") {
		fetchURL = "https://" + fetchURL
	}
	result := a.fetchAndInspect(ctx, fetchURL, countryHint)

	if a.cache != nil && result.Error == "" {
		a.cache.Put(cacheKey, result)
	}
	return result
}

func (a *HTTPAnalyzer) fetchAndInspect(ctx context.Context, siteURL, countryHint string) *models.WebsiteAnalysis {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, siteURL, nil)
	if err != nil {
		return &models.WebsiteAnalysis{CMS: models.CMSUnknown, Error: fmt.Sprintf("bad request: %v", err)}
	}
	req.Header.Set("User-Agent", a.cfg.UserAgent)
	if countryHint != "" {
		req.Header.Set("Accept-Language", strings.ToLower(countryHint))
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return &models.WebsiteAnalysis{CMS: models.CMSUnknown, Error: fmt.Sprintf("fetch failed: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return &models.WebsiteAnalysis{CMS: models.CMSUnknown, Error: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &models.WebsiteAnalysis{CMS: models.CMSUnknown, Error: fmt.Sprintf("read failed: %v", err)}
	}

	result := inspectHTML(string(body))
	result.Currency = firstNonNil(result.Currency, currencyFromHeaders(resp.Header))
	return result
}

func firstNonNil(a, b *string) *string {
	if a != nil {
		return a
	}
	return b
}

func currencyFromHeaders(h http.Header) *string {
	// Shopify surfaces the shop currency on a response header.
	if c := h.Get("X-Shopify-Currency"); c != "" {
		return &c
	}
	return nil
}

// NoopAnalyzer returns empty analyses. Used when website analysis is
// disabled for a deployment.
type NoopAnalyzer struct{}

// Analyze implements Analyzer.
func (NoopAnalyzer) Analyze(_ context.Context, _, _ string) *models.WebsiteAnalysis {
	return &models.WebsiteAnalysis{CMS: models.CMSUnknown}
}

var _ Analyzer = (*HTTPAnalyzer)(nil)
var _ Analyzer = NoopAnalyzer{}
