// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package analyzer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tomtom215/adscout/internal/config"
	"github.com/tomtom215/adscout/internal/models"
)

func testAnalyzerConfig() *config.AnalyzerConfig {
	return &config.AnalyzerConfig{
		Parallelism:    5,
		RequestTimeout: 5 * time.Second,
		UserAgent:      "adscout-test",
	}
}

func TestDetectCMS(t *testing.T) {
	tests := []struct {
		name string
		html string
		want models.CMS
	}{
		{"shopify asset", `<script src="https://cdn.shopify.com/s/files/x.js"></script>`, models.CMSShopify},
		{"woocommerce plugin", `<link href="/wp-content/plugins/woocommerce/assets/css/a.css">`, models.CMSWooCommerce},
		{"prestashop", `<script src="/modules/prestashop/core.js"></script>`, models.CMSPrestaShop},
		{"magento", `<script type="text/x-magento-init">Magento_Theme</script>`, models.CMSMagento},
		{"bigcommerce cdn", `<img src="https://cdn11.bigcommerce.com/s-abc/img.png">`, models.CMSBigCommerce},
		{"wix static", `<script src="https://static.parastorage.com/x.js"></script>`, models.CMSWix},
		{"squarespace", `<script src="https://static1.squarespace.com/x.js"></script>`, models.CMSSquarespace},
		{"generator wordpress", `<meta name="generator" content="WordPress 6.4">`, models.CMSWooCommerce},
		{"plain html", `<html><body>hello</body></html>`, models.CMSUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectCMS(tt.html); got != tt.want {
				t.Errorf("detectCMS() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDetectTheme(t *testing.T) {
	shopify := `<script>Shopify.theme = {"name":"Dawn","id":1};</script>` +
		`<script src="https://cdn.shopify.com/x.js"></script>`
	if got := detectTheme(shopify, models.CMSShopify); got != "Dawn" {
		t.Errorf("shopify theme = %q, want Dawn", got)
	}

	wp := `<link href="/wp-content/themes/storefront/style.css">`
	if got := detectTheme(wp, models.CMSWooCommerce); got != "storefront" {
		t.Errorf("wp theme = %q, want storefront", got)
	}
}

func TestInspectHTMLMetadata(t *testing.T) {
	doc := `<!DOCTYPE html><html><head>
		<title>Acme Shoes</title>
		<meta name="description" content="Best shoes in town">
		<meta name="keywords" content="shoes, boots , sneakers">
		<meta property="og:price:currency" content="eur">
	</head><body><h1>Welcome to Acme</h1></body></html>`

	got := inspectHTML(doc)
	if got.Title == nil || *got.Title != "Acme Shoes" {
		t.Errorf("Title = %v", got.Title)
	}
	if got.Description == nil || *got.Description != "Best shoes in town" {
		t.Errorf("Description = %v", got.Description)
	}
	if got.H1 == nil || *got.H1 != "Welcome to Acme" {
		t.Errorf("H1 = %v", got.H1)
	}
	if len(got.Keywords) != 3 || got.Keywords[1] != "boots" {
		t.Errorf("Keywords = %v", got.Keywords)
	}
	if got.Currency == nil || *got.Currency != "EUR" {
		t.Errorf("Currency = %v", got.Currency)
	}
}

func TestAnalyzeCarriesFailuresInResult(t *testing.T) {
	a := NewHTTPAnalyzer(testAnalyzerConfig(), nil)

	got := a.Analyze(context.Background(), "not a url at all", "FR")
	if got.Error == "" {
		t.Error("invalid URL should produce an error field, not a panic or nil")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	got = a.Analyze(context.Background(), srv.URL, "FR")
	if got.Error == "" {
		t.Error("HTTP 503 should be carried in the Error field")
	}
	if got.CMS != models.CMSUnknown {
		t.Errorf("CMS on failure = %s, want unknown", got.CMS)
	}
}

func TestAnalyzeLiveFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "adscout-test" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write([]byte(`<html><head><title>Shop</title></head>
			<body><script src="https://cdn.shopify.com/a.js"></script></body></html>`))
	}))
	defer srv.Close()

	a := NewHTTPAnalyzer(testAnalyzerConfig(), nil)
	got := a.Analyze(context.Background(), srv.URL, "")
	if got.Error != "" {
		t.Fatalf("unexpected error: %s", got.Error)
	}
	if got.CMS != models.CMSShopify {
		t.Errorf("CMS = %s, want shopify", got.CMS)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	cache, err := OpenCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("OpenCache failed: %v", err)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	}()

	if _, ok := cache.Get("https://missing.example"); ok {
		t.Error("unexpected hit on empty cache")
	}

	theme := "Dawn"
	cache.Put("https://acme.example", &models.WebsiteAnalysis{CMS: models.CMSShopify, Theme: &theme})

	got, ok := cache.Get("https://acme.example")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.CMS != models.CMSShopify || got.Theme == nil || *got.Theme != "Dawn" {
		t.Errorf("cached analysis = %+v", got)
	}
}

func TestAnalyzeUsesCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = w.Write([]byte(`<html><head><title>Shop</title></head><body></body></html>`))
	}))
	defer srv.Close()

	cache, err := OpenCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = cache.Close() }()

	a := NewHTTPAnalyzer(testAnalyzerConfig(), cache)
	a.Analyze(context.Background(), srv.URL, "")
	a.Analyze(context.Background(), srv.URL, "")
	// Variants of the same site normalize to one cache identity.
	a.Analyze(context.Background(), srv.URL+"/", "")

	if calls != 1 {
		t.Errorf("expected 1 upstream fetch with warm cache, got %d", calls)
	}
}
