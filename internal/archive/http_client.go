// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package archive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/adscout/internal/config"
	"github.com/tomtom215/adscout/internal/logging"
	"github.com/tomtom215/adscout/internal/metrics"
	"github.com/tomtom215/adscout/internal/models"
)

// HTTPClient talks to the ad-archive REST API. Calls are throttled with a
// per-credential token bucket and guarded by a shared circuit breaker, so a
// dying upstream fails fast instead of burning the credential pool.
type HTTPClient struct {
	cfg     *config.ArchiveConfig
	breaker *gobreaker.CircuitBreaker[[]models.AdRecord]
	logger  zerolog.Logger

	// one rate limiter and one http.Client (proxy-bound) per credential
	limitersMu sync.Mutex
	limiters   map[int64]*rate.Limiter
	clientsMu  sync.Mutex
	clients    map[int64]*http.Client
}

// NewHTTPClient builds the archive client.
func NewHTTPClient(cfg *config.ArchiveConfig) *HTTPClient {
	const cbName = "archive-api"
	metrics.SetCircuitBreakerState(cbName, 0)

	c := &HTTPClient{
		cfg:      cfg,
		logger:   logging.WithComponent("archive"),
		limiters: make(map[int64]*rate.Limiter),
		clients:  make(map[int64]*http.Client),
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]models.AdRecord](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			// Rate limits are credential state, not upstream health.
			if err == nil {
				return true
			}
			return AsError(err).Kind == KindRateLimited
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info().Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.SetCircuitBreakerState(name, breakerStateValue(to))
		},
	})
	return c
}

func breakerStateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// SearchByKeyword implements Client.
func (c *HTTPClient) SearchByKeyword(ctx context.Context, keyword string, countries, languages []string, cred *models.Credential) ([]models.AdRecord, error) {
	q := url.Values{}
	q.Set("search_terms", keyword)
	setListParam(q, "countries", countries)
	setListParam(q, "languages", languages)
	return c.fetchAll(ctx, "/ads", q, cred)
}

// GetPageAds implements Client.
func (c *HTTPClient) GetPageAds(ctx context.Context, pageID string, countries, languages []string, cred *models.Credential) ([]models.AdRecord, error) {
	q := url.Values{}
	q.Set("page_id", pageID)
	setListParam(q, "countries", countries)
	setListParam(q, "languages", languages)
	return c.fetchAll(ctx, "/ads", q, cred)
}

func setListParam(q url.Values, key string, values []string) {
	if len(values) > 0 {
		q.Set(key, strings.Join(values, ","))
	}
}

// searchResponse is one page of the archive's paginated ad listing.
type searchResponse struct {
	Data   []models.AdRecord `json:"data"`
	Paging struct {
		NextCursor string `json:"next_cursor"`
	} `json:"paging"`
}

// fetchAll walks the cursor pagination until exhausted.
func (c *HTTPClient) fetchAll(ctx context.Context, path string, q url.Values, cred *models.Credential) ([]models.AdRecord, error) {
	q.Set("limit", strconv.Itoa(c.cfg.PageSize))

	var all []models.AdRecord
	cursor := ""
	for {
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		page, next, err := c.fetchPage(ctx, path, q, cred)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

func (c *HTTPClient) fetchPage(ctx context.Context, path string, q url.Values, cred *models.Credential) ([]models.AdRecord, string, error) {
	if err := c.limiter(cred.ID).Wait(ctx); err != nil {
		return nil, "", NewError(KindTransient, "rate limiter wait", err)
	}

	var next string
	start := time.Now()
	records, err := c.breaker.Execute(func() ([]models.AdRecord, error) {
		resp, err := c.do(ctx, path, q, cred)
		if err != nil {
			return nil, err
		}
		next = resp.Paging.NextCursor
		return resp.Data, nil
	})

	outcome := "success"
	if err != nil {
		outcome = AsError(err).Kind.String()
	}
	metrics.RecordArchiveCall(string(models.ChannelArchiveAPI), outcome, time.Since(start))

	if err != nil {
		return nil, "", err
	}
	return records, next, nil
}

func (c *HTTPClient) do(ctx context.Context, path string, q url.Values, cred *models.Credential) (*searchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	reqURL := strings.TrimSuffix(c.cfg.BaseURL, "/") + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, NewError(KindFatal, "failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient(cred).Do(req)
	if err != nil {
		return nil, NewError(KindTransient, "request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(resp); err != nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, err
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, NewError(KindTransient, "failed to decode response", err)
	}
	return &parsed, nil
}

// classifyStatus maps HTTP status codes to the error taxonomy:
// 429 is RateLimited (honoring Retry-After), 401/403 are Fatal for the
// credential, anything else non-2xx is Transient.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewRateLimitError(parseRetryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewError(KindFatal, fmt.Sprintf("credential rejected with status %d", resp.StatusCode), nil)
	default:
		return NewError(KindTransient, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
}

// parseRetryAfter reads a Retry-After header as either delta-seconds or an
// HTTP date. Returns zero when absent or unparseable.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// limiter returns the token bucket for a credential, creating it on first
// use. Burst 1 keeps calls evenly spaced.
func (c *HTTPClient) limiter(credID int64) *rate.Limiter {
	c.limitersMu.Lock()
	defer c.limitersMu.Unlock()
	l, ok := c.limiters[credID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.cfg.RequestsPerSecond), 1)
		c.limiters[credID] = l
	}
	return l
}

// httpClient returns the HTTP client bound to a credential's proxy, or the
// shared direct client when the credential has none.
func (c *HTTPClient) httpClient(cred *models.Credential) *http.Client {
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()
	hc, ok := c.clients[cred.ID]
	if ok {
		return hc
	}

	transport := http.DefaultTransport
	if cred.ProxyURL != nil && *cred.ProxyURL != "" {
		if proxyURL, err := url.Parse(*cred.ProxyURL); err == nil {
			t := http.DefaultTransport.(*http.Transport).Clone()
			t.Proxy = http.ProxyURL(proxyURL)
			transport = t
		} else {
			c.logger.Warn().Int64("credential_id", cred.ID).Err(err).
				Msg("invalid proxy URL, using direct connection")
		}
	}

	hc = &http.Client{Transport: transport, Timeout: c.cfg.RequestTimeout}
	c.clients[cred.ID] = hc
	return hc
}
