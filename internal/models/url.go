// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package models

import (
	"net/url"
	"strings"
)

// NormalizeWebsiteURL canonicalizes a website URL for storage and cache keys:
// lowercase host, https scheme, leading "www." stripped, trailing slash
// stripped, query and fragment dropped. Returns the empty string for inputs
// that do not parse to a host.
func NormalizeWebsiteURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}

	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")

	path := strings.TrimSuffix(u.Path, "/")

	return "https://" + host + path
}
