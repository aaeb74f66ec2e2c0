// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package analyzer

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/tomtom215/adscout/internal/models"
)

// cmsMarkers maps substring fingerprints in the raw HTML to a CMS. Checked
// in order; the first hit wins. Markers chosen from asset paths and
// generator strings the platforms emit on every storefront page.
var cmsMarkers = []struct {
	marker string
	cms    models.CMS
}{
	{"cdn.shopify.com", models.CMSShopify},
	{"Shopify.theme", models.CMSShopify},
	{"wp-content/plugins/woocommerce", models.CMSWooCommerce},
	{"woocommerce", models.CMSWooCommerce},
	{"/modules/prestashop", models.CMSPrestaShop},
	{"prestashop", models.CMSPrestaShop},
	{"Magento_", models.CMSMagento},
	{"mage/cookies", models.CMSMagento},
	{"cdn11.bigcommerce.com", models.CMSBigCommerce},
	{"bigcommerce", models.CMSBigCommerce},
	{"static.parastorage.com", models.CMSWix},
	{"wix.com", models.CMSWix},
	{"static1.squarespace.com", models.CMSSquarespace},
	{"squarespace", models.CMSSquarespace},
}

var shopifyThemeRe = regexp.MustCompile(`Shopify\.theme\s*=\s*\{[^}]*"name"\s*:\s*"([^"]+)"`)
var wpThemeRe = regexp.MustCompile(`wp-content/themes/([a-zA-Z0-9_-]+)/`)

// inspectHTML derives the full analysis from one HTML document.
func inspectHTML(doc string) *models.WebsiteAnalysis {
	result := &models.WebsiteAnalysis{CMS: detectCMS(doc)}

	if theme := detectTheme(doc, result.CMS); theme != "" {
		result.Theme = &theme
	}

	meta := extractMetadata(doc)
	if meta.title != "" {
		result.Title = &meta.title
	}
	if meta.description != "" {
		result.Description = &meta.description
	}
	if meta.h1 != "" {
		result.H1 = &meta.h1
	}
	result.Keywords = meta.keywords
	if meta.currency != "" {
		result.Currency = &meta.currency
	}
	return result
}

func detectCMS(doc string) models.CMS {
	lower := strings.ToLower(doc)
	for _, m := range cmsMarkers {
		if strings.Contains(lower, strings.ToLower(m.marker)) {
			return m.cms
		}
	}
	// Generator meta as a fallback.
	if g := metaGeneratorRe.FindStringSubmatch(doc); g != nil {
		gen := strings.ToLower(g[1])
		switch {
		case strings.Contains(gen, "wordpress"):
			return models.CMSWooCommerce
		case strings.Contains(gen, "prestashop"):
			return models.CMSPrestaShop
		case strings.Contains(gen, "wix"):
			return models.CMSWix
		case strings.Contains(gen, "squarespace"):
			return models.CMSSquarespace
		}
	}
	return models.CMSUnknown
}

var metaGeneratorRe = regexp.MustCompile(`(?i)<meta\s+name=["']generator["']\s+content=["']([^"']+)["']`)

func detectTheme(doc string, cms models.CMS) string {
	switch cms {
	case models.CMSShopify:
		if m := shopifyThemeRe.FindStringSubmatch(doc); m != nil {
			return m[1]
		}
	case models.CMSWooCommerce:
		if m := wpThemeRe.FindStringSubmatch(doc); m != nil {
			return m[1]
		}
	}
	return ""
}

type pageMetadata struct {
	title       string
	description string
	h1          string
	keywords    []string
	currency    string
}

// extractMetadata walks the parsed HTML tree for title, meta description,
// meta keywords, og:price:currency and the first h1.
func extractMetadata(doc string) pageMetadata {
	var meta pageMetadata

	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return meta
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if meta.title == "" {
					meta.title = strings.TrimSpace(textContent(n))
				}
			case "h1":
				if meta.h1 == "" {
					meta.h1 = strings.TrimSpace(textContent(n))
				}
			case "meta":
				name, property, content := attr(n, "name"), attr(n, "property"), attr(n, "content")
				switch {
				case strings.EqualFold(name, "description") && meta.description == "":
					meta.description = strings.TrimSpace(content)
				case strings.EqualFold(name, "keywords") && meta.keywords == nil:
					meta.keywords = splitKeywords(content)
				case strings.EqualFold(property, "og:price:currency") && meta.currency == "":
					meta.currency = strings.ToUpper(strings.TrimSpace(content))
				case strings.EqualFold(property, "product:price:currency") && meta.currency == "":
					meta.currency = strings.ToUpper(strings.TrimSpace(content))
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)
	return meta
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode {
			sb.WriteString(child.Data)
		}
	}
	return sb.String()
}

func splitKeywords(content string) []string {
	var out []string
	for _, k := range strings.Split(content, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
