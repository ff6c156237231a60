package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL produces the deduplication key for a URL: the fragment is
// dropped, trailing slashes are stripped, and the result is lowercased.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Fragment = ""
	u.RawFragment = ""
	return strings.ToLower(strings.TrimRight(u.String(), "/")), nil
}

// ResolveLink resolves href against base and returns an absolute http(s) URL.
// Empty, in-page, javascript:, mailto:, and tel: hrefs report ok=false.
func ResolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return "", false
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if abs.Host == "" {
		return "", false
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), true
}
