// Package urlutil provides URL resolution, host extraction, and
// normalization helpers shared by the fetch, link discovery, and structure
// subsystems.
package urlutil

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ExtractHost returns the hostname (no port) for a URL, used as the
// rate-limiter and selector-cache domain key.
func ExtractHost(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return "", fmt.Errorf("url has no host: %s", rawURL)
	}
	return host, nil
}

// RegistrableDomain returns the host with a single leading "www." stripped,
// used as the Structure Engine's per-domain cache key.
func RegistrableDomain(rawURL string) (string, error) {
	host, err := ExtractHost(rawURL)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(host, "www."), nil
}

// ResolveAbsolute resolves href against base and returns an absolute URL.
//
// This is the round-trip law from the spec: resolving an already-absolute
// URL is idempotent and byte-identical except for "&amp;" -> "&" decoding,
// which HTML attribute encoding requires callers to undo exactly once.
func ResolveAbsolute(href, baseURL string) (string, error) {
	decoded := strings.ReplaceAll(href, "&amp;", "&")

	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse base URL: %w", err)
	}

	ref, err := url.Parse(decoded)
	if err != nil {
		return "", fmt.Errorf("failed to parse href: %w", err)
	}

	resolved := base.ResolveReference(ref)
	return resolved.String(), nil
}

// IsAbsolute reports whether rawURL already carries a scheme and host.
func IsAbsolute(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return parsed.IsAbs() && parsed.Host != ""
}

// ValidateExternal rejects URLs that resolve to loopback or private IPs,
// guarding the fetch engine against SSRF against internal infrastructure.
func ValidateExternal(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https")
	}

	host, _, err := net.SplitHostPort(parsed.Host)
	if err != nil {
		host = parsed.Host
	}
	host = strings.Trim(host, "[]")

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			return fmt.Errorf("requests to private IP addresses are not allowed: %s", host)
		}
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		// Let the HTTP client surface the DNS failure as a network error.
		return nil
	}
	for _, resolved := range ips {
		if resolved.IsLoopback() || resolved.IsPrivate() || resolved.IsLinkLocalUnicast() {
			return fmt.Errorf("url resolves to private IP address: %s -> %s", host, resolved)
		}
	}
	return nil
}

// HasAnySubstring reports whether s contains any of the given substrings,
// case-insensitively. Used for include/exclude pattern matching.
func HasAnySubstring(s string, substrings []string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrings {
		if sub == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
