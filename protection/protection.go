// Package protection derives a ProtectionSignal — the remote server's
// observed anti-bot posture — from an HTTP response's status, headers, and
// body. It never makes network calls; it is pure over its inputs, in the
// style of the teacher's headless.NeedsRendering heuristic.
package protection

import (
	"net/http"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"

	"github.com/brinkhollow/ingestor/model"
)

var titleRegex = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

var bodyMarkers = []string{
	"challenge-form",
	"cf-chl-bypass",
	"cf-browser-verification",
	"_cf_chl_jschl_tk",
	"datadome",
	"recaptcha",
}

var titleMarkers = []string{
	"just a moment",
	"checking your browser",
	"access denied",
}

var rateLimitBodyMarkers = []string{
	"rate limit",
	"too many requests",
	"please slow down",
}

const (
	weightStatus       = 30
	weightCloudflare   = 40
	weightDatadome     = 40
	weightTitleMarker  = 20
	weightBodyMarker   = 15
	weightScriptSrc    = 20
	weightErrorLink    = 25
)

// Detect classifies a single fetch response. body is the raw response body
// (decoded text); it may be truncated by the caller for large pages without
// affecting accuracy, since all markers appear near the top of challenge
// pages.
func Detect(statusCode int, headers http.Header, body string) model.ProtectionSignal {
	signal := model.ProtectionSignal{Kind: model.ProtectionNone}
	lowerBody := strings.ToLower(body)
	lowerHeaders := lowerHeaderBlob(headers)

	confidence := 0

	switch statusCode {
	case http.StatusForbidden, http.StatusServiceUnavailable, http.StatusTooManyRequests:
		confidence += weightStatus
		signal.Indicators = append(signal.Indicators, "status:"+strconv.Itoa(statusCode))
	}

	if strings.Contains(lowerHeaders, "cloudflare") || strings.Contains(lowerHeaders, "cf-ray") {
		signal.Kind = model.ProtectionCloudflare
		confidence += weightCloudflare
		signal.Indicators = append(signal.Indicators, "header:cloudflare")
	}

	if strings.Contains(lowerHeaders, "datadome") {
		signal.Kind = model.ProtectionDatadome
		confidence += weightDatadome
		signal.Indicators = append(signal.Indicators, "header:datadome")
	}

	title := extractTitle(body)
	lowerTitle := strings.ToLower(title)
	for _, marker := range titleMarkers {
		if strings.Contains(lowerTitle, marker) {
			confidence += weightTitleMarker
			signal.Indicators = append(signal.Indicators, "title:"+marker)
		}
	}

	for _, marker := range bodyMarkers {
		if strings.Contains(lowerBody, marker) {
			confidence += weightBodyMarker
			signal.Indicators = append(signal.Indicators, "body:"+marker)
			if marker == "datadome" && signal.Kind == model.ProtectionNone {
				signal.Kind = model.ProtectionDatadome
			}
			if marker == "recaptcha" && signal.Kind == model.ProtectionNone {
				signal.Kind = model.ProtectionRecaptcha
			}
		}
	}

	if strings.Contains(lowerBody, "<script") && (strings.Contains(lowerBody, "challenge-platform") || strings.Contains(lowerBody, "turnstile")) {
		confidence += weightScriptSrc
		signal.Indicators = append(signal.Indicators, "script-src:challenge")
	}

	if strings.Contains(lowerBody, "/errors/403") || strings.Contains(lowerBody, "/errors/503") {
		confidence += weightErrorLink
		signal.Indicators = append(signal.Indicators, "known-error-link")
	}

	if isRateLimited(statusCode, headers, lowerBody) {
		if signal.Kind == model.ProtectionNone {
			signal.Kind = model.ProtectionRateLimited
		}
		signal.Indicators = append(signal.Indicators, "rate-limited")
		confidence += weightStatus
	}

	if signal.Kind == model.ProtectionNone && confidence > 0 {
		signal.Kind = model.ProtectionGenericChallenge
	}

	if confidence > 100 {
		confidence = 100
	}
	if confidence < 0 {
		confidence = 0
	}
	signal.Confidence = confidence

	return signal
}

// isRateLimited reports whether the response carries rate-limit signature:
// a Retry-After header, 429/503 status, or a recognised body substring.
func isRateLimited(statusCode int, headers http.Header, lowerBody string) bool {
	if headers.Get("Retry-After") != "" {
		return true
	}
	if statusCode == http.StatusTooManyRequests || statusCode == http.StatusServiceUnavailable {
		return true
	}
	for _, marker := range rateLimitBodyMarkers {
		if strings.Contains(lowerBody, marker) {
			return true
		}
	}
	return false
}

func extractTitle(body string) string {
	match := titleRegex.FindStringSubmatch(body)
	if len(match) < 2 {
		return ""
	}
	return strings.TrimSpace(match[1])
}

func lowerHeaderBlob(headers http.Header) string {
	var b strings.Builder
	for key, values := range headers {
		b.WriteString(strings.ToLower(textproto.CanonicalMIMEHeaderKey(key)))
		b.WriteString(": ")
		for _, v := range values {
			b.WriteString(strings.ToLower(v))
			b.WriteString(" ")
		}
		b.WriteString("\n")
	}
	return b.String()
}
