// Package fetchengine orchestrates the tiered fetch strategy: a cheap
// plain HTTP GET first, escalating to a headless browser render (with
// optional HTMX enrichment) only when the HTTP tier's response looks
// blocked, empty, or explicitly requires JavaScript.
package fetchengine

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/brinkhollow/ingestor/config"
	"github.com/brinkhollow/ingestor/fetcher"
	"github.com/brinkhollow/ingestor/headless"
	"github.com/brinkhollow/ingestor/htmx"
	"github.com/brinkhollow/ingestor/model"
	"github.com/brinkhollow/ingestor/protection"
	"github.com/brinkhollow/ingestor/ratelimit"
	"github.com/brinkhollow/ingestor/retry"
	"github.com/brinkhollow/ingestor/robots"
)

// minSourceLinks and minArticleChars implement the content-validation
// thresholds: a source page must surface enough navigable links to be
// worth crawling, an article page must carry enough body text to be
// worth extracting. minHTTPBodyBytes and minBlockingConfidence gate tier
// escalation itself: the HTTP tier's raw response must clear both a
// minimum size and, when a protection signal fired at blocking strength,
// still show usable content before it's trusted over a headless render.
const (
	minSourceLinks       = 10
	minArticleChars      = 500
	minHTTPBodyBytes     = 1024
	minBlockingConfidence = 50
)

// Engine is the narrow contract the rest of the system depends on; it
// hides which tier actually produced a FetchOutcome.
type Engine interface {
	Fetch(ctx context.Context, url string, opts model.FetchOptions) (model.FetchOutcome, error)
}

// TieredEngine implements Engine using an HTTP tier backed by retry and
// rate-limiting, and a headless tier shared across calls as a singleton.
type TieredEngine struct {
	retrier *retry.Retrier
	browser *headless.Browser
	robots  *robots.Checker
	cfg     config.Config
	logger  *slog.Logger
}

// New wires the HTTP and headless tiers from a shared configuration. The
// returned Engine owns browser.Close() and must be shut down by the
// caller on process exit.
func New(cfg config.Config, logger *slog.Logger) *TieredEngine {
	if logger == nil {
		logger = slog.Default()
	}
	f := fetcher.New(cfg.Fetch)
	l := ratelimit.New(cfg.RateLimit)
	r := retry.New(f, l, cfg.Retry)
	b := headless.New(cfg.Headless, logger)

	var rc *robots.Checker
	if cfg.Robots.Enabled {
		rc = robots.New(cfg.Robots.GetUserAgent(), cfg.Robots.GetCacheTTL(), nil)
	}

	return &TieredEngine{retrier: r, browser: b, robots: rc, cfg: cfg, logger: logger}
}

// Close releases the shared headless browser process.
func (e *TieredEngine) Close() {
	e.browser.Close()
}

// Fetch runs the tiered strategy for a single URL. If a robots.txt
// checker is configured and disallows the URL, Fetch returns an error
// without attempting either tier. Otherwise, unless ForceMethod pins a
// tier, the HTTP tier is tried first; a short or transport-failed
// response, or a blocking protection signal with no usable content,
// escalates to the headless tier.
func (e *TieredEngine) Fetch(ctx context.Context, url string, opts model.FetchOptions) (model.FetchOutcome, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if e.robots != nil {
		allowed, err := e.robots.IsAllowed(ctx, url)
		if err != nil {
			e.logger.Debug("robots.txt check failed, proceeding", "url", url, "error", err)
		} else if !allowed {
			e.logger.Info("robots.txt disallows url, skipping fetch", "url", url)
			return model.FetchOutcome{FinalURL: url}, fmt.Errorf("robots.txt disallows %s", url)
		}
	}

	switch opts.ForceMethod {
	case model.ForceMethodHeadless:
		return e.fetchHeadless(ctx, url, opts)
	case model.ForceMethodHTTP:
		return e.fetchHTTP(ctx, url)
	}

	httpOutcome, err := e.fetchHTTP(ctx, url)
	if err != nil {
		e.logger.Debug("http tier failed, escalating to headless", "url", url, "error", err)
		return e.fetchHeadless(ctx, url, opts)
	}

	if !opts.HandleDynamic && isValid(httpOutcome, opts.Intent) {
		return httpOutcome, nil
	}

	e.logger.Debug("http tier insufficient, escalating to headless",
		"url", url, "blocking", httpOutcome.Protection.Blocking(), "intent", opts.Intent)
	return e.fetchHeadless(ctx, url, opts)
}

func (e *TieredEngine) fetchHTTP(ctx context.Context, url string) (model.FetchOutcome, error) {
	resp, err := e.retrier.Fetch(ctx, url)
	if err != nil {
		return model.FetchOutcome{}, fmt.Errorf("http fetch: %w", err)
	}

	signal := protection.Detect(resp.StatusCode, resp.Headers, string(resp.Body))

	return model.FetchOutcome{
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		HTML:       string(resp.Body),
		FinalURL:   resp.URL,
		StatusCode: resp.StatusCode,
		Protection: signal,
		Method:     model.FetchMethodHTTP,
	}, nil
}

func (e *TieredEngine) fetchHeadless(ctx context.Context, url string, opts model.FetchOptions) (model.FetchOutcome, error) {
	resp, err := e.browser.Render(ctx, url)
	if err != nil {
		return model.FetchOutcome{}, fmt.Errorf("headless fetch: %w", err)
	}

	signal := protection.Detect(resp.StatusCode, resp.Headers, string(resp.Body))

	if opts.HandleDynamic || hasHTMXMarkersInHTML(string(resp.Body)) {
		if enriched, enrichErr := e.enrichHTMX(ctx, url); enrichErr != nil {
			e.logger.Debug("htmx enrichment skipped", "url", url, "error", enrichErr)
		} else if enriched != "" {
			resp.Body = []byte(enriched)
			signal = protection.Detect(resp.StatusCode, resp.Headers, enriched)
		}
	}

	return model.FetchOutcome{
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		HTML:       string(resp.Body),
		FinalURL:   resp.URL,
		StatusCode: resp.StatusCode,
		Protection: signal,
		Method:     model.FetchMethodHeadless,
	}, nil
}

// enrichHTMX opens its own short-lived page against the shared browser
// context to run the HTMX loader sequence, returning the enriched
// document's HTML, or "" when the page shows no HTMX markers. The headless
// package does not expose its live page context after Render returns, so
// this performs an independent navigate-and-enrich pass using chromedp
// directly against the browser's allocator.
func (e *TieredEngine) enrichHTMX(ctx context.Context, url string) (string, error) {
	browserCtx, err := e.browser.Context(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire browser context: %w", err)
	}

	taskCtx, cancel := chromedp.NewContext(browserCtx)
	defer cancel()

	if err := chromedp.Run(taskCtx, chromedp.Navigate(url), chromedp.WaitReady("body")); err != nil {
		return "", fmt.Errorf("navigate for htmx enrichment: %w", err)
	}

	hasMarkers, err := htmx.HasMarkers(taskCtx)
	if err != nil {
		return "", fmt.Errorf("detect htmx markers: %w", err)
	}
	if !hasMarkers {
		return "", nil
	}

	if err := htmx.Enrich(taskCtx, url, e.logger); err != nil {
		return "", err
	}
	var html string
	if err := chromedp.Run(taskCtx, chromedp.OuterHTML("html", &html)); err != nil {
		return "", fmt.Errorf("read enriched html: %w", err)
	}
	return html, nil
}

func hasHTMXMarkersInHTML(html string) bool {
	lower := strings.ToLower(html)
	return strings.Contains(lower, "hx-get") || strings.Contains(lower, "hx-post") ||
		strings.Contains(lower, "htmx.min.js") || strings.Contains(lower, "htmx.js")
}

// isValid decides whether the HTTP tier's response is trustworthy enough
// to skip headless escalation: the fetch must have succeeded, the raw
// body must clear the minimum byte floor, and if the protection signal
// reached blocking strength the page must still show usable content.
// A page with a weaker, merely informational protection signal and a
// substantial body is accepted outright — presence of an indicator alone
// is not grounds for escalation.
func isValid(outcome model.FetchOutcome, intent model.PageIntent) bool {
	if !outcome.Success {
		return false
	}
	if len(outcome.HTML) < minHTTPBodyBytes {
		return false
	}
	// A substantial byte count can still be a client-rendered shell — a
	// script-bearing document whose visible text never materializes
	// without JS. Unlike the blocking-confidence check below, this
	// applies regardless of any protection signal.
	parsed := strings.TrimSpace(stripTags(scriptStyleElementPattern.ReplaceAllString(outcome.HTML, "")))
	if headless.NeedsRendering([]byte(outcome.HTML), []byte(parsed)) {
		return false
	}
	if outcome.Protection.Confidence >= minBlockingConfidence && !hasUsableContent(outcome, intent) {
		return false
	}
	return true
}

// hasUsableContent applies the content-validation thresholds: a source
// page must surface enough navigable links to be worth crawling, an
// article page must carry enough visible text to be worth extracting.
func hasUsableContent(outcome model.FetchOutcome, intent model.PageIntent) bool {
	if intent == model.IntentArticlePage {
		return visibleTextLength(outcome.HTML) > minArticleChars
	}
	return countableLinks(outcome.HTML) >= minSourceLinks
}

// countableLinks is a cheap pre-headless estimate of navigable links; the
// authoritative count used for discovery comes from the linkdiscovery
// package once a page is committed to a tier.
func countableLinks(html string) int {
	return strings.Count(strings.ToLower(html), "<a ")
}

// visibleTextLength is a cheap heuristic proxy used only to decide
// whether to escalate tiers; real extraction happens downstream.
func visibleTextLength(html string) int {
	return len(strings.TrimSpace(stripTags(scriptStyleElementPattern.ReplaceAllString(html, ""))))
}

// scriptStyleElementPattern strips entire script/style elements, body
// included, before a naive tag-stripping pass — otherwise a large inline
// script's code reads as "visible" text and masks a client-rendered shell.
var scriptStyleElementPattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)

func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
