// Package structure detects, sanitizes, validates, and caches per-domain
// CSS selectors used to locate an article's title, body, author, and
// publish date.
package structure

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/brinkhollow/ingestor/llm"
	"github.com/brinkhollow/ingestor/model"
	"github.com/brinkhollow/ingestor/selectorcache"
	"github.com/brinkhollow/ingestor/urlutil"
)

// Fallback selector lists, tried in order when LLM-detected or cached
// selectors fail validation.
var (
	TitleFallbacks = []string{
		"h1", ".article-title", ".post-title", ".headline", ".title",
		"h1.title", "h1.headline", ".entry-title",
	}
	ContentFallbacks = []string{
		"article", ".article-content", ".article-body", "main .content",
		".post-content", "#article-content", ".story-content", ".entry-content",
		"main", ".main-content", "#main-content",
	}
	AuthorFallbacks = []string{
		".author", ".byline", ".article-author", ".post-author",
		".writer", ".by-author", "[rel=author]",
	}
	DateFallbacks = []string{
		"time", "[datetime]", ".article-date", ".post-date",
		".published-date", ".timestamp", ".date", ".publish-date", ".created-date",
	}
)

// unsupportedPseudoClasses are jQuery-style pseudo-classes cascadia (and
// the browser's own querySelector) don't implement.
var unsupportedPseudoClasses = regexp.MustCompile(`:(contains|has)\([^)]*\)`)

// textualPatternRegexes flag a "selector" that is actually literal scraped
// text the model echoed back instead of a CSS selector.
var textualPatternRegexes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^by\s+\S`),
	regexp.MustCompile(`(?i)^published:?\s`),
	regexp.MustCompile(`(?i)(january|february|march|april|may|june|july|august|september|october|november|december)`),
	regexp.MustCompile(`\d{1,2}:\d{2}\s*(am|pm)?`),
	regexp.MustCompile(`\([A-Z]{2,5}\)`), // parenthesised timezone, e.g. "(EST)"
	regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{2,4}`),
}

// tooBroadSelectors reject a selector that would match nearly the whole
// document body rather than a specific element.
var tooBroadSelectors = map[string]bool{
	"body":           true,
	"div":            true,
	"span":           true,
	"p":              true,
	"body div":       true,
	"body div span":  true,
	"body div span p": true,
}

// minConfidenceFloor is the floor applied whenever validation falls back to the
// static selector lists.
const minConfidenceFloor = 0.3

// Engine detects and caches per-domain selector configurations.
type Engine struct {
	llmClient llm.Client
	cache     selectorcache.Store
}

// New builds a structure Engine backed by client for LLM calls and store
// for per-domain caching.
func New(client llm.Client, store selectorcache.Store) *Engine {
	return &Engine{llmClient: client, cache: store}
}

// GetSelectors returns a validated SelectorConfig for url's registrable
// domain, reusing a cached config when one passes validity checks.
func (e *Engine) GetSelectors(ctx context.Context, url, html string) (model.SelectorConfig, error) {
	domain := urlutil.RegistrableDomain(url)

	if cached, err := e.cache.Get(ctx, domain); err == nil && cached != nil {
		if cached.GetState() != selectorcache.StateTooOld && isValidAgainst(cached.Config, html) {
			return cached.Config, nil
		}
	}

	cfg, err := e.detectAndValidate(ctx, url, html)
	if err != nil {
		return model.SelectorConfig{}, err
	}

	if cfg.Confidence > minConfidenceFloor || isValidAgainst(cfg, html) {
		_ = e.cache.Set(ctx, &selectorcache.Entry{Domain: domain, Config: cfg})
	}

	return cfg, nil
}

// Evict removes any cached selector config for the domain serving url,
// used when a site's markup has visibly changed and the old config keeps
// failing extraction.
func (e *Engine) Evict(ctx context.Context, url string) error {
	return e.cache.Delete(ctx, urlutil.RegistrableDomain(url))
}

func (e *Engine) detectAndValidate(ctx context.Context, url, html string) (model.SelectorConfig, error) {
	cfg, err := e.detectOnce(ctx, url, html)
	if err != nil {
		return model.SelectorConfig{}, fmt.Errorf("detect selectors: %w", err)
	}

	if isValidAgainst(cfg, html) {
		return cfg, nil
	}

	// Re-debug: one additional LLM round before giving up to fallbacks.
	cfg, err = e.detectOnce(ctx, url, html)
	if err == nil && isValidAgainst(cfg, html) {
		return cfg, nil
	}

	return fallbackConfig(html), nil
}

func (e *Engine) detectOnce(ctx context.Context, url, html string) (model.SelectorConfig, error) {
	result, err := e.llmClient.DetectStructure(ctx, html, url)
	if err != nil {
		return model.SelectorConfig{}, err
	}

	return model.SelectorConfig{
		TitleSelector:            sanitizeSelector(result.TitleSelector),
		ContentSelector:          sanitizeSelector(result.ContentSelector),
		AuthorSelector:           sanitizeSelector(result.AuthorSelector),
		DateSelector:             sanitizeSelector(result.DateSelector),
		ArticleContainerSelector: sanitizeSelector(result.ArticleSelector),
		Alternatives:             model.SelectorAlternatives{DateAlternatives: result.DateAlternatives},
		Confidence:               result.Confidence,
	}, nil
}

// sanitizeSelector strips unsupported pseudo-classes, collapses
// whitespace, and rejects selectors that are actually literal text the
// model echoed back instead of a CSS selector.
func sanitizeSelector(selector string) string {
	if selector == "" {
		return ""
	}
	cleaned := unsupportedPseudoClasses.ReplaceAllString(selector, "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	cleaned = strings.TrimSpace(cleaned)

	for _, pattern := range textualPatternRegexes {
		if pattern.MatchString(cleaned) {
			return ""
		}
	}
	return cleaned
}

// isValidAgainst checks that title and content selectors each match at
// least one element in html and aren't so broad they'd match nearly the
// whole document.
func isValidAgainst(cfg model.SelectorConfig, html string) bool {
	if cfg.TitleSelector == "" || cfg.ContentSelector == "" {
		return false
	}
	if tooBroadSelectors[strings.ToLower(cfg.TitleSelector)] || tooBroadSelectors[strings.ToLower(cfg.ContentSelector)] {
		return false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	if doc.Find(cfg.TitleSelector).Length() == 0 {
		return false
	}
	if doc.Find(cfg.ContentSelector).Length() == 0 {
		return false
	}
	return true
}

// fallbackConfig returns the first fallback selector from each field's
// ordered list that actually matches an element in html, floored at
// minConfidenceFloor.
func fallbackConfig(html string) model.SelectorConfig {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return model.SelectorConfig{
			TitleSelector:   TitleFallbacks[0],
			ContentSelector: ContentFallbacks[0],
			Confidence:      minConfidenceFloor,
		}
	}

	return model.SelectorConfig{
		TitleSelector:   firstMatching(doc, TitleFallbacks),
		ContentSelector: firstMatching(doc, ContentFallbacks),
		AuthorSelector:  firstMatching(doc, AuthorFallbacks),
		DateSelector:    firstMatching(doc, DateFallbacks),
		Confidence:      minConfidenceFloor,
	}
}

func firstMatching(doc *goquery.Document, candidates []string) string {
	for _, sel := range candidates {
		if doc.Find(sel).Length() > 0 {
			return sel
		}
	}
	return candidates[0]
}
