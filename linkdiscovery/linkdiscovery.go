// Package linkdiscovery extracts the ordered list of candidate article
// links from a rendered page: static anchors plus HTMX-triggered
// elements, filtered by include/exclude substrings and an optional LLM
// pass, capped at a configurable maximum.
package linkdiscovery

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/brinkhollow/ingestor/llm"
	"github.com/brinkhollow/ingestor/urlutil"
)

// DefaultMaxLinks is the cap applied when Options.MaxLinks is unset.
const DefaultMaxLinks = 50

// minVisibleTextChars and minWords gate which anchors count as real
// article links rather than icons or single-word nav items.
const (
	minVisibleTextChars = 15
	minWords            = 2
	maxContextChars     = 200
)

// Candidate is one discovered link, carrying enough context for an
// optional LLM filtering pass.
type Candidate struct {
	Title   string
	Href    string
	Context string
}

// Options configures a single Discover call.
type Options struct {
	IncludePatterns []string
	ExcludePatterns []string
	MaxLinks        int
	AIContext       bool
}

// Discover returns the ordered, deduplicated list of absolute article
// URLs found in html, relative to baseURL. When opts.AIContext is set and
// client is non-nil, candidates are further filtered through the LLM's
// identifyArticleLinks operation.
func Discover(ctx context.Context, client llm.Client, html, baseURL string, opts Options) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("linkdiscovery: parse html: %w", err)
	}

	candidates := collectCandidates(doc, baseURL)
	candidates = filterByPatterns(candidates, opts.IncludePatterns, opts.ExcludePatterns)

	if opts.AIContext && client != nil && len(candidates) > 0 {
		allowed, err := identifyViaLLM(ctx, client, candidates)
		if err != nil {
			return nil, fmt.Errorf("linkdiscovery: llm filter: %w", err)
		}
		candidates = restrictTo(candidates, allowed)
	}

	maxLinks := opts.MaxLinks
	if maxLinks <= 0 {
		maxLinks = DefaultMaxLinks
	}

	return dedupeOrdered(candidates, maxLinks), nil
}

func collectCandidates(doc *goquery.Document, baseURL string) []Candidate {
	var candidates []Candidate

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists || href == "" {
			return
		}
		text := strings.TrimSpace(s.Text())
		if !qualifiesAsLink(text) {
			return
		}
		abs, err := urlutil.ResolveAbsolute(href, baseURL)
		if err != nil {
			return
		}
		candidates = append(candidates, Candidate{
			Title:   text,
			Href:    abs,
			Context: parentContext(s),
		})
	})

	doc.Find("[hx-get], [hx-post], [data-hx-get], [data-hx-post]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("hx-get")
		if href == "" {
			href, _ = s.Attr("hx-post")
		}
		if href == "" {
			href, _ = s.Attr("data-hx-get")
		}
		if href == "" {
			href, _ = s.Attr("data-hx-post")
		}
		if href == "" {
			return
		}
		text := strings.TrimSpace(s.Text())
		if !qualifiesAsLink(text) {
			return
		}
		abs, err := urlutil.ResolveAbsolute(href, baseURL)
		if err != nil {
			return
		}
		candidates = append(candidates, Candidate{
			Title:   text,
			Href:    abs,
			Context: parentContext(s),
		})
	})

	return candidates
}

func qualifiesAsLink(text string) bool {
	if len(text) < minVisibleTextChars {
		return false
	}
	return countWords(text) >= minWords
}

func countWords(s string) int {
	inWord := false
	count := 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			count++
			inWord = true
		}
	}
	return count
}

func parentContext(s *goquery.Selection) string {
	parent := s.Parent()
	text := strings.TrimSpace(parent.Text())
	if len(text) > maxContextChars {
		text = text[:maxContextChars]
	}
	return text
}

func filterByPatterns(candidates []Candidate, include, exclude []string) []Candidate {
	if len(include) == 0 && len(exclude) == 0 {
		return candidates
	}
	filtered := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if len(include) > 0 && !urlutil.HasAnySubstring(c.Href, include) {
			continue
		}
		if len(exclude) > 0 && urlutil.HasAnySubstring(c.Href, exclude) {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered
}

func identifyViaLLM(ctx context.Context, client llm.Client, candidates []Candidate) ([]string, error) {
	pairs := make([]llm.LinkCandidate, len(candidates))
	for i, c := range candidates {
		pairs[i] = llm.LinkCandidate{Title: c.Title, Href: c.Href, Context: c.Context}
	}
	return client.IdentifyArticleLinks(ctx, pairs)
}

func restrictTo(candidates []Candidate, allowed []string) []Candidate {
	allowedSet := make(map[string]bool, len(allowed))
	for _, href := range allowed {
		allowedSet[href] = true
	}
	filtered := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if allowedSet[c.Href] {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

func dedupeOrdered(candidates []Candidate, maxLinks int) []string {
	seen := make(map[string]bool, len(candidates))
	result := make([]string, 0, maxLinks)
	for _, c := range candidates {
		if seen[c.Href] {
			continue
		}
		seen[c.Href] = true
		result = append(result, c.Href)
		if len(result) >= maxLinks {
			break
		}
	}
	return result
}
