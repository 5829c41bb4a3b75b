// Package llm defines the narrow, strictly-validated contract the rest of
// the engine uses to call out to a structured-extraction model, plus the
// concrete Anthropic and OpenAI backends that satisfy it. Every response
// is parsed into a typed struct and rejected on shape mismatch rather than
// passed through as free-form text.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/brinkhollow/ingestor/content"
)

// maxPromptTokens bounds how much preprocessed HTML is ever sent to a
// model in one call, estimated via content.EstimateTokens rather than a
// raw character cap so the budget tracks actual model cost.
const maxPromptTokens = 24000

// StructureResult is the strict shape detectStructure must return.
type StructureResult struct {
	TitleSelector     string   `json:"titleSelector"`
	ContentSelector   string   `json:"contentSelector"`
	AuthorSelector    string   `json:"authorSelector,omitempty"`
	DateSelector      string   `json:"dateSelector,omitempty"`
	ArticleSelector   string   `json:"articleSelector,omitempty"`
	DateAlternatives  []string `json:"dateAlternatives,omitempty"`
	Confidence        float64  `json:"confidence"`
}

// ContentResult is the strict shape extractContent must return.
type ContentResult struct {
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Author     string  `json:"author,omitempty"`
	Date       string  `json:"date,omitempty"` // YYYY-MM-DD
	Confidence float64 `json:"confidence"`
}

// LinkCandidate is one (title, href, context) tuple offered to
// identifyArticleLinks. Href must already be resolved to an absolute URL.
type LinkCandidate struct {
	Title   string
	Href    string
	Context string
}

// Client is the narrow interface every call site depends on. Concrete
// providers translate these three operations into model-specific prompts
// and validate the raw response into the strict result types.
type Client interface {
	DetectStructure(ctx context.Context, html, url string) (StructureResult, error)
	ExtractContent(ctx context.Context, html, url string) (ContentResult, error)
	IdentifyArticleLinks(ctx context.Context, candidates []LinkCandidate) ([]string, error)
}

// PrepareHTML strips script/style/comment noise and bounds the result to
// maxPromptTokens, preferring an HTML-aware boundary near the cutoff so a
// prompt never receives a half-closed element.
func PrepareHTML(html string) string {
	cleaned := stripNoise(html)
	result := content.Truncate([]byte(cleaned), "text/html", maxPromptTokens)
	if !result.Truncated {
		return result.Content
	}
	return result.Content + "\n<!-- truncated -->"
}

func stripNoise(html string) string {
	out := make([]byte, 0, len(html))
	i := 0
	for i < len(html) {
		if rest := html[i:]; hasPrefixFold(rest, "<script") || hasPrefixFold(rest, "<style") {
			closeTag := "</script>"
			if hasPrefixFold(rest, "<style") {
				closeTag = "</style>"
			}
			if end := indexFold(rest, closeTag); end != -1 {
				i += end + len(closeTag)
				continue
			}
			break
		}
		if hasPrefixFold(html[i:], "<!--") {
			if end := indexFold(html[i:], "-->"); end != -1 {
				i += end + len("-->")
				continue
			}
			break
		}
		out = append(out, html[i])
		i++
	}
	return string(out)
}

func hasPrefixFold(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	return equalFold(s[:len(prefix)], prefix)
}

func indexFold(s, substr string) int {
	n := len(substr)
	for i := 0; i+n <= len(s); i++ {
		if equalFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// validateStructureJSON parses and sanity-checks a model's raw JSON reply
// against the strict StructureResult shape, rejecting anything that
// doesn't carry usable selectors.
func validateStructureJSON(raw []byte) (StructureResult, error) {
	var result StructureResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return StructureResult{}, fmt.Errorf("structure response is not valid JSON: %w", err)
	}
	if result.TitleSelector == "" || result.ContentSelector == "" {
		return StructureResult{}, fmt.Errorf("structure response missing required selectors")
	}
	if result.Confidence < 0.1 || result.Confidence > 1.0 {
		return StructureResult{}, fmt.Errorf("structure response confidence %.2f out of range [0.1, 1.0]", result.Confidence)
	}
	return result, nil
}

// validateContentJSON parses and sanity-checks a model's raw JSON reply
// against the strict ContentResult shape.
func validateContentJSON(raw []byte) (ContentResult, error) {
	var result ContentResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ContentResult{}, fmt.Errorf("content response is not valid JSON: %w", err)
	}
	if result.Title == "" && result.Content == "" {
		return ContentResult{}, fmt.Errorf("content response carries neither title nor content")
	}
	return result, nil
}

// validateLinksJSON parses a model's raw JSON reply into a plain string
// slice and drops anything that isn't one of the offered candidate hrefs.
func validateLinksJSON(raw []byte, candidates []LinkCandidate) ([]string, error) {
	var hrefs []string
	if err := json.Unmarshal(raw, &hrefs); err != nil {
		return nil, fmt.Errorf("link selection response is not valid JSON: %w", err)
	}
	allowed := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		allowed[c.Href] = true
	}
	filtered := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		if allowed[href] {
			filtered = append(filtered, href)
		}
	}
	return filtered, nil
}
