// Package extract turns a fetched page plus its SelectorConfig into
// ArticleContent, degrading through selector variations, AI re-analysis,
// Readability, and raw paragraph aggregation as each rung fails its
// quality gate. Extract itself performs no I/O; AI re-analysis is
// injected as a callback so the pure selector/variation/readability path
// can be tested without a network dependency.
package extract

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/brinkhollow/ingestor/model"
	"github.com/brinkhollow/ingestor/structure"
)

// minContentLength is the quality-gate floor: below this, content is
// treated as an extraction failure regardless of selector match.
const minContentLength = 100

// minTitleLength below which AI re-analysis is triggered even if content
// passed its own gate.
const minTitleLength = 10

// minConfidenceForReanalysis triggers re-analysis when the structure
// engine itself reported low confidence in its selectors.
const minConfidenceForReanalysis = 0.5

// AIReanalyzer asks an LLM to extract article content directly from HTML
// when selector-based extraction fails or looks unreliable.
type AIReanalyzer func(html, url string) (model.ArticleContent, bool)

var lowQualityPrefixes = []string{
	"home", "menu", "navigation", "skip to", "subscribe", "sign in", "sign up",
	"advertisement", "cookie", "privacy policy", "terms of service",
}

var navigationPhraseRegex = regexp.MustCompile(`(?i)\b(read more|continue reading|share this|related articles|all rights reserved)\b`)

// Extract produces ArticleContent from html using cfg's selectors,
// escalating through recovery rungs until one passes the quality gate.
// reanalyze may be nil, in which case AI re-analysis is skipped and the
// multi-attempt recovery rungs run directly.
func Extract(html string, cfg model.SelectorConfig, pageURL string, reanalyze AIReanalyzer) model.ArticleContent {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return aggregateParagraphs(html, pageURL, 3)
	}

	content := extractField(doc, cfg.ContentSelector, structure.ContentFallbacks)
	title := extractField(doc, cfg.TitleSelector, structure.TitleFallbacks)
	author := extractField(doc, cfg.AuthorSelector, structure.AuthorFallbacks)
	date := extractDate(doc, cfg)

	if len(strings.TrimSpace(content)) < minContentLength && cfg.ArticleContainerSelector != "" {
		if alt := doc.Find(cfg.ArticleContainerSelector + " p").Text(); len(strings.TrimSpace(alt)) > len(content) {
			content = alt
		}
	}

	result := model.ArticleContent{
		Title:       strings.TrimSpace(title),
		Body:        strings.TrimSpace(content),
		Author:      strings.TrimSpace(author),
		PublishDate: date,
		Method:      model.MethodSelectors,
		Confidence:  cfg.Confidence,
	}

	if passesQualityGate(result.Body) && len(result.Title) >= minTitleLength && cfg.Confidence >= minConfidenceForReanalysis {
		return result
	}

	if withVariations := tryVariations(doc, cfg); withVariations != nil {
		result = *withVariations
		result.Method = model.MethodSelectorsVariation
		if passesQualityGate(result.Body) && len(result.Title) >= minTitleLength {
			return result
		}
	}

	if reanalyze != nil {
		if reanalyzed, ok := reanalyze(html, pageURL); ok && reanalyzed.Confidence > minConfidenceForReanalysis {
			reanalyzed.Method = model.MethodAIReanalysis
			return reanalyzed
		}
	}

	return multiAttemptRecovery(html, pageURL, doc, result)
}

func extractField(doc *goquery.Document, selector string, fallbacks []string) string {
	if selector != "" {
		if text := doc.Find(selector).First().Text(); strings.TrimSpace(text) != "" {
			return text
		}
	}
	for _, fb := range fallbacks {
		if text := doc.Find(fb).First().Text(); strings.TrimSpace(text) != "" {
			return text
		}
	}
	return ""
}

// tryVariations mutates the configured selectors (hyphen/underscore swap,
// class-attribute substring match, pseudo-class removal, descendant vs.
// direct-child) and retries extraction with whichever variant first
// yields non-empty title and content.
func tryVariations(doc *goquery.Document, cfg model.SelectorConfig) *model.ArticleContent {
	for _, titleSel := range selectorVariations(cfg.TitleSelector) {
		for _, contentSel := range selectorVariations(cfg.ContentSelector) {
			title := strings.TrimSpace(doc.Find(titleSel).First().Text())
			content := strings.TrimSpace(doc.Find(contentSel).First().Text())
			if title != "" && len(content) >= minContentLength {
				return &model.ArticleContent{Title: title, Body: content}
			}
		}
	}
	return nil
}

func selectorVariations(selector string) []string {
	if selector == "" {
		return nil
	}
	variants := []string{selector}

	if strings.Contains(selector, "-") {
		variants = append(variants, strings.ReplaceAll(selector, "-", "_"))
	}
	if strings.Contains(selector, "_") {
		variants = append(variants, strings.ReplaceAll(selector, "_", "-"))
	}
	if strings.HasPrefix(selector, ".") {
		className := strings.TrimPrefix(selector, ".")
		variants = append(variants, "[class*="+className+"]")
	}
	if strings.Contains(selector, " > ") {
		variants = append(variants, strings.ReplaceAll(selector, " > ", " "))
	} else if strings.Contains(selector, " ") {
		variants = append(variants, strings.ReplaceAll(selector, " ", " > "))
	}
	return variants
}

// passesQualityGate rejects content that is present but clearly not an
// article body: too short, navigation boilerplate, or mostly punctuation.
func passesQualityGate(content string) bool {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < minContentLength {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, prefix := range lowQualityPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	if navigationPhraseRegex.MatchString(trimmed) && len(trimmed) < minContentLength*3 {
		return false
	}
	return alphanumericRatio(trimmed) >= 0.5
}

func alphanumericRatio(s string) float64 {
	if s == "" {
		return 0
	}
	var alnum int
	for _, r := range s {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') || r == ' ' {
			alnum++
		}
	}
	return float64(alnum) / float64(len([]rune(s)))
}

// multiAttemptRecovery runs the degraded recovery rungs in order,
// returning the first one whose output passes the quality gate, or, if
// none do, whichever of the paragraph-aggregation output and the best
// earlier result has the longer body.
func multiAttemptRecovery(html, pageURL string, doc *goquery.Document, best model.ArticleContent) model.ArticleContent {
	if readabilityResult, ok := tryReadability(html, pageURL); ok {
		readabilityResult.Method = model.MethodReadability
		if passesQualityGate(readabilityResult.Body) {
			return readabilityResult
		}
		if len(readabilityResult.Body) > len(best.Body) {
			best = readabilityResult
		}
	}

	if semantic := semanticElementExtraction(doc); semantic != "" && passesQualityGate(semantic) {
		best = model.ArticleContent{Title: best.Title, Body: semantic, Method: model.MultiAttempt(2), Confidence: 0.3}
		return best
	}

	aggregated := aggregateParagraphs(html, pageURL, 3)
	if len(aggregated.Body) > len(best.Body) {
		return aggregated
	}
	return best
}

// tryReadability runs go-shiori/go-readability, reporting false when the
// page URL or HTML cannot be parsed or the extracted text is shorter than
// minContentLength.
func tryReadability(html, pageURL string) (model.ArticleContent, bool) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return model.ArticleContent{}, false
	}
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return model.ArticleContent{}, false
	}
	if len(strings.TrimSpace(article.TextContent)) < minContentLength {
		return model.ArticleContent{}, false
	}

	var publishDate *time.Time
	if article.PublishedTime != nil {
		publishDate = article.PublishedTime
	}

	return model.ArticleContent{
		Title:       article.Title,
		Body:        article.TextContent,
		Author:      article.Byline,
		PublishDate: publishDate,
		Confidence:  0.5,
	}, true
}

// semanticElementExtraction aggressively strips script/style/noscript and
// comments, then concatenates text from semantic content elements.
func semanticElementExtraction(doc *goquery.Document) string {
	clone := doc.Clone()
	clone.Find("script, style, noscript").Remove()

	var parts []string
	clone.Find("article, main, section, p").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if len(text) > 20 {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n\n")
}

// aggregateParagraphs is the last-resort rung: every <p> longer than 20
// chars that doesn't look like a navigation phrase.
func aggregateParagraphs(html, pageURL string, attemptN int) model.ArticleContent {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return model.ArticleContent{Method: model.MultiAttempt(attemptN), Confidence: 0.1}
	}

	var parts []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if len(text) > 20 && !navigationPhraseRegex.MatchString(text) {
			parts = append(parts, text)
		}
	})

	return model.ArticleContent{
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		Body:       strings.Join(parts, "\n\n"),
		Method:     model.MultiAttempt(attemptN),
		Confidence: 0.1,
	}
}

// extractDate tries cfg's date selector (datetime attribute, then text),
// its alternatives, then a prioritised list of generic date markers,
// then JSON-LD datePublished.
func extractDate(doc *goquery.Document, cfg model.SelectorConfig) *time.Time {
	candidates := append([]string{cfg.DateSelector}, cfg.Alternatives.DateAlternatives...)
	candidates = append(candidates,
		"time[datetime]", "[datetime]", ".date", ".published", ".publish-date",
		"meta[property='article:published_time']", "meta[name='date']",
	)

	for _, sel := range candidates {
		if sel == "" {
			continue
		}
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if dt, exists := node.Attr("datetime"); exists {
			if parsed, ok := parseDate(dt); ok {
				return parsed
			}
		}
		if content, exists := node.Attr("content"); exists {
			if parsed, ok := parseDate(content); ok {
				return parsed
			}
		}
		if parsed, ok := parseDate(node.Text()); ok {
			return parsed
		}
	}

	if jsonLDDate := jsonLDDatePublished(doc); jsonLDDate != "" {
		if parsed, ok := parseDate(jsonLDDate); ok {
			return parsed
		}
	}
	return nil
}

var jsonLDDateRegex = regexp.MustCompile(`"datePublished"\s*:\s*"([^"]+)"`)

func jsonLDDatePublished(doc *goquery.Document) string {
	var found string
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := jsonLDDateRegex.FindStringSubmatch(s.Text()); len(m) == 2 {
			found = m[1]
			return false
		}
		return true
	})
	return found
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"01/02/2006",
}

func parseDate(s string) (*time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, true
		}
	}
	return nil, false
}
