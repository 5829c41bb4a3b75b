package extract

import (
	"strings"
	"testing"

	"github.com/brinkhollow/ingestor/model"
)

func TestExtractUsesConfiguredSelectorsWhenHighConfidence(t *testing.T) {
	html := `<html><body>
		<h1 class="title">A Real Headline For The Article</h1>
		<article class="body">` + strings.Repeat("Article text content. ", 20) + `</article>
	</body></html>`

	cfg := model.SelectorConfig{TitleSelector: "h1.title", ContentSelector: "article.body", Confidence: 0.9}

	result := Extract(html, cfg, "https://example.com/a", nil)
	if result.Method != model.MethodSelectors {
		t.Fatalf("Method = %s, want %s", result.Method, model.MethodSelectors)
	}
	if !strings.Contains(result.Title, "Headline") {
		t.Fatalf("Title = %q, want headline text", result.Title)
	}
}

func TestExtractFallsBackToReadabilityWhenSelectorsMiss(t *testing.T) {
	html := `<html><body>
		<h1>Some Headline</h1>
		<div class="content">` + strings.Repeat("Readable paragraph content. ", 30) + `</div>
	</body></html>`

	cfg := model.SelectorConfig{TitleSelector: ".does-not-exist", ContentSelector: ".also-missing", Confidence: 0.2}

	result := Extract(html, cfg, "https://example.com/a", nil)
	if len(result.Body) < minContentLength {
		t.Fatalf("expected recovered body content, got %q", result.Body)
	}
}

func TestExtractTriggersAIReanalysisOnThinContent(t *testing.T) {
	html := `<html><body><h1>T</h1><article>short</article></body></html>`
	cfg := model.SelectorConfig{TitleSelector: "h1", ContentSelector: "article", Confidence: 0.9}

	called := false
	reanalyze := func(html, url string) (model.ArticleContent, bool) {
		called = true
		return model.ArticleContent{
			Title:      "Reanalyzed Title",
			Body:       strings.Repeat("word ", 50),
			Confidence: 0.8,
		}, true
	}

	result := Extract(html, cfg, "https://example.com/a", reanalyze)
	if !called {
		t.Fatal("expected AI re-analysis to be invoked for thin content")
	}
	if result.Method != model.MethodAIReanalysis {
		t.Fatalf("Method = %s, want %s", result.Method, model.MethodAIReanalysis)
	}
}

func TestPassesQualityGateRejectsShortContent(t *testing.T) {
	if passesQualityGate("too short") {
		t.Fatal("expected short content to fail quality gate")
	}
}

func TestPassesQualityGateRejectsNavigationPrefix(t *testing.T) {
	content := "Menu " + strings.Repeat("x", 200)
	if passesQualityGate(content) {
		t.Fatal("expected navigation-prefixed content to fail quality gate")
	}
}

func TestPassesQualityGateAcceptsOrdinaryProse(t *testing.T) {
	content := strings.Repeat("This is ordinary article prose. ", 10)
	if !passesQualityGate(content) {
		t.Fatal("expected ordinary prose to pass quality gate")
	}
}

func TestSelectorVariationsIncludesHyphenUnderscoreSwap(t *testing.T) {
	variants := selectorVariations(".article-title")
	if !contains(variants, ".article_title") {
		t.Fatalf("variants = %v, want underscore variant", variants)
	}
}

func TestSelectorVariationsIncludesClassAttributeSubstring(t *testing.T) {
	variants := selectorVariations(".headline")
	if !contains(variants, "[class*=headline]") {
		t.Fatalf("variants = %v, want class-attribute substring variant", variants)
	}
}

func TestParseDateHandlesISO8601(t *testing.T) {
	got, ok := parseDate("2024-03-15")
	if !ok || got == nil {
		t.Fatal("expected ISO date to parse")
	}
}

func TestParseDateRejectsGarbage(t *testing.T) {
	if _, ok := parseDate("not a date"); ok {
		t.Fatal("expected garbage input to fail parsing")
	}
}

func contains(items []string, target string) bool {
	for _, i := range items {
		if i == target {
			return true
		}
	}
	return false
}
