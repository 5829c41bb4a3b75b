package structure

import (
	"context"
	"errors"
	"testing"

	"github.com/brinkhollow/ingestor/llm"
	"github.com/brinkhollow/ingestor/model"
	"github.com/brinkhollow/ingestor/selectorcache"
)

type fakeLLM struct {
	structureResult llm.StructureResult
	structureErr    error
	calls           int
}

func (f *fakeLLM) DetectStructure(ctx context.Context, html, url string) (llm.StructureResult, error) {
	f.calls++
	return f.structureResult, f.structureErr
}
func (f *fakeLLM) ExtractContent(ctx context.Context, html, url string) (llm.ContentResult, error) {
	return llm.ContentResult{}, errors.New("not implemented")
}
func (f *fakeLLM) IdentifyArticleLinks(ctx context.Context, candidates []llm.LinkCandidate) ([]string, error) {
	return nil, errors.New("not implemented")
}

const sampleHTML = `<html><body><h1 class="article-title">Headline</h1><article><p>Body text content here that is long enough.</p></article></body></html>`

func TestSanitizeSelectorRejectsLiteralByline(t *testing.T) {
	if got := sanitizeSelector("By Jane Smith"); got != "" {
		t.Fatalf("sanitizeSelector(%q) = %q, want empty", "By Jane Smith", got)
	}
}

func TestSanitizeSelectorRejectsDateLikeText(t *testing.T) {
	if got := sanitizeSelector("January 5, 2024"); got != "" {
		t.Fatalf("sanitizeSelector() = %q, want empty for date text", got)
	}
}

func TestSanitizeSelectorStripsUnsupportedPseudoClass(t *testing.T) {
	got := sanitizeSelector("div:contains('foo') .title")
	if got != "div .title" {
		t.Fatalf("sanitizeSelector() = %q, want pseudo-class stripped", got)
	}
}

func TestSanitizeSelectorCollapsesWhitespace(t *testing.T) {
	got := sanitizeSelector("  h1   .title  ")
	if got != "h1 .title" {
		t.Fatalf("sanitizeSelector() = %q, want collapsed whitespace", got)
	}
}

func TestGetSelectorsReturnsValidatedLLMResult(t *testing.T) {
	client := &fakeLLM{structureResult: llm.StructureResult{
		TitleSelector:   ".article-title",
		ContentSelector: "article",
		Confidence:      0.9,
	}}
	engine := New(client, selectorcache.NewMemoryStore())

	cfg, err := engine.GetSelectors(context.Background(), "https://example.com/a", sampleHTML)
	if err != nil {
		t.Fatalf("GetSelectors() error = %v", err)
	}
	if cfg.TitleSelector != ".article-title" || cfg.ContentSelector != "article" {
		t.Fatalf("unexpected selector config: %+v", cfg)
	}
	if client.calls != 1 {
		t.Fatalf("expected exactly one LLM call, got %d", client.calls)
	}
}

func TestGetSelectorsFallsBackWhenLLMSelectorsDontMatch(t *testing.T) {
	client := &fakeLLM{structureResult: llm.StructureResult{
		TitleSelector:   ".nonexistent-title",
		ContentSelector: ".nonexistent-content",
		Confidence:      0.9,
	}}
	engine := New(client, selectorcache.NewMemoryStore())

	cfg, err := engine.GetSelectors(context.Background(), "https://example.com/a", sampleHTML)
	if err != nil {
		t.Fatalf("GetSelectors() error = %v", err)
	}
	if cfg.TitleSelector != "h1" {
		t.Fatalf("TitleSelector = %q, want fallback h1", cfg.TitleSelector)
	}
	if cfg.Confidence != minConfidenceFloor {
		t.Fatalf("Confidence = %v, want floor %v", cfg.Confidence, minConfidenceFloor)
	}
	if client.calls != 2 {
		t.Fatalf("expected a re-debug round before falling back, got %d calls", client.calls)
	}
}

func TestGetSelectorsReusesCachedConfig(t *testing.T) {
	client := &fakeLLM{structureResult: llm.StructureResult{
		TitleSelector:   ".article-title",
		ContentSelector: "article",
		Confidence:      0.9,
	}}
	engine := New(client, selectorcache.NewMemoryStore())

	if _, err := engine.GetSelectors(context.Background(), "https://example.com/a", sampleHTML); err != nil {
		t.Fatalf("first GetSelectors() error = %v", err)
	}
	if _, err := engine.GetSelectors(context.Background(), "https://example.com/b", sampleHTML); err != nil {
		t.Fatalf("second GetSelectors() error = %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected cache hit to avoid a second LLM call, got %d calls", client.calls)
	}
}

func TestIsValidAgainstRejectsTooBroadSelector(t *testing.T) {
	cfg := model.SelectorConfig{TitleSelector: "div", ContentSelector: "article"}
	if isValidAgainst(cfg, sampleHTML) {
		t.Fatal("expected overly broad selector to be rejected")
	}
}
