package llm

import (
	"strings"
	"testing"
)

func TestPrepareHTMLStripsScriptsAndStyles(t *testing.T) {
	html := `<html><head><style>.a{color:red}</style><script>alert(1)</script></head><body><p>hi</p></body></html>`
	got := PrepareHTML(html)
	if strings.Contains(got, "alert(1)") || strings.Contains(got, "color:red") {
		t.Fatalf("PrepareHTML() = %q, want script/style stripped", got)
	}
	if !strings.Contains(got, "<p>hi</p>") {
		t.Fatalf("PrepareHTML() = %q, want body content preserved", got)
	}
}

func TestPrepareHTMLStripsComments(t *testing.T) {
	html := `<body><!-- secret note --><p>visible</p></body>`
	got := PrepareHTML(html)
	if strings.Contains(got, "secret note") {
		t.Fatalf("PrepareHTML() = %q, want comment stripped", got)
	}
}

func TestPrepareHTMLTruncatesOversizedInput(t *testing.T) {
	html := "<body>" + strings.Repeat("<p>filler text</p>", 10000) + "</body>"
	got := PrepareHTML(html)
	if len(got) >= len(html) {
		t.Fatalf("PrepareHTML() did not truncate: got %d chars, input %d chars", len(got), len(html))
	}
	if !strings.Contains(got, "<!-- truncated -->") {
		t.Fatal("expected truncation marker on oversized input")
	}
}

func TestValidateStructureJSONRejectsMissingSelectors(t *testing.T) {
	_, err := validateStructureJSON([]byte(`{"titleSelector":"","contentSelector":"","confidence":0.8}`))
	if err == nil {
		t.Fatal("expected error for missing required selectors")
	}
}

func TestValidateStructureJSONRejectsConfidenceOutOfRange(t *testing.T) {
	_, err := validateStructureJSON([]byte(`{"titleSelector":"h1","contentSelector":"article","confidence":1.5}`))
	if err == nil {
		t.Fatal("expected error for out-of-range confidence")
	}
}

func TestValidateStructureJSONAcceptsValidShape(t *testing.T) {
	result, err := validateStructureJSON([]byte(`{"titleSelector":"h1","contentSelector":"article","confidence":0.75}`))
	if err != nil {
		t.Fatalf("validateStructureJSON() error = %v", err)
	}
	if result.TitleSelector != "h1" || result.Confidence != 0.75 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestValidateContentJSONRejectsEmptyShape(t *testing.T) {
	_, err := validateContentJSON([]byte(`{"title":"","content":"","confidence":0.2}`))
	if err == nil {
		t.Fatal("expected error for empty title and content")
	}
}

func TestValidateLinksJSONFiltersToAllowedCandidates(t *testing.T) {
	candidates := []LinkCandidate{
		{Href: "https://example.com/a"},
		{Href: "https://example.com/b"},
	}
	got, err := validateLinksJSON([]byte(`["https://example.com/a","https://example.com/evil"]`), candidates)
	if err != nil {
		t.Fatalf("validateLinksJSON() error = %v", err)
	}
	if len(got) != 1 || got[0] != "https://example.com/a" {
		t.Fatalf("validateLinksJSON() = %v, want only the allowed candidate", got)
	}
}

func TestValidateLinksJSONRejectsMalformedJSON(t *testing.T) {
	_, err := validateLinksJSON([]byte(`not json`), nil)
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
