package htmx

import (
	"fmt"
	"strings"
	"testing"
)

func TestJsStringEscapesQuotesAndBackslashes(t *testing.T) {
	got := jsString(`he said "hi" \ bye`)
	if !strings.HasPrefix(got, `"`) || !strings.HasSuffix(got, `"`) {
		t.Fatalf("jsString(%q) = %s, want a quoted JS string literal", `he said "hi" \ bye`, got)
	}
	if strings.Contains(got, `\"hi\"`) == false {
		t.Fatalf("jsString(%q) = %s, want escaped inner quotes", `he said "hi" \ bye`, got)
	}
}

func TestJsStringEmpty(t *testing.T) {
	if got := jsString(""); got != `""` {
		t.Fatalf("jsString(\"\") = %s, want \"\"\"\"", got)
	}
}

func TestFetchFragmentScriptIncludesHxHeaders(t *testing.T) {
	script := fmt.Sprintf(fetchFragmentScriptTemplate,
		jsString("/partial"), jsString("GET"), jsString("https://example.com/page"), "")

	for _, want := range []string{"HX-Request", "HX-Current-URL", "/partial", "https://example.com/page"} {
		if !strings.Contains(script, want) {
			t.Fatalf("generated fetch script missing %q:\n%s", want, script)
		}
	}
}

func TestFetchFragmentScriptIncludesCsrfHeaderWhenProvided(t *testing.T) {
	tokenHeader := fmt.Sprintf(`'X-CSRF-Token': %s,`, jsString("abc123"))
	script := fmt.Sprintf(fetchFragmentScriptTemplate,
		jsString("/partial"), jsString("POST"), jsString("https://example.com/page"), tokenHeader)

	if !strings.Contains(script, "X-CSRF-Token") || !strings.Contains(script, "abc123") {
		t.Fatalf("generated fetch script missing CSRF header:\n%s", script)
	}
}

func TestEndpointZeroValue(t *testing.T) {
	var e Endpoint
	if e.URL != "" || e.Method != "" || e.Trigger != "" {
		t.Fatal("zero-value Endpoint should have empty fields")
	}
}
