package headless

import (
	"testing"

	"github.com/brinkhollow/ingestor/config"
)

func TestNewRespectsMaxOpenPages(t *testing.T) {
	b := New(config.HeadlessConfig{MaxOpenPages: 2}, nil)
	if cap(b.pageSlots) != 2 {
		t.Fatalf("pageSlots capacity = %d, want 2", cap(b.pageSlots))
	}
}

func TestNewDefaultsMaxOpenPages(t *testing.T) {
	b := New(config.HeadlessConfig{}, nil)
	if cap(b.pageSlots) != 5 {
		t.Fatalf("pageSlots capacity = %d, want default 5", cap(b.pageSlots))
	}
}

func TestCloseBeforeLaunchIsSafe(t *testing.T) {
	b := New(config.HeadlessConfig{}, nil)
	b.Close()
	b.Close()
}

func TestExecOptionsNonEmptyWithConfiguredBrowserPath(t *testing.T) {
	b := New(config.HeadlessConfig{BrowserPaths: []string{"/opt/chrome/chrome"}}, nil)
	opts := b.execOptions()
	if len(opts) == 0 {
		t.Fatal("expected non-empty exec options")
	}
}
