package selectorcache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/brinkhollow/ingestor/model"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return NewRedisStore(client, time.Hour)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	entry := &Entry{
		Domain:   "example.com",
		Config:   model.SelectorConfig{TitleSelector: "h1", ContentSelector: "article"},
		StoredAt: time.Now(),
	}
	if err := store.Set(ctx, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, "example.com")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("Get() = nil, want entry")
	}
	if got.Config.TitleSelector != "h1" {
		t.Fatalf("Config.TitleSelector = %q, want %q", got.Config.TitleSelector, "h1")
	}
}

func TestRedisStoreGetMissReturnsNilNoError(t *testing.T) {
	store := newTestRedisStore(t)

	got, err := store.Get(context.Background(), "unseen.example.com")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Fatalf("Get() = %+v, want nil", got)
	}
}

func TestRedisStoreCompressesLargeEntries(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	entry := &Entry{
		Domain:   "big.example.com",
		Config:   model.SelectorConfig{TitleSelector: "h1", ContentSelector: strings.Repeat("article.body ", 200)},
		StoredAt: time.Now(),
	}
	if err := store.Set(ctx, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, "big.example.com")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.Config.ContentSelector != entry.Config.ContentSelector {
		t.Fatalf("round trip through compression failed, got %+v", got)
	}
}

func TestRedisStoreDelete(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	entry := &Entry{Domain: "gone.example.com", Config: model.SelectorConfig{TitleSelector: "h1"}, StoredAt: time.Now()}
	if err := store.Set(ctx, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Delete(ctx, "gone.example.com"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	got, err := store.Get(ctx, "gone.example.com")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Fatalf("Get() after Delete() = %+v, want nil", got)
	}
}

func TestRedisStoreEvictsExpiredEntryOnRead(t *testing.T) {
	store := newTestRedisStore(t)
	store.ttl = time.Millisecond
	store.staleTime = time.Millisecond
	ctx := context.Background()

	entry := &Entry{Domain: "stale.example.com", Config: model.SelectorConfig{TitleSelector: "h1"}, StoredAt: time.Now().Add(-time.Hour)}
	if err := store.Set(ctx, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, "stale.example.com")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Fatalf("Get() = %+v, want nil for too-old entry", got)
	}
}
