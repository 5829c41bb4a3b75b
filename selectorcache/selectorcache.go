// Package selectorcache caches the Structure Engine's per-domain selector
// configuration so a domain's CSS selectors are detected via the LLM once
// and reused across every subsequent fetch, falling back through a fresh
// window, then a stale-but-usable window, before expiring outright.
package selectorcache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brinkhollow/ingestor/model"
)

// State classifies how trustworthy a cached entry still is.
type State int

const (
	StateFresh State = iota
	StateStale
	StateTooOld
)

// Entry is a cached SelectorConfig for one domain.
type Entry struct {
	Domain    string
	Config    model.SelectorConfig
	StoredAt  time.Time
	TTL       time.Duration
	StaleTime time.Duration
}

// GetState computes the entry's freshness once, avoiding a TOCTOU race
// between separate IsFresh/IsStale/IsTooOld calls under concurrent use.
func (e *Entry) GetState() State {
	age := time.Since(e.StoredAt)
	switch {
	case age < e.TTL:
		return StateFresh
	case age < e.TTL+e.StaleTime:
		return StateStale
	default:
		return StateTooOld
	}
}

// Store is the narrow persistence contract the Structure Engine depends
// on; RedisStore and MemoryStore both satisfy it.
type Store interface {
	Get(ctx context.Context, domain string) (*Entry, error)
	Set(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, domain string) error
}

// RedisStore persists selector configs in Redis, gzip-compressing entries
// past a minimum size since a SelectorConfig with DateAlternatives can run
// to a few KB of JSON.
type RedisStore struct {
	client             *redis.Client
	prefix             string
	ttl                time.Duration
	staleTime          time.Duration
	compressionMinSize int
}

// NewRedisStore builds a RedisStore from cache configuration. An empty
// TTL defaults to 24h fresh / 7d stale, matching how infrequently a site's
// markup structure changes relative to a page fetch cadence.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		client:             client,
		prefix:             "selectorcache:",
		ttl:                ttl,
		staleTime:          7 * 24 * time.Hour,
		compressionMinSize: 1024,
	}
}

func (s *RedisStore) Get(ctx context.Context, domain string) (*Entry, error) {
	data, err := s.client.Get(ctx, s.key(domain)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selectorcache redis get: %w", err)
	}

	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		if data, err = decompress(data); err != nil {
			return nil, fmt.Errorf("selectorcache decompress: %w", err)
		}
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("selectorcache unmarshal: %w", err)
	}

	if entry.GetState() == StateTooOld {
		s.client.Del(ctx, s.key(domain))
		return nil, nil
	}
	return &entry, nil
}

func (s *RedisStore) Set(ctx context.Context, entry *Entry) error {
	if entry.TTL == 0 {
		entry.TTL = s.ttl
	}
	if entry.StaleTime == 0 {
		entry.StaleTime = s.staleTime
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("selectorcache marshal: %w", err)
	}
	if len(data) >= s.compressionMinSize {
		if data, err = compress(data); err != nil {
			return fmt.Errorf("selectorcache compress: %w", err)
		}
	}

	expiration := entry.TTL + entry.StaleTime
	if err := s.client.Set(ctx, s.key(entry.Domain), data, expiration).Err(); err != nil {
		return fmt.Errorf("selectorcache redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, domain string) error {
	return s.client.Del(ctx, s.key(domain)).Err()
}

func (s *RedisStore) key(domain string) string {
	return s.prefix + domain
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
