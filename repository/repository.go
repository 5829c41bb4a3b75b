// Package repository defines the narrow persistence interfaces the
// scheduler depends on. The relational schema and its driver live outside
// this module's scope; InMemoryStore exists so the rest of the engine can
// be exercised and tested without a database.
package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/brinkhollow/ingestor/model"
)

// ErrNotFound is returned by Get methods when no record matches.
var ErrNotFound = errors.New("repository: not found")

// SourceRepository persists and retrieves the sites the scheduler scrapes.
type SourceRepository interface {
	List(ctx context.Context) ([]model.Source, error)
	Get(ctx context.Context, id string) (model.Source, error)
	UpdateLastScraped(ctx context.Context, id string, stamp model.Source) error
	SaveSelectorConfig(ctx context.Context, sourceID string, cfg model.SelectorConfig) error
}

// ArticleRepository persists extracted articles, keyed uniquely by URL.
type ArticleRepository interface {
	// Exists reports whether an article for this URL has already been
	// stored, so the scheduler can skip re-extraction.
	Exists(ctx context.Context, url string) (bool, error)
	Create(ctx context.Context, article model.Article) error
	GetByID(ctx context.Context, id string) (model.Article, error)
	// UpdateTags is the only permitted mutation after creation: articles
	// are otherwise immutable once stored.
	UpdateTags(ctx context.Context, id string, tags []string) error
}

// InMemoryStore is a reference SourceRepository+ArticleRepository backed by
// plain maps, guarded by a single mutex. Suitable for tests and for running
// the engine without an external database.
type InMemoryStore struct {
	mu       sync.Mutex
	sources  map[string]model.Source
	articles map[string]model.Article
	byURL    map[string]string // article URL -> article ID
}

// NewInMemoryStore returns an empty store seeded with the given sources.
func NewInMemoryStore(sources []model.Source) *InMemoryStore {
	s := &InMemoryStore{
		sources:  make(map[string]model.Source, len(sources)),
		articles: make(map[string]model.Article),
		byURL:    make(map[string]string),
	}
	for _, src := range sources {
		s.sources[src.ID] = src
	}
	return s
}

func (s *InMemoryStore) List(_ context.Context) ([]model.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (model.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return model.Source{}, ErrNotFound
	}
	return src, nil
}

func (s *InMemoryStore) UpdateLastScraped(_ context.Context, id string, updated model.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sources[id]
	if !ok {
		return ErrNotFound
	}
	existing.LastScrapedAt = updated.LastScrapedAt
	s.sources[id] = existing
	return nil
}

func (s *InMemoryStore) SaveSelectorConfig(_ context.Context, sourceID string, cfg model.SelectorConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sources[sourceID]
	if !ok {
		return ErrNotFound
	}
	existing.SelectorConfig = &cfg
	s.sources[sourceID] = existing
	return nil
}

func (s *InMemoryStore) Exists(_ context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.byURL[url]
	return ok, nil
}

func (s *InMemoryStore) Create(_ context.Context, article model.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byURL[article.URL]; exists {
		return nil // idempotent: Article.URL is unique, repeat ingestion is a no-op
	}
	s.articles[article.ID] = article
	s.byURL[article.URL] = article.ID
	return nil
}

func (s *InMemoryStore) GetByID(_ context.Context, id string) (model.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	article, ok := s.articles[id]
	if !ok {
		return model.Article{}, ErrNotFound
	}
	return article, nil
}

func (s *InMemoryStore) UpdateTags(_ context.Context, id string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	article, ok := s.articles[id]
	if !ok {
		return ErrNotFound
	}
	article.Tags = tags
	s.articles[id] = article
	return nil
}
