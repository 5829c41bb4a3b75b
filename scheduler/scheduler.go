// Package scheduler periodically drives the ingestion pipeline across all
// registered sources: single-flight at the run level, bounded concurrency
// per source, a consecutive-failure circuit breaker, and lexicographic
// source ordering for reproducible runs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brinkhollow/ingestor/config"
	"github.com/brinkhollow/ingestor/cyberscore"
	"github.com/brinkhollow/ingestor/errorlog"
	"github.com/brinkhollow/ingestor/extract"
	"github.com/brinkhollow/ingestor/fetchengine"
	"github.com/brinkhollow/ingestor/idgen"
	"github.com/brinkhollow/ingestor/linkdiscovery"
	"github.com/brinkhollow/ingestor/llm"
	"github.com/brinkhollow/ingestor/model"
	"github.com/brinkhollow/ingestor/repository"
	"github.com/brinkhollow/ingestor/snapshot"
	"github.com/brinkhollow/ingestor/structure"
	"github.com/brinkhollow/ingestor/tagging"
)

// minPersistedBodyChars is the quality floor below which extracted
// content is discarded rather than stored: extract.Extract's weakest
// recovery rung always returns something, even near-empty text, so the
// scheduler enforces the persistence-worthy floor itself.
const minPersistedBodyChars = 500

// State names the scheduler's lifecycle position.
type State string

const (
	StateStopped      State = "stopped"
	StateInitialising State = "initialising"
	StateIdle         State = "idle"
	StateRunning      State = "running"
)

// Status is the externally observable snapshot returned by Scheduler.Status.
type Status struct {
	Initialized         bool
	IsRunning           bool
	LastRun             time.Time
	NextRun             time.Time
	ConsecutiveFailures int
	IntervalHours       int
}

// Scheduler orchestrates Fetch Engine -> Link Discovery -> Fetch Engine ->
// Structure Engine -> Extractor -> cyberscore -> Repository across every
// registered source, on a fixed interval.
type Scheduler struct {
	fetcher   fetchengine.Engine
	structure *structure.Engine
	llmClient llm.Client
	sources   repository.SourceRepository
	articles  repository.ArticleRepository
	errors    errorlog.Appender
	archiver  snapshot.Archiver
	cfg       config.SchedulerConfig
	logger    *slog.Logger

	mu                  sync.Mutex
	state               State
	lastRun             time.Time
	nextRun             time.Time
	consecutiveFailures int

	// stoppedMu/stopped track which sources have been asked to cancel
	// mid-run. A source absent from the map is active by default;
	// StopSource marks it stopped, consulted before each article.
	stoppedMu sync.Mutex
	stopped   map[string]bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// Deps bundles the collaborators a Scheduler is wired with.
type Deps struct {
	Fetcher   fetchengine.Engine
	Structure *structure.Engine
	LLMClient llm.Client
	Sources   repository.SourceRepository
	Articles  repository.ArticleRepository
	Errors    errorlog.Appender
	Archiver  snapshot.Archiver
}

// New builds a Scheduler in the Stopped state.
func New(deps Deps, cfg config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		fetcher:   deps.Fetcher,
		structure: deps.Structure,
		llmClient: deps.LLMClient,
		sources:   deps.Sources,
		articles:  deps.Articles,
		errors:    deps.Errors,
		archiver:  deps.Archiver,
		cfg:       cfg,
		logger:    logger,
		state:     StateStopped,
		stopped:   make(map[string]bool),
	}
}

// StopSource marks a single source inactive, cancelling it cleanly before
// its next article without affecting other in-flight sources.
func (s *Scheduler) StopSource(sourceID string) {
	s.stoppedMu.Lock()
	defer s.stoppedMu.Unlock()
	s.stopped[sourceID] = true
}

// Initialize runs one scrape immediately, then arms the periodic interval.
// Calling Initialize on an already-initialised scheduler is a no-op.
func (s *Scheduler) Initialize(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateInitialising
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
}

// Stop halts the periodic loop. In-flight work observes cancellation
// before its next article or source and releases resources.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
}

// Reinitialize stops the scheduler (if running) and starts it fresh,
// resetting the consecutive-failure counter.
func (s *Scheduler) Reinitialize(ctx context.Context) {
	s.Stop()
	s.mu.Lock()
	s.consecutiveFailures = 0
	s.mu.Unlock()
	s.Initialize(ctx)
}

// Status reports the scheduler's externally observable state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Initialized:         s.state != StateStopped,
		IsRunning:           s.state == StateRunning,
		LastRun:             s.lastRun,
		NextRun:             s.nextRun,
		ConsecutiveFailures: s.consecutiveFailures,
		IntervalHours:       s.cfg.GetIntervalHours(),
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	s.runOnce(ctx)

	interval := time.Duration(s.cfg.GetIntervalHours()) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce enforces single-flight: if a run is already active, it returns
// immediately.
func (s *Scheduler) runOnce(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		s.logger.Info("scrapeAll already running, skipping")
		return
	}
	s.state = StateRunning
	s.nextRun = time.Now().Add(time.Duration(s.cfg.GetIntervalHours()) * time.Hour)
	s.mu.Unlock()

	err := s.scrapeAll(ctx)

	s.mu.Lock()
	s.state = StateIdle
	s.lastRun = time.Now()
	if err != nil {
		s.consecutiveFailures++
		s.logger.Error("scrapeAll failed", "error", err, "consecutive_failures", s.consecutiveFailures)
		if s.consecutiveFailures >= s.cfg.GetMaxConsecutiveFailures() {
			s.logger.Error("consecutive failure threshold reached, stopping scheduler")
			// runOnce normally runs on the loop goroutine, so it cannot wait for
			// that loop to exit as Stop does: signal the loop and mark Stopped.
			s.state = StateStopped
			select {
			case <-s.stopCh:
			default:
				close(s.stopCh)
			}
			s.mu.Unlock()
			return
		}
	} else {
		s.consecutiveFailures = 0
	}
	s.mu.Unlock()
}

// scrapeAll visits every registered source in lexicographic order by URL
// (repository.List already returns that order), stopping cleanly if the
// scheduler is asked to stop mid-run.
func (s *Scheduler) scrapeAll(ctx context.Context) error {
	sources, err := s.sources.List(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list sources: %w", err)
	}

	for _, src := range sources {
		select {
		case <-s.stopCh:
			return nil
		default:
		}

		if err := s.scrapeSource(ctx, src); err != nil {
			s.logger.Error("source scrape failed, continuing with next source", "source_id", src.ID, "url", src.URL, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) isActive(sourceID string) bool {
	s.stoppedMu.Lock()
	defer s.stoppedMu.Unlock()
	return !s.stopped[sourceID]
}

func (s *Scheduler) clearStopped(sourceID string) {
	s.stoppedMu.Lock()
	defer s.stoppedMu.Unlock()
	delete(s.stopped, sourceID)
}

func (s *Scheduler) scrapeSource(ctx context.Context, src model.Source) error {
	defer s.clearStopped(src.ID)

	sourceOutcome, err := s.fetcher.Fetch(ctx, src.URL, model.FetchOptions{Intent: model.IntentSourcePage})
	if err != nil || !sourceOutcome.Success {
		s.logError(ctx, model.ErrorKindNetwork, src, "", "fetch-source", err)
		return fmt.Errorf("scheduler: fetch source %s: %w", src.URL, err)
	}

	links, err := linkdiscovery.Discover(ctx, s.llmClient, sourceOutcome.HTML, sourceOutcome.FinalURL, linkdiscovery.Options{})
	if err != nil {
		s.logError(ctx, model.ErrorKindParsing, src, "", "discover-links", err)
		return fmt.Errorf("scheduler: discover links for %s: %w", src.URL, err)
	}

	s.processArticles(ctx, src, links)

	updated := src
	updated.LastScrapedAt = time.Now()
	if err := s.sources.UpdateLastScraped(ctx, src.ID, updated); err != nil {
		s.logger.Warn("failed to record last-scraped timestamp", "source_id", src.ID, "error", err)
	}
	return nil
}

// processArticles fans the discovered links out over a bounded worker
// pool, honouring discovery order as the work queue and the per-source
// active flag as a cooperative cancellation signal.
func (s *Scheduler) processArticles(ctx context.Context, src model.Source, links []string) {
	concurrency := s.cfg.GetConcurrencyPerSource()
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, link := range links {
		if !s.isActive(src.ID) {
			break
		}
		select {
		case <-s.stopCh:
			wg.Wait()
			return
		default:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(articleURL string) {
			defer wg.Done()
			defer func() { <-sem }()

			if !s.isActive(src.ID) {
				return
			}
			if err := s.processArticle(ctx, src, articleURL); err != nil {
				s.logError(ctx, model.ErrorKindNetwork, src, articleURL, "process-article", err)
				s.logger.Warn("article failed, skipping", "url", articleURL, "error", err)
			}
		}(link)
	}

	wg.Wait()
}

func (s *Scheduler) processArticle(ctx context.Context, src model.Source, articleURL string) error {
	exists, err := s.articles.Exists(ctx, articleURL)
	if err != nil {
		return fmt.Errorf("check existence: %w", err)
	}
	if exists {
		return nil
	}

	outcome, err := s.fetcher.Fetch(ctx, articleURL, model.FetchOptions{Intent: model.IntentArticlePage})
	if err != nil || !outcome.Success {
		return fmt.Errorf("fetch article: %w", err)
	}

	cfg, err := s.structure.GetSelectors(ctx, outcome.FinalURL, outcome.HTML)
	if err != nil {
		return fmt.Errorf("get selectors: %w", err)
	}

	content := extract.Extract(outcome.HTML, cfg, outcome.FinalURL, s.reanalyzeWithAI)

	if len(content.Body) < minPersistedBodyChars {
		s.logError(ctx, model.ErrorKindParsing, src, articleURL, "extract-article",
			fmt.Errorf("extracted body too short to persist: %d chars (method=%s)", len(content.Body), content.Method))
		s.logger.Warn("article skipped, extraction below quality floor", "url", articleURL, "body_chars", len(content.Body), "method", content.Method)
		return nil
	}

	flagged, score := cyberscore.Classify(content.Title, content.Body)

	article := model.Article{
		ID:          idgen.New(),
		SourceID:    src.ID,
		URL:         outcome.FinalURL,
		Title:       content.Title,
		Body:        content.Body,
		Author:      content.Author,
		PublishDate: content.PublishDate,
		Tags:        tagging.Extract(content.Title, content.Body),
		Flags:       model.ArticleFlags{Cybersecurity: flagged},
	}
	if flagged {
		article.Flags.SecurityScore = &score
	}

	// Only archive the raw HTML when selector-based extraction couldn't be
	// trusted outright; a clean selector hit needs no debugging aid.
	if content.Method != model.MethodSelectors {
		if key := snapshot.StoreBestEffort(ctx, s.archiver, src.ID, outcome.FinalURL, []byte(outcome.HTML), s.logger); key != nil {
			article.RawSnapshotKey = key
		}
	}

	if err := s.articles.Create(ctx, article); err != nil {
		return fmt.Errorf("store article: %w", err)
	}
	return nil
}

// reanalyzeWithAI adapts the LLM client's ExtractContent call to the
// extract.AIReanalyzer callback shape the pure Extractor expects.
func (s *Scheduler) reanalyzeWithAI(html, url string) (model.ArticleContent, bool) {
	if s.llmClient == nil {
		return model.ArticleContent{}, false
	}
	result, err := s.llmClient.ExtractContent(context.Background(), llm.PrepareHTML(html), url)
	if err != nil {
		return model.ArticleContent{}, false
	}
	return model.ArticleContent{
		Title:      result.Title,
		Body:       result.Content,
		Author:     result.Author,
		Confidence: result.Confidence,
	}, true
}

func (s *Scheduler) logError(ctx context.Context, kind model.ErrorKind, src model.Source, articleURL, step string, err error) {
	if s.errors == nil || err == nil {
		return
	}
	record := errorlog.New(kind, src.ID, src.URL, step, err.Error())
	record.ArticleURL = articleURL
	_ = s.errors.Append(ctx, record)
}
