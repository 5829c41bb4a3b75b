package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brinkhollow/ingestor/config"
	"github.com/brinkhollow/ingestor/llm"
	"github.com/brinkhollow/ingestor/model"
	"github.com/brinkhollow/ingestor/repository"
	"github.com/brinkhollow/ingestor/selectorcache"
	"github.com/brinkhollow/ingestor/structure"
)

type recordingAppender struct {
	mu      sync.Mutex
	records []model.ErrorLogRecord
}

func (r *recordingAppender) Append(_ context.Context, record model.ErrorLogRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *recordingAppender) kinds() []model.ErrorKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]model.ErrorKind, len(r.records))
	for i, rec := range r.records {
		kinds[i] = rec.Kind
	}
	return kinds
}

type fakeArchiver struct {
	mu    sync.Mutex
	calls int
}

func (a *fakeArchiver) Store(context.Context, string, string, []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return "snapshot-key", nil
}

type fakeFetcher struct {
	mu       sync.Mutex
	calls    int
	byURL    map[string]model.FetchOutcome
	fetchErr error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ model.FetchOptions) (model.FetchOutcome, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fetchErr != nil {
		return model.FetchOutcome{}, f.fetchErr
	}
	if outcome, ok := f.byURL[url]; ok {
		return outcome, nil
	}
	return model.FetchOutcome{Success: true, HTML: "<html><body></body></html>", FinalURL: url}, nil
}

type fakeLLM struct{}

func (fakeLLM) DetectStructure(context.Context, string, string) (llm.StructureResult, error) {
	return llm.StructureResult{TitleSelector: "h1", ContentSelector: "article", Confidence: 0.9}, nil
}
func (fakeLLM) ExtractContent(context.Context, string, string) (llm.ContentResult, error) {
	return llm.ContentResult{}, errors.New("not used")
}
func (fakeLLM) IdentifyArticleLinks(context.Context, []llm.LinkCandidate) ([]string, error) {
	return nil, errors.New("not used")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const sourcePageHTML = `<html><body>
	<a href="/articles/one">A sufficiently long article title here</a>
	<a href="/articles/two">Another sufficiently long article title</a>
</body></html>`

const articleHTML = `<html><body>
	<h1>A Real Headline About Cyber Threats</h1>
	<article>Researchers disclosed a ransomware campaign exploiting a zero-day vulnerability in widely used software, prompting urgent patch guidance from CISA. The threat actor behind the campaign, tracked under an internal codename, compromised a software supply chain dependency used by thousands of downstream customers, embedding a backdoor inside a routine update that passed unnoticed for several weeks before independent security researchers flagged anomalous outbound traffic. Incident responders at the affected vendor worked with CISA and international partners to coordinate disclosure, publish indicators of compromise, and ship an emergency patch, while downstream organizations scrambled to determine whether they had ever pulled the tainted release into production.</article>
</body></html>`

const shortArticleHTML = `<html><body>
	<h1>Too Short To Keep</h1>
	<article>Just a few words, not nearly enough to pass the floor.</article>
</body></html>`

func newTestScheduler(t *testing.T, fetcher *fakeFetcher, sources []model.Source) (*Scheduler, *repository.InMemoryStore) {
	t.Helper()
	store := repository.NewInMemoryStore(sources)
	structEngine := structure.New(fakeLLM{}, selectorcache.NewMemoryStore())

	sched := New(Deps{
		Fetcher:   fetcher,
		Structure: structEngine,
		LLMClient: fakeLLM{},
		Sources:   store,
		Articles:  store,
	}, config.SchedulerConfig{IntervalHours: 1000, ConcurrencyPerSource: 2, MaxConsecutiveFailures: 3}, discardLogger())

	return sched, store
}

func TestScrapeSourceStoresDiscoveredArticles(t *testing.T) {
	fetcher := &fakeFetcher{byURL: map[string]model.FetchOutcome{
		"https://example.com":            {Success: true, HTML: sourcePageHTML, FinalURL: "https://example.com"},
		"https://example.com/articles/one": {Success: true, HTML: articleHTML, FinalURL: "https://example.com/articles/one"},
		"https://example.com/articles/two": {Success: true, HTML: articleHTML, FinalURL: "https://example.com/articles/two"},
	}}
	sched, store := newTestScheduler(t, fetcher, []model.Source{{ID: "s1", URL: "https://example.com"}})

	if err := sched.scrapeSource(context.Background(), model.Source{ID: "s1", URL: "https://example.com"}); err != nil {
		t.Fatalf("scrapeSource() error = %v", err)
	}

	one, err := store.Exists(context.Background(), "https://example.com/articles/one")
	if err != nil || !one {
		t.Fatalf("Exists(article one) = %v, %v, want true", one, err)
	}
	two, err := store.Exists(context.Background(), "https://example.com/articles/two")
	if err != nil || !two {
		t.Fatalf("Exists(article two) = %v, %v, want true", two, err)
	}
}

func TestScrapeSourceSkipsExistingArticles(t *testing.T) {
	fetcher := &fakeFetcher{byURL: map[string]model.FetchOutcome{
		"https://example.com": {Success: true, HTML: sourcePageHTML, FinalURL: "https://example.com"},
	}}
	sched, store := newTestScheduler(t, fetcher, []model.Source{{ID: "s1", URL: "https://example.com"}})

	if err := store.Create(context.Background(), model.Article{ID: "pre-existing", URL: "https://example.com/articles/one"}); err != nil {
		t.Fatalf("seed Create() error = %v", err)
	}

	if err := sched.scrapeSource(context.Background(), model.Source{ID: "s1", URL: "https://example.com"}); err != nil {
		t.Fatalf("scrapeSource() error = %v", err)
	}

	article, err := store.GetByID(context.Background(), "pre-existing")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if article.Title != "" {
		t.Fatalf("expected pre-existing article left untouched, got title %q", article.Title)
	}
}

func TestScrapeAllSkipsWhenAlreadyRunning(t *testing.T) {
	fetcher := &fakeFetcher{}
	sched, _ := newTestScheduler(t, fetcher, nil)

	sched.mu.Lock()
	sched.state = StateRunning
	sched.mu.Unlock()

	sched.stopCh = make(chan struct{})
	sched.runOnce(context.Background())

	status := sched.Status()
	if status.ConsecutiveFailures != 0 {
		t.Fatalf("expected re-entrant run to be a no-op, got consecutive failures = %d", status.ConsecutiveFailures)
	}
}

// failingSourceLister makes scrapeAll itself fail (sources.List is the one
// error that propagates to the run level; individual source/article
// failures are swallowed and logged instead).
type failingSourceLister struct {
	*repository.InMemoryStore
}

func (failingSourceLister) List(context.Context) ([]model.Source, error) {
	return nil, errors.New("list failed")
}

func TestRunOnceTripsCircuitBreakerAfterConsecutiveFailures(t *testing.T) {
	fetcher := &fakeFetcher{}
	sched, store := newTestScheduler(t, fetcher, nil)
	sched.sources = failingSourceLister{store}
	sched.cfg.MaxConsecutiveFailures = 2
	sched.stopCh = make(chan struct{})
	sched.doneCh = make(chan struct{})
	close(sched.doneCh) // no loop goroutine is running in this test to close it

	sched.mu.Lock()
	sched.state = StateIdle
	sched.mu.Unlock()
	sched.runOnce(context.Background())
	if got := sched.Status().ConsecutiveFailures; got != 1 {
		t.Fatalf("after first failure, ConsecutiveFailures = %d, want 1", got)
	}

	sched.mu.Lock()
	sched.state = StateIdle
	sched.mu.Unlock()
	sched.runOnce(context.Background())

	status := sched.Status()
	if status.Initialized {
		t.Fatal("expected scheduler to be Stopped after hitting the breaker threshold")
	}
}

func TestInitializeAndStopTransitionsState(t *testing.T) {
	fetcher := &fakeFetcher{}
	sched, _ := newTestScheduler(t, fetcher, nil)
	sched.cfg.IntervalHours = 1000

	sched.Initialize(context.Background())
	// Give the initial immediate run a moment to complete.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sched.Status().Initialized {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	sched.Stop()
	if sched.Status().Initialized {
		t.Fatal("expected Stop() to return scheduler to Stopped state")
	}
}

func TestProcessArticleSkipsContentBelowQualityFloor(t *testing.T) {
	fetcher := &fakeFetcher{byURL: map[string]model.FetchOutcome{
		"https://example.com/articles/short": {Success: true, HTML: shortArticleHTML, FinalURL: "https://example.com/articles/short"},
	}}
	sched, store := newTestScheduler(t, fetcher, nil)
	appender := &recordingAppender{}
	sched.errors = appender

	src := model.Source{ID: "s1", URL: "https://example.com"}
	if err := sched.processArticle(context.Background(), src, "https://example.com/articles/short"); err != nil {
		t.Fatalf("processArticle() error = %v, want nil (skip is not an error)", err)
	}

	exists, err := store.Exists(context.Background(), "https://example.com/articles/short")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Fatal("expected article below the quality floor to not be persisted")
	}

	kinds := appender.kinds()
	if len(kinds) != 1 || kinds[0] != model.ErrorKindParsing {
		t.Fatalf("error log kinds = %v, want exactly one %q", kinds, model.ErrorKindParsing)
	}
}

func TestProcessArticlePersistsContentAtOrAboveQualityFloor(t *testing.T) {
	fetcher := &fakeFetcher{byURL: map[string]model.FetchOutcome{
		"https://example.com/articles/one": {Success: true, HTML: articleHTML, FinalURL: "https://example.com/articles/one"},
	}}
	sched, store := newTestScheduler(t, fetcher, nil)

	src := model.Source{ID: "s1", URL: "https://example.com"}
	if err := sched.processArticle(context.Background(), src, "https://example.com/articles/one"); err != nil {
		t.Fatalf("processArticle() error = %v", err)
	}

	exists, err := store.Exists(context.Background(), "https://example.com/articles/one")
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v, want true", exists, err)
	}
}

func TestProcessArticleSnapshotsOnlyWhenSelectorsWerentTrustedOutright(t *testing.T) {
	fetcher := &fakeFetcher{byURL: map[string]model.FetchOutcome{
		"https://example.com/articles/one": {Success: true, HTML: articleHTML, FinalURL: "https://example.com/articles/one"},
	}}
	sched, store := newTestScheduler(t, fetcher, nil)
	archiver := &fakeArchiver{}
	sched.archiver = archiver

	src := model.Source{ID: "s1", URL: "https://example.com"}
	if err := sched.processArticle(context.Background(), src, "https://example.com/articles/one"); err != nil {
		t.Fatalf("processArticle() error = %v", err)
	}

	exists, err := store.Exists(context.Background(), "https://example.com/articles/one")
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v, want true", exists, err)
	}

	archiver.mu.Lock()
	calls := archiver.calls
	archiver.mu.Unlock()
	if calls != 0 {
		t.Fatalf("snapshot Store() calls = %d, want 0 for a clean selector-based extraction", calls)
	}
}

func TestProcessArticleSnapshotsWhenRecoveryRungWasNeeded(t *testing.T) {
	// No <article> for the structure engine's configured content selector
	// to hit, forcing extraction down a non-selectors recovery rung even
	// though the title selector still resolves.
	degradedHTML := `<html><body><h1>Some Headline</h1><div class="content">` +
		strings.Repeat("Readable paragraph content about a software vulnerability. ", 20) +
		`</div></body></html>`
	fetcher := &fakeFetcher{byURL: map[string]model.FetchOutcome{
		"https://example.com/articles/degraded": {Success: true, HTML: degradedHTML, FinalURL: "https://example.com/articles/degraded"},
	}}
	sched, store := newTestScheduler(t, fetcher, nil)
	archiver := &fakeArchiver{}
	sched.archiver = archiver

	src := model.Source{ID: "s1", URL: "https://example.com"}
	if err := sched.processArticle(context.Background(), src, "https://example.com/articles/degraded"); err != nil {
		t.Fatalf("processArticle() error = %v", err)
	}

	exists, err := store.Exists(context.Background(), "https://example.com/articles/degraded")
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v, want true", exists, err)
	}

	archiver.mu.Lock()
	calls := archiver.calls
	archiver.mu.Unlock()
	if calls != 1 {
		t.Fatalf("snapshot Store() calls = %d, want 1 for a degraded extraction", calls)
	}
}
