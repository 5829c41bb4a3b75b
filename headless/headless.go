// Package headless renders JavaScript-dependent pages with a shared
// chromedp browser instance, applying anti-fingerprinting script
// injection before navigation.
package headless

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/brinkhollow/ingestor/config"
)

// Response is the rendered page: final HTML, navigation status, and any
// document-level response headers chromedp observed.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Browser is a process-wide singleton wrapping one chromedp allocator.
// Pages are cheap to open against a running browser; launching a new
// browser process is not, so every Render call shares this instance
// behind a semaphore that enforces the configured open-page cap.
type Browser struct {
	cfg    config.HeadlessConfig
	logger *slog.Logger

	mu          sync.Mutex
	allocCancel context.CancelFunc
	browserCtx  context.Context
	launched    bool

	pageSlots chan struct{}
}

// New returns a Browser that lazily launches Chrome on the first Render
// call. cfg.GetMaxOpenPages bounds concurrent tabs process-wide.
func New(cfg config.HeadlessConfig, logger *slog.Logger) *Browser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Browser{
		cfg:       cfg,
		logger:    logger,
		pageSlots: make(chan struct{}, cfg.GetMaxOpenPages()),
	}
}

// Close tears down the shared browser process. Safe to call once during
// process shutdown; a nil or already-closed Browser is a no-op.
func (b *Browser) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.allocCancel != nil {
		b.allocCancel()
		b.launched = false
	}
}

// ensureLaunched starts the shared browser process on first use, retrying
// with exponential backoff since Chrome's first cold start under load can
// transiently fail (profile lock contention, slow disk).
func (b *Browser) ensureLaunched(ctx context.Context) (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.launched {
		return b.browserCtx, nil
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), b.execOptions()...)
		browserCtx, _ := chromedp.NewContext(allocCtx)

		if err := chromedp.Run(browserCtx); err != nil {
			allocCancel()
			lastErr = err
			b.logger.Debug("headless launch attempt failed", "attempt", attempt, "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
			continue
		}

		b.allocCancel, b.browserCtx = allocCancel, browserCtx
		b.launched = true
		return b.browserCtx, nil
	}

	return nil, fmt.Errorf("headless browser failed to launch after retries: %w", lastErr)
}

// Context exposes the shared browser's root context, launching it first
// if necessary. Callers that need actions beyond Render (HTMX enrichment,
// multi-step interaction) build their own chromedp.NewContext from this.
func (b *Browser) Context(ctx context.Context) (context.Context, error) {
	return b.ensureLaunched(ctx)
}

func (b *Browser) execOptions() []chromedp.ExecAllocatorOption {
	opts := make([]chromedp.ExecAllocatorOption, len(chromedp.DefaultExecAllocatorOptions))
	copy(opts, chromedp.DefaultExecAllocatorOptions[:])
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(config.DefaultUserAgent),
	)
	// The first configured path that exists wins; with none present,
	// chromedp's own lookup (which searches PATH) picks the binary.
	for _, path := range b.cfg.GetBrowserPaths() {
		if _, err := os.Stat(path); err == nil {
			opts = append(opts, chromedp.ExecPath(path))
			break
		}
	}
	return opts
}

// Render navigates to url in a new tab against the shared browser and
// returns the settled HTML. A page slot is held for the duration of the
// render, bounding memory use under the configured MaxOpenPages.
func (b *Browser) Render(ctx context.Context, url string) (*Response, error) {
	select {
	case b.pageSlots <- struct{}{}:
		defer func() { <-b.pageSlots }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	browserCtx, err := b.ensureLaunched(ctx)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("headless render started", "url", url)

	pageTimeout := b.cfg.GetDefaultPageTimeout()
	taskCtx, taskCancel := chromedp.NewContext(browserCtx)
	defer taskCancel()

	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, pageTimeout)
	defer timeoutCancel()

	var (
		html       string
		statusCode int
		finalURL   string
		headers    http.Header
	)

	state := &pageState{}

	chromedp.ListenTarget(taskCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			state.addRequest()
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			state.removeRequest()
		case *network.EventResponseReceived:
			if e.Type == network.ResourceTypeDocument {
				statusCode = int(e.Response.Status)
				headers = headersFromNetwork(e.Response.Headers)
			}
		case *page.EventLifecycleEvent:
			state.setLifecycle(e.Name)
		}
	})

	err = chromedp.Run(taskCtx,
		network.Enable(),
		page.Enable(),
		page.SetLifecycleEventsEnabled(true),
		page.AddScriptToEvaluateOnNewDocument(stealthScript),
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return waitForPageReady(ctx, state, b.logger)
		}),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return nil, fmt.Errorf("headless render failed: %w", err)
	}

	b.logger.Debug("headless render completed", "url", url, "final_url", finalURL, "body_size", len(html))

	if statusCode == 0 && len(html) > 0 {
		statusCode = 200
	}

	return &Response{
		URL:        finalURL,
		StatusCode: statusCode,
		Headers:    headers,
		Body:       []byte(html),
	}, nil
}

// pageState tracks the loading state of a page.
type pageState struct {
	mu              sync.Mutex
	inflight        int
	lastNetActivity time.Time
	networkIdle     bool
}

func (s *pageState) addRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight++
	s.lastNetActivity = time.Now()
	s.networkIdle = false
}

func (s *pageState) removeRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.lastNetActivity = time.Now()
}

func (s *pageState) setLifecycle(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == "networkIdle" {
		s.networkIdle = true
	}
}

func (s *pageState) getState() (inflight int, lastActivity time.Time, networkIdle bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight, s.lastNetActivity, s.networkIdle
}

// waitForPageReady polls network idle and DOM mutation signals until both
// settle, or until maxWait elapses.
func waitForPageReady(ctx context.Context, state *pageState, logger *slog.Logger) error {
	const (
		pollInterval   = 50 * time.Millisecond
		networkIdleFor = 500 * time.Millisecond
		domStableFor   = 500 * time.Millisecond
		maxWait        = 15 * time.Second
		minWait        = 1 * time.Second
	)

	start := time.Now()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var (
		domStableSince time.Time
		lastMutations  int
		currentMut     int
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			elapsed := time.Since(start)

			inflight, lastActivity, networkIdle := state.getState()

			var domSnapshot struct {
				ReadyState    string `json:"readyState"`
				MutationCount int    `json:"mutationCount"`
			}
			err := chromedp.Evaluate(`(() => {
  if (!window.__ingestorMutationObserver) {
    window.__ingestorMutationCount = 0;
    if (typeof MutationObserver !== "undefined") {
      const target = document.documentElement || document;
      if (target) {
        const obs = new MutationObserver(() => { window.__ingestorMutationCount++; });
        obs.observe(target, {childList: true, subtree: true, characterData: true});
        window.__ingestorMutationObserver = obs;
      }
    }
  }
  return {readyState: document.readyState, mutationCount: window.__ingestorMutationCount || 0};
})()`, &domSnapshot).Do(ctx)
			if err != nil {
				logger.Debug("failed to evaluate DOM snapshot", "error", err)
			}
			currentMut = domSnapshot.MutationCount

			if currentMut != lastMutations {
				lastMutations = currentMut
				domStableSince = time.Now()
			} else if domStableSince.IsZero() {
				domStableSince = time.Now()
			}

			domStable := !domStableSince.IsZero() && time.Since(domStableSince) >= domStableFor
			netIdle := networkIdle || (inflight == 0 && !lastActivity.IsZero() && time.Since(lastActivity) >= networkIdleFor)

			if elapsed >= minWait && domStable && netIdle {
				logger.Debug("page ready", "elapsed", elapsed, "mutation_count", currentMut, "network_idle", networkIdle, "inflight", inflight)
				return nil
			}

			if elapsed >= maxWait {
				logger.Debug("page ready (timeout)", "elapsed", elapsed, "mutation_count", currentMut, "network_idle", networkIdle, "dom_stable", domStable, "inflight", inflight)
				return nil
			}
		}
	}
}

// headersFromNetwork converts CDP response headers to http.Header.
func headersFromNetwork(h network.Headers) http.Header {
	if len(h) == 0 {
		return http.Header{"Content-Type": []string{"text/html; charset=utf-8"}}
	}

	headers := make(http.Header, len(h))
	for key, value := range h {
		headers.Set(key, fmt.Sprint(value))
	}

	if headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", "text/html; charset=utf-8")
	}

	return headers
}
