// Package htmx enriches a rendered source page that defers its link list
// to HTMX-driven partial loads: it locates the page's hx-get/hx-post
// endpoints, replays them as the page itself would, and injects the
// returned fragments into the DOM before link discovery runs.
package htmx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// Endpoint is a single HTMX-declared server fetch discovered on the page.
type Endpoint struct {
	URL     string
	Method  string // GET or POST
	Trigger string
}

// detectScript reports whether the rendered page carries any HTMX fingerprint:
// a loaded htmx.js script, window.htmx, or hx-* attributes.
const detectScript = `(() => ({
	hasHtmxGlobal: typeof window.htmx !== 'undefined',
	hasHtmxScript: Array.from(document.scripts).some(s => (s.src || '').includes('htmx')),
	elementCount: document.querySelectorAll('[hx-get],[hx-post],[data-hx-get],[data-hx-post]').length,
}))()`

const collectEndpointsScript = `(() => {
	const nodes = Array.from(document.querySelectorAll('[hx-get],[hx-post],[data-hx-get],[data-hx-post]'));
	return nodes.map(el => {
		const get = el.getAttribute('hx-get') || el.getAttribute('data-hx-get');
		const post = el.getAttribute('hx-post') || el.getAttribute('data-hx-post');
		return {
			url: get || post || '',
			method: get ? 'GET' : 'POST',
			trigger: el.getAttribute('hx-trigger') || el.getAttribute('data-hx-trigger') || 'load',
		};
	}).filter(e => e.url);
})()`

const csrfTokenScript = `(() => {
	const meta = document.querySelector('meta[name="csrf-token"]');
	if (meta) return meta.getAttribute('content') || '';
	const input = document.querySelector('input[name="_token"]');
	return input ? input.value : '';
})()`

const quiescenceScript = `(() => document.querySelectorAll('.loading, .spinner, [data-loading="true"], .skeleton').length)()`

// fetchFragmentScriptTemplate performs the subresource fetch from inside the page
// so it carries the page's own cookies/session exactly as a real HTMX
// swap would, then returns the response body text.
const fetchFragmentScriptTemplate = `
(async () => {
	try {
		const resp = await fetch(%s, {
			method: %s,
			headers: {
				'HX-Request': 'true',
				'HX-Current-URL': %s,
				%s
			},
			credentials: 'same-origin',
		});
		return await resp.text();
	} catch (e) {
		return '';
	}
})()
`

// HasMarkers reports whether the rendered page exhibits HTMX fingerprints.
func HasMarkers(ctx context.Context) (bool, error) {
	var result struct {
		HasHtmxGlobal bool `json:"hasHtmxGlobal"`
		HasHtmxScript bool `json:"hasHtmxScript"`
		ElementCount  int  `json:"elementCount"`
	}
	if err := chromedp.Evaluate(detectScript, &result).Do(ctx); err != nil {
		return false, fmt.Errorf("htmx marker detection: %w", err)
	}
	return result.HasHtmxGlobal || result.HasHtmxScript || result.ElementCount > 0, nil
}

// Enrich loads every HTMX endpoint on the page, injects the resulting
// fragments, clicks a bounded set of user-triggered elements, waits for
// loading indicators to clear, and performs a lazy-load scroll pass.
func Enrich(ctx context.Context, currentURL string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	endpoints, err := collectEndpoints(ctx)
	if err != nil {
		return fmt.Errorf("collect htmx endpoints: %w", err)
	}

	csrfToken, err := evalString(ctx, csrfTokenScript)
	if err != nil {
		csrfToken = ""
	}

	for _, ep := range endpoints {
		if err := injectFragment(ctx, ep, currentURL, csrfToken); err != nil {
			logger.Debug("htmx fragment fetch failed", "url", ep.URL, "error", err)
			continue
		}
	}

	if err := clickTriggeredElements(ctx, 10); err != nil {
		logger.Debug("htmx click pass failed", "error", err)
	}

	if err := waitForQuiescence(ctx, 10*time.Second); err != nil {
		logger.Debug("htmx quiescence wait timed out", "error", err)
	}

	if err := lazyLoadScroll(ctx); err != nil {
		logger.Debug("htmx lazy-load scroll failed", "error", err)
	}

	return nil
}

func collectEndpoints(ctx context.Context) ([]Endpoint, error) {
	var raw []struct {
		URL     string `json:"url"`
		Method  string `json:"method"`
		Trigger string `json:"trigger"`
	}
	if err := chromedp.Evaluate(collectEndpointsScript, &raw).Do(ctx); err != nil {
		return nil, err
	}
	endpoints := make([]Endpoint, 0, len(raw))
	for _, e := range raw {
		endpoints = append(endpoints, Endpoint{URL: e.URL, Method: e.Method, Trigger: e.Trigger})
	}
	return endpoints, nil
}

// injectFragment fetches a single HTMX endpoint and appends the resulting
// HTML as a `<div class="htmx-injected">` child of <body>, mirroring what
// an htmx.js-driven swap would leave behind for link discovery to find.
func injectFragment(ctx context.Context, ep Endpoint, currentURL, csrfToken string) error {
	tokenHeader := ""
	if csrfToken != "" {
		tokenHeader = fmt.Sprintf(`'X-CSRF-Token': %s,`, jsString(csrfToken))
	}
	script := fmt.Sprintf(fetchFragmentScriptTemplate,
		jsString(ep.URL), jsString(ep.Method), jsString(currentURL), tokenHeader)

	var fragment string
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &fragment, withAwaitPromise)); err != nil {
		return err
	}
	if fragment == "" {
		return nil
	}

	injectScript := fmt.Sprintf(`(() => {
		const div = document.createElement('div');
		div.className = 'htmx-injected';
		div.innerHTML = %s;
		document.body.appendChild(div);
	})()`, jsString(fragment))
	return chromedp.Run(ctx, chromedp.Evaluate(injectScript, nil))
}

// clickTriggeredElements clicks visible HTMX elements whose trigger isn't
// "load" and whose URL doesn't look like search/filter, capped at max
// clicks so a chatty page can't stall the run.
func clickTriggeredElements(ctx context.Context, max int) error {
	script := fmt.Sprintf(`(() => {
		const nodes = Array.from(document.querySelectorAll('[hx-get],[hx-post],[data-hx-get],[data-hx-post]'));
		let clicked = 0;
		for (const el of nodes) {
			if (clicked >= %d) break;
			const trigger = el.getAttribute('hx-trigger') || el.getAttribute('data-hx-trigger') || 'load';
			const url = el.getAttribute('hx-get') || el.getAttribute('hx-post') || el.getAttribute('data-hx-get') || el.getAttribute('data-hx-post') || '';
			if (trigger === 'load') continue;
			if (/search|filter/i.test(url)) continue;
			const rect = el.getBoundingClientRect();
			if (rect.width === 0 && rect.height === 0) continue;
			el.click();
			clicked++;
		}
		return clicked;
	})()`, max)
	return chromedp.Run(ctx, chromedp.Evaluate(script, nil))
}

// waitForQuiescence polls for loading indicators to disappear.
func waitForQuiescence(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := evalInt(ctx, quiescenceScript)
			if err != nil {
				return err
			}
			if count == 0 {
				return nil
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("htmx quiescence timed out with %d loading indicators remaining", count)
			}
		}
	}
}

// lazyLoadScroll performs three scroll-and-pause steps to trigger
// scroll-gated content a single full-page scroll would skip.
func lazyLoadScroll(ctx context.Context) error {
	fractions := []float64{1.0 / 3, 2.0 / 3, 1.0}
	for _, frac := range fractions {
		script := fmt.Sprintf(`window.scrollTo(0, document.body.scrollHeight * %f)`, frac)
		if err := chromedp.Run(ctx, chromedp.Evaluate(script, nil)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

func evalString(ctx context.Context, script string) (string, error) {
	var s string
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &s)); err != nil {
		return "", err
	}
	return s, nil
}

func evalInt(ctx context.Context, script string) (int, error) {
	var n int
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &n)); err != nil {
		return 0, err
	}
	return n, nil
}

// withAwaitPromise makes chromedp.Evaluate wait for an async script's
// returned promise to settle before returning its resolved value.
func withAwaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// jsString renders s as a double-quoted JS string literal, for embedding
// Go-controlled dynamic values (URLs, tokens) into generated scripts.
func jsString(s string) string {
	encoded, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(encoded)
}
