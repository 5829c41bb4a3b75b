package retry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brinkhollow/ingestor/config"
	"github.com/brinkhollow/ingestor/fetcher"
	"github.com/brinkhollow/ingestor/ratelimit"
)

func newTestRetrier(cfg config.RetryConfig) *Retrier {
	f := fetcher.New(config.FetchConfig{})
	l := ratelimit.New(config.RateLimitConfig{})
	return New(f, l, cfg)
}

func TestCalculateBackoffGrowsExponentially(t *testing.T) {
	r := newTestRetrier(config.RetryConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2.0})

	delay0 := r.calculateBackoff(0)
	delay1 := r.calculateBackoff(1)
	delay2 := r.calculateBackoff(2)

	if delay1 <= delay0/2 {
		t.Fatalf("delay1 (%v) should exceed half of delay0 (%v)", delay1, delay0)
	}
	if delay2 <= delay1/2 {
		t.Fatalf("delay2 (%v) should exceed half of delay1 (%v)", delay2, delay1)
	}
}

func TestCalculateBackoffRespectsMaxDelay(t *testing.T) {
	cfg := config.RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 10.0}
	r := newTestRetrier(cfg)

	for attempt := 0; attempt < 20; attempt++ {
		delay := r.calculateBackoff(attempt)
		maxAllowed := time.Duration(float64(cfg.GetMaxDelay()) * (1 + jitterPercent))
		if delay > maxAllowed {
			t.Fatalf("attempt %d: delay %v exceeds cap %v", attempt, delay, maxAllowed)
		}
	}
}

func TestAddJitterStaysWithinRange(t *testing.T) {
	r := newTestRetrier(config.RetryConfig{})
	base := 1000 * time.Millisecond
	minAllowed := float64(base) * (1 - jitterPercent)
	maxAllowed := float64(base) * (1 + jitterPercent)

	for i := 0; i < 50; i++ {
		result := r.addJitter(base)
		if float64(result) < minAllowed || float64(result) > maxAllowed {
			t.Fatalf("jitter result %v outside [%v, %v]", result, minAllowed, maxAllowed)
		}
	}
}

func TestAddJitterZeroStaysZero(t *testing.T) {
	r := newTestRetrier(config.RetryConfig{})
	if got := r.addJitter(0); got != 0 {
		t.Fatalf("expected zero, got %v", got)
	}
}

func TestRetryFetchSucceedsAfterTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Success!"))
	}))
	defer server.Close()

	r := newTestRetrier(config.RetryConfig{MaxRetries: 3, InitialDelay: 5 * time.Millisecond, Multiplier: 2.0})
	resp, err := r.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if attempts.Load() != 3 {
		t.Fatalf("attempts = %d, want 3", attempts.Load())
	}
}

func TestRetryFetchDoesNotRetry4xx(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	r := newTestRetrier(config.RetryConfig{MaxRetries: 3, InitialDelay: 5 * time.Millisecond})
	resp, err := r.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("StatusCode = %d, want 404", resp.StatusCode)
	}
	if attempts.Load() != 1 {
		t.Fatalf("attempts = %d, want 1 (4xx should not retry)", attempts.Load())
	}
}

func TestRetryFetchFailsAfterMaxRetries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	r := newTestRetrier(config.RetryConfig{MaxRetries: 2, InitialDelay: 5 * time.Millisecond})
	_, err := r.Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts.Load() != 3 {
		t.Fatalf("attempts = %d, want 3 (initial + 2 retries)", attempts.Load())
	}
}

func TestRetryFetchContextCancellationStopsRetrying(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	r := newTestRetrier(config.RetryConfig{MaxRetries: 10, InitialDelay: 100 * time.Millisecond, Multiplier: 2.0})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := r.Fetch(ctx, server.URL)
	if err == nil {
		t.Fatal("expected error on context cancellation")
	}
	if attempts.Load() >= 11 {
		t.Fatalf("attempts = %d, should have stopped early", attempts.Load())
	}
}

func TestRetryConfigDefaultRetryOn(t *testing.T) {
	cfg := config.RetryConfig{}
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !cfg.ShouldRetry(code) {
			t.Errorf("expected default retry on %d", code)
		}
	}
	if cfg.ShouldRetry(404) {
		t.Error("should not retry 404 by default")
	}
}
