// Package retry wraps the plain HTTP fetcher with the fetch engine's
// retry policy: rate-limited attempts, exponential backoff with jitter
// between them, and Retry-After cooperation on throttled responses.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/brinkhollow/ingestor/config"
	"github.com/brinkhollow/ingestor/fetcher"
	"github.com/brinkhollow/ingestor/ratelimit"
)

// jitterPercent bounds how far a backoff delay may wander from its
// computed value (+/- 25%), enough to break up synchronized retries
// across sources without eroding the exponential curve's intent.
const jitterPercent = 0.25

// Retrier is the HTTP tier's retrying fetch path: every attempt first
// clears the shared per-domain rate limiter, then runs the underlying
// fetcher, classifying the result against RetryConfig before deciding
// whether to back off and try again.
type Retrier struct {
	fetcher *fetcher.Fetcher
	limiter *ratelimit.Limiter
	config  config.RetryConfig
}

// New wires a Retrier from the HTTP tier's fetcher, the shared rate
// limiter, and the retry policy to apply between attempts.
func New(f *fetcher.Fetcher, l *ratelimit.Limiter, cfg config.RetryConfig) *Retrier {
	return &Retrier{
		fetcher: f,
		limiter: l,
		config:  cfg,
	}
}

// Fetch runs url through the HTTP tier, retrying on a retryable status
// code or transport error up to RetryConfig.GetMaxRetries() times, with
// exponential backoff between attempts and Retry-After cooperation via
// the shared rate limiter.
func (r *Retrier) Fetch(ctx context.Context, url string) (*fetcher.Response, error) {
	maxRetries := r.config.GetMaxRetries()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := r.limiter.Wait(ctx, url); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}

		resp, err := r.fetcher.Fetch(ctx, url)

		if resp != nil {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				r.limiter.Release(url)
				return resp, nil
			}

			if !r.config.ShouldRetry(resp.StatusCode) {
				r.limiter.Release(url)
				return resp, nil
			}

			r.limiter.UpdateRetryAfter(url, resp.Headers)
			lastErr = fmt.Errorf("attempt %d: HTTP %d", attempt, resp.StatusCode)
		} else {
			lastErr = fmt.Errorf("attempt %d failed: %w", attempt, err)
		}

		r.limiter.Release(url)

		if attempt < maxRetries {
			backoff := r.calculateBackoff(attempt)
			if sleepErr := r.sleep(ctx, backoff); sleepErr != nil {
				return nil, sleepErr
			}
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("failed after %d attempts: %w", maxRetries+1, lastErr)
	}

	return nil, fmt.Errorf("failed after %d attempts", maxRetries+1)
}

// calculateBackoff computes the backoff duration for a given attempt using exponential backoff.
func (r *Retrier) calculateBackoff(attempt int) time.Duration {
	initialDelay := r.config.GetInitialDelay()
	maxDelay := r.config.GetMaxDelay()
	multiplier := r.config.GetMultiplier()

	delay := float64(initialDelay) * math.Pow(multiplier, float64(attempt))

	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	duration := time.Duration(delay)
	return r.addJitter(duration)
}

// addJitter adds random jitter to prevent thundering herd.
// Jitter is +/- 25% of the duration.
func (r *Retrier) addJitter(duration time.Duration) time.Duration {
	if duration == 0 {
		return 0
	}

	jitterRange := float64(duration) * jitterPercent
	jitter := (rand.Float64()*2.0 - 1.0) * jitterRange

	result := float64(duration) + jitter
	if result < 0 {
		return 0
	}

	return time.Duration(result)
}

// sleep waits for the specified duration or until context is cancelled.
func (r *Retrier) sleep(ctx context.Context, duration time.Duration) error {
	select {
	case <-time.After(duration):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
