// Package resilience provides a generic attempt-with-retry combinator with
// a data-driven backoff policy.
package resilience

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// Backoff computes the delay before the retry following the given attempt.
// Attempt numbering starts at 1 (the first failed try).
type Backoff func(attempt int) time.Duration

// LinearBackoff returns attempt × step, the policy applied after a
// rate-limit signal.
func LinearBackoff(step time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// ExponentialBackoff returns base × 2^(attempt-1) capped at max, the policy
// applied after timeouts and transient network failures.
func ExponentialBackoff(base, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
		if d > max {
			return max
		}
		return d
	}
}

// Policy controls retry behavior. The backoff applied after a failure
// depends on its classification: rate-limited errors use RateLimitBackoff,
// other transient errors use TransientBackoff, and non-transient errors
// abort immediately.
type Policy struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 3.
	MaxAttempts int

	// RateLimitBackoff applies after rate-limit (HTTP 429) failures.
	RateLimitBackoff Backoff

	// TransientBackoff applies after timeouts and other transient failures.
	TransientBackoff Backoff

	// ShouldRetry optionally overrides the default transient-error check.
	// If nil, IsTransient is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep with attempt number and error.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy returns the retry policy used for boundary fetches:
// 3 attempts, linear backoff on 429, exponential on transient failures.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      3,
		RateLimitBackoff: LinearBackoff(2 * time.Second),
		TransientBackoff: ExponentialBackoff(time.Second, 30*time.Second),
	}
}

func (p Policy) applyDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.RateLimitBackoff == nil {
		p.RateLimitBackoff = LinearBackoff(2 * time.Second)
	}
	if p.TransientBackoff == nil {
		p.TransientBackoff = ExponentialBackoff(time.Second, 30*time.Second)
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = IsTransient
	}
	return p
}

// delayFor picks the backoff for a classified failure.
func (p Policy) delayFor(err error, attempt int) time.Duration {
	if IsRateLimited(err) {
		return p.RateLimitBackoff(attempt)
	}
	return p.TransientBackoff(attempt)
}

// Do executes fn with retry logic according to the policy. It retries only
// on errors deemed transient. Context cancellation stops retries immediately.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal executes fn returning a value with retry logic. Same semantics as
// Do but preserves the return value from the successful call.
func DoVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.applyDefaults()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		// Don't retry on context cancellation.
		if ctx.Err() != nil {
			return zero, lastErr
		}

		// Don't retry non-transient errors.
		if !p.ShouldRetry(lastErr) {
			return zero, lastErr
		}

		// Don't sleep after the last attempt.
		if attempt >= p.MaxAttempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr)
		}

		timer := time.NewTimer(p.delayFor(lastErr, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, lastErr
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
