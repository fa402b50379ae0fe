// Package ratelimit provides a token bucket limiter for outbound API
// calls. Proctoring vendors throttle per-integration, and a blocked
// integration takes every active exam session down with it, so the
// client side stays under the vendor's limit instead of discovering it.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter implements a token bucket with a minimum spacing between
// requests. Safe for concurrent use.
type Limiter struct {
	mu sync.Mutex

	maxTokens   float64
	refillRate  float64 // tokens per second
	tokens      float64
	lastRefill  time.Time
	minInterval time.Duration
	lastRequest time.Time
	waitTimeout time.Duration
}

// Config contains configuration for a Limiter.
type Config struct {
	// RequestsPerSecond is the sustained request rate.
	RequestsPerSecond float64

	// BurstSize is how many requests may go out back to back.
	BurstSize int

	// MinInterval is the floor on spacing between requests, enforced
	// even when tokens are available.
	MinInterval time.Duration

	// WaitTimeout bounds how long Allow blocks for a token.
	WaitTimeout time.Duration
}

// DefaultConfig returns defaults suited to vendor session APIs: most
// calls are one-per-attempt, with bursts when a sweep times out a batch.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10.0,
		BurstSize:         20,
		MinInterval:       20 * time.Millisecond,
		WaitTimeout:       15 * time.Second,
	}
}

// New creates a Limiter. The bucket starts full so the first burst is
// not penalized.
func New(config Config) *Limiter {
	now := time.Now()
	return &Limiter{
		maxTokens:   float64(config.BurstSize),
		refillRate:  config.RequestsPerSecond,
		tokens:      float64(config.BurstSize),
		lastRefill:  now,
		minInterval: config.MinInterval,
		lastRequest: now.Add(-config.MinInterval),
		waitTimeout: config.WaitTimeout,
	}
}

// LimitError is returned when a token could not be acquired in time.
type LimitError struct {
	// RetryAfter is the suggested wait before the next attempt.
	RetryAfter time.Duration

	Message string
}

func (e *LimitError) Error() string { return e.Message }

// Is lets errors.Is match any LimitError.
func (e *LimitError) Is(target error) bool {
	_, ok := target.(*LimitError)
	return ok
}

// ErrLimitExceeded is the sentinel for errors.Is checks.
var ErrLimitExceeded = &LimitError{Message: "rate limit exceeded"}

// Allow blocks until a token is available, the context is cancelled, or
// the wait timeout elapses.
func (l *Limiter) Allow(ctx context.Context) error {
	deadline := time.Now().Add(l.waitTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		wait, ok := l.tryAcquire()
		if ok {
			return nil
		}

		if time.Now().Add(wait).After(deadline) {
			return &LimitError{
				RetryAfter: wait,
				Message:    "rate limit exceeded, retry after " + wait.String(),
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// TryAllow acquires a token without blocking.
func (l *Limiter) TryAllow() bool {
	_, ok := l.tryAcquire()
	return ok
}

// tryAcquire consumes a token if one is available. On failure the
// returned duration says how long to wait before retrying.
func (l *Limiter) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()

	sinceLast := time.Since(l.lastRequest)
	if sinceLast < l.minInterval {
		return l.minInterval - sinceLast, false
	}

	if l.tokens < 1.0 {
		needed := 1.0 - l.tokens
		return time.Duration(needed / l.refillRate * float64(time.Second)), false
	}

	l.tokens--
	l.lastRequest = time.Now()
	return 0, true
}

// refill adds tokens for the elapsed time. Caller holds the lock.
func (l *Limiter) refill() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	l.tokens += elapsed * l.refillRate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastRefill = now
}

// RecordThrottle empties the bucket after the remote API returned a 429.
// When the response carried a Retry-After, the bucket stays empty for
// that long by backdating the refill clock.
func (l *Limiter) RecordThrottle(retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens = 0
	l.lastRequest = time.Now()
	l.lastRefill = time.Now()
	if retryAfter > 0 {
		l.lastRefill = l.lastRefill.Add(retryAfter)
	}
}

// Status is a point-in-time snapshot, used by health endpoints.
type Status struct {
	AvailableTokens float64
	MaxTokens       float64
	RefillRate      float64
	LastRequest     time.Time
}

// Status reports the limiter's current state.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()

	return Status{
		AvailableTokens: l.tokens,
		MaxTokens:       l.maxTokens,
		RefillRate:      l.refillRate,
		LastRequest:     l.lastRequest,
	}
}
