// Package ratelimit provides a token bucket limiter for outbound API calls.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter implements a token bucket rate limiter. All state lives in the
// struct; callers share a limiter by passing the same instance.
type Limiter struct {
	mu sync.Mutex

	// Configuration
	requestsPerMinute int
	windowSeconds     float64

	// Token bucket state
	tokens     float64
	lastUpdate time.Time

	// Statistics
	totalConsumed int64
	totalWaited   time.Duration
	last429Time   time.Time
}

// Status reports current limiter state.
type Status struct {
	TokensAvailable int
	TokensLimit     int
	Utilization     float64
	TimeUntilToken  time.Duration
	TotalConsumed   int64
	TotalWaited     time.Duration
	Last429Time     time.Time
}

// New creates a limiter allowing requestsPerMinute calls per minute.
func New(requestsPerMinute int) *Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60 // Default
	}
	return &Limiter{
		requestsPerMinute: requestsPerMinute,
		windowSeconds:     60.0,
		tokens:            float64(requestsPerMinute),
		lastUpdate:        time.Now(),
	}
}

// Wait blocks until a token is available or context is cancelled.
// A nil receiver never blocks, so an unconfigured limiter is a no-op.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	for {
		l.mu.Lock()
		l.refill()

		if l.tokens >= 1.0 {
			l.tokens--
			l.totalConsumed++
			l.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		tokensNeeded := 1.0 - l.tokens
		refillRate := float64(l.requestsPerMinute) / l.windowSeconds
		waitTime := time.Duration(tokensNeeded/refillRate*1000) * time.Millisecond
		l.mu.Unlock()

		// Wait outside lock
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
			l.mu.Lock()
			l.totalWaited += waitTime
			l.mu.Unlock()
		}
	}
}

// TryConsume attempts to consume a token without blocking.
// Returns true if successful, false if no tokens available.
func (l *Limiter) TryConsume() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()

	if l.tokens >= 1.0 {
		l.tokens--
		l.totalConsumed++
		return true
	}
	return false
}

// Record429 should be called when a 429 error is received.
// Drains the bucket when the server supplied a Retry-After hint.
func (l *Limiter) Record429(retryAfter time.Duration) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.last429Time = time.Now()
	if retryAfter > 0 {
		l.tokens = 0
	}
}

// Status returns current limiter status.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()

	utilization := 1.0 - (l.tokens / float64(l.requestsPerMinute))
	if utilization < 0 {
		utilization = 0
	}

	var timeUntilToken time.Duration
	if l.tokens < 1.0 {
		tokensNeeded := 1.0 - l.tokens
		refillRate := float64(l.requestsPerMinute) / l.windowSeconds
		timeUntilToken = time.Duration(tokensNeeded/refillRate*1000) * time.Millisecond
	}

	return Status{
		TokensAvailable: int(l.tokens),
		TokensLimit:     l.requestsPerMinute,
		Utilization:     utilization,
		TimeUntilToken:  timeUntilToken,
		TotalConsumed:   l.totalConsumed,
		TotalWaited:     l.totalWaited,
		Last429Time:     l.last429Time,
	}
}

// refill adds tokens based on elapsed time. Must be called with lock held.
func (l *Limiter) refill() {
	now := time.Now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now

	refillRate := float64(l.requestsPerMinute) / l.windowSeconds
	l.tokens += elapsed * refillRate

	// Cap at max
	if l.tokens > float64(l.requestsPerMinute) {
		l.tokens = float64(l.requestsPerMinute)
	}
}
