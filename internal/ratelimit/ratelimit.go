// Package ratelimit implements the per-client token bucket limiter the
// HTTP gateway applies before accepting a run submission. Thread-safe.
// No background goroutines: tokens refill lazily on each Allow call and
// idle buckets are swept opportunistically.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a client has exhausted its token bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config configures the token bucket limiter.
type Config struct {
	RequestsPerMinute int // Tokens added per minute. 0 = unlimited (Allow always succeeds).
	BurstSize         int // Maximum tokens in a bucket. 0 = defaults to RequestsPerMinute.
}

// Buckets untouched for this long are dropped on the next sweep. Keys are
// client IPs, so the map would otherwise grow without bound.
const idleExpiry = 10 * time.Minute

// Limiter hands out tokens per client key. Each key gets an independent
// bucket; one client cannot exhaust another's quota.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   float64
	sweepAt time.Time
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewLimiter creates a limiter from the given configuration. With
// RequestsPerMinute of 0, Allow always succeeds.
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    float64(cfg.RequestsPerMinute) / 60.0,
		burst:   float64(burst),
	}
}

// Allow consumes one token from the client's bucket. Returns
// ErrRateLimited when the bucket is empty.
func (l *Limiter) Allow(clientKey string) error {
	if l.rate <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.maybeSweep(now)

	b, ok := l.buckets[clientKey]
	if !ok {
		// First request starts with a full bucket.
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[clientKey] = b
	}

	b.tokens += now.Sub(b.lastFill).Seconds() * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastFill = now

	if b.tokens < 1 {
		return ErrRateLimited
	}
	b.tokens--
	return nil
}

// maybeSweep drops buckets that have been idle past expiry. Runs at most
// once per expiry interval. Caller holds the mutex.
func (l *Limiter) maybeSweep(now time.Time) {
	if now.Sub(l.sweepAt) < idleExpiry {
		return
	}
	l.sweepAt = now
	for key, b := range l.buckets {
		if now.Sub(b.lastFill) >= idleExpiry {
			delete(l.buckets, key)
		}
	}
}
