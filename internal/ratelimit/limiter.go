// Package ratelimit implements the fixed-window rate limiter of spec.md
// §4.2: a bucket per opaque key, lazily reset once its window elapses.
package ratelimit

import (
	"sync"
	"time"

	"github.com/ulule/limiter/v3"
)

// Limiter is a fixed-window counter keyed by an opaque string.
type Limiter struct {
	window time.Duration
	max    int64

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	count   int64
	resetAt time.Time
}

// NewLimiter builds a Limiter with an explicit window and request cap.
func NewLimiter(window time.Duration, maxRequests int64) *Limiter {
	return &Limiter{
		window:  window,
		max:     maxRequests,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// NewLimiterFromFormatted builds a Limiter from the teacher's "<n>-<unit>"
// shorthand (e.g. "20-M" = 20 per minute), reusing ulule/limiter's rate
// string parser for the format itself. See DESIGN.md for why the bucket
// algorithm below is hand-rolled rather than delegated to that library.
func NewLimiterFromFormatted(formatted string) (*Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}
	return NewLimiter(rate.Period, rate.Limit), nil
}

// Allow reports whether key may proceed under the current window, mutating
// the bucket as a side effect: a fresh or expired bucket is (re)armed with
// count=1, an live bucket under max has its count incremented, and one at
// max is rejected without being touched further.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.After(b.resetAt) {
		l.buckets[key] = &bucket{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	if b.count >= l.max {
		return false
	}
	b.count++
	return true
}

// Remaining reports how many requests key may still make in its current
// window, without mutating any bucket.
func (l *Limiter) Remaining(key string) int64 {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.After(b.resetAt) {
		return l.max
	}
	remaining := l.max - b.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Cleanup removes buckets whose window has already elapsed. Intended to be
// invoked by a scheduled scavenger (every 60s per spec.md §4.2); exported
// directly so callers can also invoke it synchronously in tests.
func (l *Limiter) Cleanup() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		if now.After(b.resetAt) {
			delete(l.buckets, key)
		}
	}
}

// Len reports the number of tracked buckets, for tests and diagnostics.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
