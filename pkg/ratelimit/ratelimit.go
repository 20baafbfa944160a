package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a per-key sliding window counter.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string][]time.Time
	window  time.Duration
	maxHits int
	now     func() time.Time
}

func NewLimiter(window time.Duration, maxHits int) *Limiter {
	return &Limiter{
		limits:  make(map[string][]time.Time),
		window:  window,
		maxHits: maxHits,
		now:     time.Now,
	}
}

// prune drops hits outside the window and forgets keys with no hits left.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	windowStart := now.Add(-l.window)

	hits := l.limits[key]
	valid := hits[:0]
	for _, hit := range hits {
		if hit.After(windowStart) {
			valid = append(valid, hit)
		}
	}

	if len(valid) == 0 {
		delete(l.limits, key)
		return nil
	}
	l.limits[key] = valid
	return valid
}

// Allow records a hit for key and reports whether it fits in the window.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	hits := l.prune(key, now)
	if len(hits) >= l.maxHits {
		return false
	}

	l.limits[key] = append(hits, now)
	return true
}

// RetryAfter returns how long key must wait before its next hit is allowed.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	hits := l.prune(key, now)
	if len(hits) < l.maxHits {
		return 0
	}
	return hits[0].Add(l.window).Sub(now)
}
