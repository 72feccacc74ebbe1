// Package ratelimit implements the per-identity sliding 60-second window
// admission limiter from §4.4. The shape (Decision, Limiter interface,
// in-memory + Redis implementations with fallback) is grounded on the
// teacher's pkg/ratelimit, but the teacher's fixed-window INCR+PEXPIRE
// counter is replaced with a true sliding window: a ring of admission
// timestamps per identity, evicted on every check, where rejections never
// consume a slot.
package ratelimit

import (
	"sync"
	"time"
)

const Window = 60 * time.Second

type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter is the admission check + append, atomic per identity (§4.4).
type Limiter interface {
	Allow(key string, limit int) Decision
}

type InMemoryLimiter struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[string][]time.Time
}

func NewInMemory() *InMemoryLimiter {
	return &InMemoryLimiter{now: time.Now, items: make(map[string][]time.Time)}
}

// NewInMemoryWithClock is NewInMemory with an injected clock.
func NewInMemoryWithClock(now func() time.Time) *InMemoryLimiter {
	return &InMemoryLimiter{now: now, items: make(map[string][]time.Time)}
}

// Allow evicts timestamps older than the 60s window, then admits only if
// the remaining count is still under limit — matching §4.2 step 2 exactly:
// evict, check, and only append on success.
func (l *InMemoryLimiter) Allow(key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	now := l.now().UTC()
	cutoff := now.Add(-Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.items[key]
	kept := stamps[:0]
	for _, t := range stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	count := len(kept)
	allowed := count < limit
	if allowed {
		kept = append(kept, now)
		count++
	}
	if len(kept) == 0 {
		delete(l.items, key)
	} else {
		l.items[key] = kept
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	resetAt := now.Add(Window)
	if len(kept) > 0 {
		resetAt = kept[0].Add(Window)
	}
	return Decision{
		Allowed:   allowed,
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
