package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of one Allow call for a key.
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long the caller should wait before the window resets.
// It never goes below zero.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int) Decision
}

// InMemoryLimiter is a fixed-window counter per key, local to the process.
type InMemoryLimiter struct {
	mu     sync.Mutex
	window time.Duration
	items  map[string]window
	now    func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

func NewInMemory(w time.Duration) *InMemoryLimiter {
	if w <= 0 {
		w = time.Minute
	}
	return &InMemoryLimiter{
		window: w,
		items:  make(map[string]window),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *InMemoryLimiter) Allow(_ context.Context, key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)
	curr, ok := l.items[key]
	if !ok || !now.Before(curr.resetAt) {
		curr = window{resetAt: now.Add(l.window)}
	}
	curr.count++
	l.items[key] = curr
	return decide(curr.count, limit, curr.resetAt)
}

func (l *InMemoryLimiter) sweep(now time.Time) {
	for k, v := range l.items {
		if !now.Before(v.resetAt) {
			delete(l.items, k)
		}
	}
}

func decide(count, limit int, resetAt time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
