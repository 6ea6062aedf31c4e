package auth

import (
	"context"
	"sync"
	"time"
)

// RateLimiter decides whether an authenticated caller may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, id *Identity) error
}

// WindowLimiter counts requests per subject and tier in fixed one-minute
// windows held in memory.
type WindowLimiter struct {
	tiers      map[string]int
	defaultRPM int
	now        func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	start time.Time
	count int
}

// NewWindowLimiter creates a limiter. tiers maps a tier name to its
// requests per minute; other tiers get defaultRPM. A limit of zero or less
// disables limiting.
func NewWindowLimiter(tiers map[string]int, defaultRPM int) *WindowLimiter {
	return &WindowLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		now:        time.Now,
		windows:    make(map[string]*window),
	}
}

// Allow returns ErrTooManyRequests once the caller exceeds its limit for
// the current window.
func (l *WindowLimiter) Allow(_ context.Context, id *Identity) error {
	tier := id.Tier
	if tier == "" {
		tier = DefaultTier
	}
	limit, ok := l.tiers[tier]
	if !ok {
		limit = l.defaultRPM
	}
	if limit <= 0 {
		return nil
	}

	key := tier + "/" + id.Subject
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= time.Minute {
		l.windows[key] = &window{start: now, count: 1}
		l.evict(now)
		return nil
	}
	w.count++
	if w.count > limit {
		return ErrTooManyRequests
	}
	return nil
}

// evict drops expired windows. Must be called with mu held.
func (l *WindowLimiter) evict(now time.Time) {
	for k, w := range l.windows {
		if now.Sub(w.start) >= time.Minute {
			delete(l.windows, k)
		}
	}
}
