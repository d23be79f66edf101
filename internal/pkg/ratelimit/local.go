package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter is an in-process token bucket per scope and key.
// Used when Redis is not configured; limits are per instance.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter allows attempts per window, refilling evenly.
func NewLocalLimiter(attempts int, window time.Duration) *LocalLimiter {
	if attempts <= 0 {
		attempts = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &LocalLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Every(window / time.Duration(attempts)),
		burst:    attempts,
		idleTTL:  2 * window,
		now:      time.Now,
	}
}

func (l *LocalLimiter) Consume(_ context.Context, scope, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	id := scope + ":" + key
	e, ok := l.limiters[id]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[id] = e
	}
	e.lastSeen = now
	res := e.limiter.ReserveN(now, 1)
	l.mu.Unlock()

	delay := res.DelayFrom(now)
	if delay > 0 {
		res.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true}, nil
}

// Prune drops buckets not seen within the idle TTL.
func (l *LocalLimiter) Prune() int {
	cutoff := l.now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, id)
			removed++
		}
	}
	return removed
}
