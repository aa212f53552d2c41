// Package ratelimit caps chat requests per client. The in-memory limiter
// keeps a token bucket per client key; the Redis limiter keeps a sliding
// one-minute window shared by all gateway replicas.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter reports whether the client identified by key may make another
// request under a budget of limit requests per minute.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int) (allowed bool, remaining int, resetAt time.Time, err error)
}

const (
	defaultIdleTTL = 10 * time.Minute
	sweepEvery     = 1024
)

type bucket struct {
	limiter  *rate.Limiter
	limit    int
	lastSeen time.Time
}

type InMemoryRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	idleTTL time.Duration
	calls   int
	now     func() time.Time
}

func NewInMemoryRateLimiter() *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		buckets: make(map[string]*bucket),
		idleTTL: defaultIdleTTL,
		now:     time.Now,
	}
}

func (r *InMemoryRateLimiter) Allow(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	if limit <= 0 {
		return true, 0, time.Time{}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.maybeSweep(now)

	b, ok := r.buckets[key]
	if !ok || b.limit != limit {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(limit)), limit),
			limit:   limit,
		}
		r.buckets[key] = b
	}
	b.lastSeen = now

	interval := time.Minute / time.Duration(limit)

	if !b.limiter.AllowN(now, 1) {
		tokens := b.limiter.TokensAt(now)
		wait := time.Duration((1 - tokens) * float64(interval))
		return false, 0, now.Add(wait), nil
	}

	tokens := b.limiter.TokensAt(now)
	remaining := int(tokens)
	if remaining < 0 {
		remaining = 0
	}
	refill := time.Duration((float64(limit) - tokens) * float64(interval))
	return true, remaining, now.Add(refill), nil
}

// maybeSweep drops buckets idle for longer than idleTTL. Called with mu held.
func (r *InMemoryRateLimiter) maybeSweep(now time.Time) {
	r.calls++
	if r.calls%sweepEvery != 0 {
		return
	}
	for key, b := range r.buckets {
		if now.Sub(b.lastSeen) > r.idleTTL {
			delete(r.buckets, key)
		}
	}
}

func (r *InMemoryRateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}
