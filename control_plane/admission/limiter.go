package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter defines the interface for rate limiting.
type RateLimiter interface {
	Allow(key string) bool
}

// TokenBucketLimiter keeps one token bucket per client key.
type TokenBucketLimiter struct {
	limiters map[string]*bucket
	mu       sync.Mutex
	r        rate.Limit
	b        int
	idleTTL  time.Duration
	lastGC   time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTokenBucketLimiter creates a new limiter with rate r tokens per second and burst b.
func NewTokenBucketLimiter(r float64, b int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		limiters: make(map[string]*bucket),
		r:        rate.Limit(r),
		b:        b,
		idleTTL:  10 * time.Minute,
		lastGC:   time.Now(),
	}
}

// Allow checks if the key is allowed to proceed.
func (l *TokenBucketLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.gc(now)

	bk, exists := l.limiters[key]
	if !exists {
		bk = &bucket{limiter: rate.NewLimiter(l.r, l.b)}
		l.limiters[key] = bk
	}
	bk.lastSeen = now
	return bk.limiter.AllowN(now, 1)
}

// Reserve checks permission and returns the wait when the limit is exceeded.
func (l *TokenBucketLimiter) Reserve(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.gc(now)

	bk, exists := l.limiters[key]
	if !exists {
		bk = &bucket{limiter: rate.NewLimiter(l.r, l.b)}
		l.limiters[key] = bk
	}
	bk.lastSeen = now

	r := bk.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}

// gc drops buckets idle for longer than idleTTL. Caller holds mu.
func (l *TokenBucketLimiter) gc(now time.Time) {
	if now.Sub(l.lastGC) < l.idleTTL {
		return
	}
	for key, bk := range l.limiters {
		if now.Sub(bk.lastSeen) > l.idleTTL {
			delete(l.limiters, key)
		}
	}
	l.lastGC = now
}
