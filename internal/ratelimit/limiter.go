// Package ratelimit provides a keyed token-bucket limiter used to protect
// the token exchange and stream subscribe endpoints.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// KeyedLimiter maintains one token bucket per key (client IP or principal
// id). Buckets are created on first use and live for the process lifetime.
type KeyedLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewKeyedLimiter constructs a limiter allowing perSecond sustained requests
// with the given burst per key.
func NewKeyedLimiter(perSecond float64, burst int) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow reports whether a request under the key may proceed right now.
func (l *KeyedLimiter) Allow(key string) bool {
	return l.limiterFor(key).Allow()
}

func (l *KeyedLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.RLock()
	limiter, ok := l.limiters[key]
	l.mu.RUnlock()
	if ok {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok = l.limiters[key]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(l.limit, l.burst)
	l.limiters[key] = limiter
	return limiter
}
