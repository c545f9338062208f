// Package ratelimit provides a keyed token-bucket limiter: one
// golang.org/x/time/rate.Limiter per subject (login name, user id, ...),
// created lazily and reused across calls.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Keyed maps arbitrary string keys to independent token buckets sharing the
// same rate and burst.
type Keyed struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perMin   int
	burst    int
}

// NewKeyed builds a Keyed limiter refilling at perMin tokens per minute with
// the given burst capacity.
func NewKeyed(perMin, burst int) *Keyed {
	if burst <= 0 {
		burst = perMin
	}
	return &Keyed{
		limiters: make(map[string]*rate.Limiter),
		perMin:   perMin,
		burst:    burst,
	}
}

func (k *Keyed) limiterFor(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	limiter, ok := k.limiters[key]
	if !ok {
		limit := rate.Every(time.Minute / time.Duration(k.perMin))
		limiter = rate.NewLimiter(limit, k.burst)
		k.limiters[key] = limiter
	}
	return limiter
}

// Allow reports whether an event for key may proceed now.
func (k *Keyed) Allow(key string) bool {
	return k.limiterFor(key).Allow()
}

// RetryAfter returns how long the caller should wait before the next token
// is available for key, assuming one unit of demand.
func (k *Keyed) RetryAfter(key string) time.Duration {
	reservation := k.limiterFor(key).Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return delay
}

// Forget drops the limiter state for key, e.g. after prolonged inactivity.
func (k *Keyed) Forget(key string) {
	k.mu.Lock()
	delete(k.limiters, key)
	k.mu.Unlock()
}
