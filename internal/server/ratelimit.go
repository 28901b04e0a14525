// ABOUTME: Per app and shop rate limiting of signed registration requests
// ABOUTME: One token bucket per key, reset wholesale when the key set grows too large

package server

import (
	"sync"

	"golang.org/x/time/rate"
)

const maxLimiterKeys = 10000

type registrationLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// newRegistrationLimiter returns nil, which allows everything, when perSecond is 0.
func newRegistrationLimiter(perSecond float64) *registrationLimiter {
	if perSecond <= 0 {
		return nil
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &registrationLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

// allow is only called once the app signature has verified, so callers
// without the app secret cannot drain a shop's bucket.
func (l *registrationLimiter) allow(appKey, shopID string) bool {
	if l == nil {
		return true
	}
	key := appKey + "|" + shopID

	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= maxLimiterKeys {
			l.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}
