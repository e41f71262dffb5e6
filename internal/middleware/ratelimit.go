package middleware

import (
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyFunc extracts the rate limit key of a request. An empty key is not
// limited.
type KeyFunc func(r *http.Request) string

// RateLimiter is token bucket rate limiting keyed per request, used to cap
// task submissions per session.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*entry
	limit      rate.Limit
	burst      int
	key        KeyFunc
	maxEntries int
}

type entry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing perSecond sustained requests and
// burst requests at once for each key.
func NewRateLimiter(perSecond float64, burst int, key KeyFunc) *RateLimiter {
	return &RateLimiter{
		limiters:   make(map[string]*entry),
		limit:      rate.Limit(perSecond),
		burst:      burst,
		key:        key,
		maxEntries: 100000,
	}
}

// Handler returns middleware enforcing the limit.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		k := rl.key(r)
		if k == "" {
			next.ServeHTTP(w, r)
			return
		}

		res, ok := rl.reserve(k)
		if !ok {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(res.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// reserve takes a token for k. When none is available it returns how long
// the caller should wait.
func (rl *RateLimiter) reserve(k string) (time.Duration, bool) {
	now := time.Now()

	rl.mu.Lock()
	e, ok := rl.limiters[k]
	if !ok {
		if len(rl.limiters) >= rl.maxEntries {
			rl.mu.Unlock()
			return time.Second, false
		}
		e = &entry{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[k] = e
	}
	e.lastSeen = now
	rl.mu.Unlock()

	if e.lim.AllowN(now, 1) {
		return 0, true
	}
	r := e.lim.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	if wait < time.Second {
		wait = time.Second
	}
	return wait, false
}

// Forget drops the bucket of k, for example when its session ends.
func (rl *RateLimiter) Forget(k string) {
	rl.mu.Lock()
	delete(rl.limiters, k)
	rl.mu.Unlock()
}

// Cleanup removes buckets idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	for k, e := range rl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(rl.limiters, k)
		}
	}
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}
