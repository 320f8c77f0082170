package api

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter hands out one token-bucket limiter per authenticated user.
// Entries idle past the eviction window are dropped to bound memory.
type userLimiter struct {
	perMinute int

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

const limiterEviction = 30 * time.Minute

func newUserLimiter(perMinute int) *userLimiter {
	return &userLimiter{
		perMinute: perMinute,
		limiters:  make(map[string]*limiterEntry),
	}
}

func (u *userLimiter) allow(userID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	e, ok := u.limiters[userID]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(u.perMinute)), u.perMinute)}
		u.limiters[userID] = e
	}
	e.lastSeen = time.Now()

	if len(u.limiters) > 1000 {
		u.evictLocked()
	}
	return e.lim.Allow()
}

func (u *userLimiter) evictLocked() {
	cutoff := time.Now().Add(-limiterEviction)
	for id, e := range u.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(u.limiters, id)
		}
	}
}

// RateLimit enforces a per-user request rate on the wrapped routes. Zero or
// negative perMinute disables the limit.
func RateLimit(perMinute int) func(http.Handler) http.Handler {
	limiter := newUserLimiter(perMinute)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if perMinute <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			if !limiter.allow(UserID(r)) {
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
