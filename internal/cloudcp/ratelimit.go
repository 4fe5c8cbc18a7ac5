package cloudcp

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rcourtman/clubcloud/internal/cloudcp/auditlog"
)

const (
	defaultCPRateLimit  = 120
	defaultCPRateWindow = time.Minute
)

// CPRateLimiter provides simple IP-based sliding-window rate limiting for
// control plane endpoints.
type CPRateLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

// NewCPRateLimiter creates a rate limiter with the given limit per window.
func NewCPRateLimiter(limit int, window time.Duration) *CPRateLimiter {
	if limit <= 0 {
		limit = defaultCPRateLimit
	}
	if window <= 0 {
		window = defaultCPRateWindow
	}
	return &CPRateLimiter{
		attempts: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow checks whether the given IP is within the rate limit. When it is
// not, the returned duration is how long until its oldest attempt leaves
// the window.
func (rl *CPRateLimiter) Allow(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	valid := rl.recent(ip, now.Add(-rl.window))

	if len(valid) >= rl.limit {
		rl.attempts[ip] = valid
		return false, valid[0].Add(rl.window).Sub(now)
	}

	rl.attempts[ip] = append(valid, now)
	return true, 0
}

// Prune drops IPs with no attempts inside the window and returns how many
// remain tracked.
func (rl *CPRateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	for ip := range rl.attempts {
		if valid := rl.recent(ip, cutoff); len(valid) == 0 {
			delete(rl.attempts, ip)
		} else {
			rl.attempts[ip] = valid
		}
	}
	return len(rl.attempts)
}

// recent filters ip's attempts to those after cutoff. Callers hold mu.
func (rl *CPRateLimiter) recent(ip string, cutoff time.Time) []time.Time {
	valid := rl.attempts[ip][:0]
	for _, t := range rl.attempts[ip] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}

// Middleware wraps an http.Handler with rate limiting.
func (rl *CPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ok, wait := rl.Allow(auditlog.ClientIP(r)); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeJSON(w, http.StatusTooManyRequests, apiError{Error: "too many requests", Code: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
