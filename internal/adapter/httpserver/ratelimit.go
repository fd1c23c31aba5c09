package httpserver

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/speakeasy-api/clerk-gate/internal/adapter/metrics"
)

const (
	// limiterIdleTTL is how long a key may stay silent before its bucket is
	// dropped. It is never shorter than the bucket refill time, so a
	// dropped bucket would have been full anyway.
	limiterIdleTTL = 5 * time.Minute
	// limiterSweepInterval spaces out full scans of the bucket map.
	limiterSweepInterval = time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// keyRateLimiter provides per-key rate limiting using token buckets. Keys
// are client IPs; idle buckets are swept from Allow.
type keyRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	rate      rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newKeyRateLimiter(reqPerMinute float64) *keyRateLimiter {
	burst := int(reqPerMinute / 6) // 10 seconds worth
	if burst < 1 {
		burst = 1
	}
	perSecond := reqPerMinute / 60 // convert per-minute to per-second

	idleTTL := limiterIdleTTL
	if refill := time.Duration(float64(burst) / perSecond * float64(time.Second)); refill > idleTTL {
		idleTTL = refill
	}

	return &keyRateLimiter{
		limiters:  make(map[string]*limiterEntry),
		rate:      rate.Limit(perSecond),
		burst:     burst,
		idleTTL:   idleTTL,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Allow checks if the given key is within its rate limit.
func (l *keyRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) >= limiterSweepInterval {
		l.sweep(now)
	}
	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()
	return entry.limiter.Allow()
}

// sweep drops buckets idle for longer than idleTTL. Callers hold mu.
func (l *keyRateLimiter) sweep(now time.Time) {
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.idleTTL {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}

// Len reports how many buckets are held.
func (l *keyRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// RetryAfter returns an estimate of when the next request will be allowed.
func (l *keyRateLimiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	entry, ok := l.limiters[key]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	reservation := entry.limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return delay
}

// ipRateLimiter is chi middleware that rate limits by client IP.
type ipRateLimiter struct {
	inner *keyRateLimiter
}

func newIPRateLimiter(reqPerMinute float64) *ipRateLimiter {
	return &ipRateLimiter{inner: newKeyRateLimiter(reqPerMinute)}
}

// Middleware returns a chi-compatible middleware that rate limits by IP.
func (l *ipRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.inner.Allow(ip) {
			retryAfter := l.inner.RetryAfter(ip)
			metrics.RateLimitRejectedTotal.Inc()
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())+1))
			writeMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the caller address without its port. chi's RealIP has
// already replaced RemoteAddr when a proxy header was present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
