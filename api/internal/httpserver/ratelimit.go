package httpserver

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipEntry
	rate     rate.Limit
	burst    int
	idle     time.Duration
	lastGC   time.Time
}

type ipEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPRateLimiter{
		limiters: make(map[string]*ipEntry),
		rate:     rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
		lastGC:   time.Now(),
	}
}

func (i *IPRateLimiter) Allow(ip string) bool {
	now := time.Now()
	i.mu.Lock()
	defer i.mu.Unlock()

	if now.Sub(i.lastGC) > i.idle {
		for k, e := range i.limiters {
			if now.Sub(e.seen) > i.idle {
				delete(i.limiters, k)
			}
		}
		i.lastGC = now
	}

	e, ok := i.limiters[ip]
	if !ok {
		e = &ipEntry{lim: rate.NewLimiter(i.rate, i.burst)}
		i.limiters[ip] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

func (i *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !i.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP relies on middleware.RealIP having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
