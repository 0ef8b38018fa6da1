package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterPool hands out one token bucket per client key.
type limiterPool struct {
	mu      sync.Mutex
	m       map[string]*limiterEntry
	rps     rate.Limit
	burst   int
	now     func() time.Time
	lastGC  time.Time
	idleTTL time.Duration
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &limiterPool{
		m:       make(map[string]*limiterEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		idleTTL: limiterIdleTTL,
	}
}

func (p *limiterPool) allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Sub(p.lastGC) > p.idleTTL {
		for k, e := range p.m {
			if now.Sub(e.lastSeen) > p.idleTTL {
				delete(p.m, k)
			}
		}
		p.lastGC = now
	}

	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(p.rps, p.burst)}
		p.m[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// RateLimit rejects requests beyond rps per client address with 429.
// Run it after chi's RealIP so proxied clients are keyed correctly.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	return rateLimit(newLimiterPool(rps, burst))
}

func rateLimit(pool *limiterPool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			if !pool.allow(key) {
				slog.Warn("Rate limit exceeded", "client", key, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"too many requests"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
