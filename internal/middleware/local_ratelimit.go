package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	localSweepInterval = time.Minute
	localIdleTimeout   = 3 * time.Minute
)

type localClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalRateLimiter is a per-process token bucket used when Redis is switched off.
type LocalRateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn func(r *http.Request) string

	mu      sync.Mutex
	clients map[string]*localClient
	now     func() time.Time
}

func NewLocalRateLimiter(rps float64, burst int, keyFn func(r *http.Request) string) *LocalRateLimiter {
	if keyFn == nil {
		keyFn = CallerKey
	}
	return &LocalRateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		clients: make(map[string]*localClient),
		now:     time.Now,
	}
}

// Run evicts idle clients until ctx is done.
func (l *LocalRateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(localSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *LocalRateLimiter) sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	cutoff := l.now().Add(-localIdleTimeout)
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

func (l *LocalRateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[key]
	if !ok {
		c = &localClient{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = l.now()
	return c.limiter.AllowN(c.lastSeen, 1)
}

func (l *LocalRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(l.keyFn(r)) {
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
