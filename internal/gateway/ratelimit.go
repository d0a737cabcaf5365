package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/basket/taskdeck/internal/command"
)

// tokenBucket is a per-client rate limiter.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	lastAccess time.Time
}

func newTokenBucket(requestsPerMinute, burst int) *tokenBucket {
	now := time.Now()
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: float64(requestsPerMinute) / 60.0,
		lastRefill: now,
		lastAccess: now,
	}
}

func (tb *tokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.refillRate
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastRefill = now
	tb.lastAccess = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

func (tb *tokenBucket) last() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastAccess
}

// rateLimiter tracks one bucket per agent (falling back to client
// address for unidentified callers).
type rateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	rpm     int
	burst   int
}

func newRateLimiter(requestsPerMinute, burst int) *rateLimiter {
	if burst <= 0 {
		burst = 10
	}
	return &rateLimiter{
		buckets: make(map[string]*tokenBucket),
		rpm:     requestsPerMinute,
		burst:   burst,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	return rl.bucket(key).allow()
}

func (rl *rateLimiter) bucket(key string) *tokenBucket {
	rl.mu.RLock()
	tb, ok := rl.buckets[key]
	rl.mu.RUnlock()
	if ok {
		return tb
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if tb, ok = rl.buckets[key]; ok {
		return tb
	}
	tb = newTokenBucket(rl.rpm, rl.burst)
	rl.buckets[key] = tb
	return tb
}

// evictStale drops buckets idle longer than maxAge so unique client
// addresses cannot grow the map without bound.
func (rl *rateLimiter) evictStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	evicted := 0
	for key, tb := range rl.buckets {
		if tb.last().Before(cutoff) {
			delete(rl.buckets, key)
			evicted++
		}
	}
	return evicted
}

func (rl *rateLimiter) count() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.buckets)
}

// StartEviction runs periodic bucket eviction until ctx is canceled.
func (s *Server) StartEviction(ctx context.Context, interval, maxAge time.Duration) {
	if s.limiter == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.limiter.evictStale(maxAge); n > 0 {
					s.logger.Debug("rate limiter eviction", "evicted", n, "remaining", s.limiter.count())
				}
			}
		}
	}()
}

func rateKey(execCtx command.Context, r *http.Request) string {
	if execCtx.AgentID != "" {
		return execCtx.AgentID
	}
	return r.RemoteAddr
}

func (s *Server) allowRate(ctx context.Context, key string) bool {
	if s.limiter == nil {
		return true
	}
	if s.limiter.allow(key) {
		return true
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RateLimitRejects.Add(ctx, 1)
	}
	return false
}

func (s *Server) writeRateLimited(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	writeEnvelopeError(w, http.StatusTooManyRequests, "RATE_LIMIT_ERROR", "rate limit exceeded")
}
