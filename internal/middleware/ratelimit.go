// Package middleware provides handler-independent HTTP middleware for the
// orchestration API. Plan creation and correction requests are cheap to
// issue and expensive to execute, so the surface carries per-client rate
// limiting.
package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"
)

// maxTrackedClients caps the bucket map so an address scan cannot grow it
// without bound. New clients past the cap are rejected until cleanup runs.
const maxTrackedClients = 100000

// RateLimiter applies a token bucket per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // sustained requests per second
	burst   int     // bucket capacity
}

type bucket struct {
	tokens     float64
	refilledAt time.Time
	lastSeen   time.Time
}

// refill credits tokens for the time elapsed since the last refill,
// clamped at the burst capacity.
func (b *bucket) refill(now time.Time, rate float64, burst int) {
	b.tokens = math.Min(b.tokens+now.Sub(b.refilledAt).Seconds()*rate, float64(burst))
	b.refilledAt = now
	b.lastSeen = now
}

// NewRateLimiter creates a limiter with the given sustained per-IP rate
// (requests per second) and burst allowance, both from the server config.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
	}
}

// Handler returns middleware enforcing the per-IP limit. Rejections carry
// Retry-After so well-behaved orchestration clients can back off exactly.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, retryAfter, allowed := rl.allow(realIP(r))

		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(time.Second).Unix()))

		if !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(retryAfter)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// allow consumes one token for ip if available. It returns the remaining
// tokens, the seconds until the next token when denied, and the verdict.
func (rl *RateLimiter) allow(ip string) (remaining int, retryAfter float64, allowed bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[ip]
	if !ok {
		if len(rl.buckets) >= maxTrackedClients {
			return 0, 1.0 / rl.rate, false
		}
		b = &bucket{tokens: float64(rl.burst), refilledAt: now, lastSeen: now}
		rl.buckets[ip] = b
	} else {
		b.refill(now, rl.rate, rl.burst)
	}

	if b.tokens < 1 {
		return 0, (1 - b.tokens) / rl.rate, false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// StartCleanup spawns a goroutine that drops buckets idle longer than
// maxIdle, checking every interval. The returned function stops it.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

// Len returns the number of tracked client buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// realIP takes the client address from RemoteAddr only. Forwarding headers
// are spoofable and would let a single client sidestep its bucket.
func realIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
