package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// RateLimiterStats tracks limiter decisions.
type RateLimiterStats struct {
	TotalRequests   int64 `json:"total_requests"`
	AllowedRequests int64 `json:"allowed_requests"`
	RateLimitedReqs int64 `json:"rate_limited_requests"`
	ActiveBuckets   int   `json:"active_buckets"`
}

// RateLimiter keeps one token bucket per client address. The number of
// tracked clients is bounded; the least recently seen are forgotten.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	buckets *lru.Cache[string, *rate.Limiter]

	total   atomic.Int64
	allowed atomic.Int64
	limited atomic.Int64
}

// NewRateLimiter allows requests per window with the given burst per client.
func NewRateLimiter(requests int, window time.Duration, burst, maxClients int) *RateLimiter {
	if maxClients <= 0 {
		maxClients = 10000
	}
	if burst <= 0 {
		burst = max(requests, 1)
	}
	buckets, _ := lru.New[string, *rate.Limiter](maxClients)
	return &RateLimiter{
		limit:   rate.Limit(float64(requests) / window.Seconds()),
		burst:   burst,
		buckets: buckets,
	}
}

// Allow reports whether the client may make a request now.
func (rl *RateLimiter) Allow(client string) bool {
	rl.total.Add(1)

	rl.mu.Lock()
	limiter, ok := rl.buckets.Get(client)
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.buckets.Add(client, limiter)
	}
	rl.mu.Unlock()

	if limiter.Allow() {
		rl.allowed.Add(1)
		return true
	}
	rl.limited.Add(1)
	return false
}

// Stats returns the current counters.
func (rl *RateLimiter) Stats() RateLimiterStats {
	return RateLimiterStats{
		TotalRequests:   rl.total.Load(),
		AllowedRequests: rl.allowed.Load(),
		RateLimitedReqs: rl.limited.Load(),
		ActiveBuckets:   rl.buckets.Len(),
	}
}

// Middleware rejects over-limit clients with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientIP(r)) {
			retry := time.Duration(float64(time.Second) / float64(rl.limit))
			w.Header().Set("Retry-After", strconv.Itoa(max(int(retry.Seconds()), 1)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP picks the first forwarded address, else the connection's peer.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
