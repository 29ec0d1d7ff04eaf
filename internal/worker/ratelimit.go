package worker

import (
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a token bucket.
type RateLimiter struct {
	lastUpdate time.Time
	rate       float64
	burst      int
	tokens     float64
	requests   int64
	rejected   int64
	mu         sync.Mutex
}

// NewRateLimiter creates a bucket refilled at rate tokens per second holding at most burst.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

// Allow takes one token if available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.requests++

	now := time.Now()
	rl.tokens = min(rl.tokens+now.Sub(rl.lastUpdate).Seconds()*rl.rate, float64(rl.burst))
	rl.lastUpdate = now

	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}

	rl.rejected++
	return false
}

// idleSince reports whether the bucket has been untouched since cutoff.
func (rl *RateLimiter) idleSince(cutoff time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.lastUpdate.Before(cutoff)
}

// RateLimitStats summarises a PerClientRateLimiter.
type RateLimitStats struct {
	Rate          float64 `json:"rate"`
	Burst         int     `json:"burst"`
	ActiveClients int     `json:"active_clients"`
	TotalRequests int64   `json:"total_requests"`
	TotalRejected int64   `json:"total_rejected"`
}

// PerClientRateLimiter keeps one bucket per client key.
type PerClientRateLimiter struct {
	lastCleanup     time.Time
	clients         map[string]*RateLimiter
	rate            float64
	burst           int
	cleanupInterval time.Duration
	maxIdleTime     time.Duration
	mu              sync.Mutex
}

// NewPerClientRateLimiter creates a per-client limiter.
func NewPerClientRateLimiter(rate float64, burst int) *PerClientRateLimiter {
	return &PerClientRateLimiter{
		rate:            rate,
		burst:           burst,
		clients:         make(map[string]*RateLimiter),
		cleanupInterval: 5 * time.Minute,
		maxIdleTime:     10 * time.Minute,
		lastCleanup:     time.Now(),
	}
}

func (pcrl *PerClientRateLimiter) getLimiter(key string) *RateLimiter {
	pcrl.mu.Lock()
	defer pcrl.mu.Unlock()

	if now := time.Now(); now.Sub(pcrl.lastCleanup) > pcrl.cleanupInterval {
		cutoff := now.Add(-pcrl.maxIdleTime)
		for k, limiter := range pcrl.clients {
			if limiter.idleSince(cutoff) {
				delete(pcrl.clients, k)
			}
		}
		pcrl.lastCleanup = now
	}

	limiter, ok := pcrl.clients[key]
	if !ok {
		limiter = NewRateLimiter(pcrl.rate, pcrl.burst)
		pcrl.clients[key] = limiter
	}
	return limiter
}

// Allow checks if a request from the given client should be allowed.
func (pcrl *PerClientRateLimiter) Allow(clientKey string) bool {
	return pcrl.getLimiter(clientKey).Allow()
}

// Stats returns aggregate statistics.
// Limiters are collected first so no bucket lock is taken under pcrl.mu.
func (pcrl *PerClientRateLimiter) Stats() RateLimitStats {
	pcrl.mu.Lock()
	stats := RateLimitStats{Rate: pcrl.rate, Burst: pcrl.burst, ActiveClients: len(pcrl.clients)}
	limiters := make([]*RateLimiter, 0, len(pcrl.clients))
	for _, limiter := range pcrl.clients {
		limiters = append(limiters, limiter)
	}
	pcrl.mu.Unlock()

	for _, limiter := range limiters {
		limiter.mu.Lock()
		stats.TotalRequests += limiter.requests
		stats.TotalRejected += limiter.rejected
		limiter.mu.Unlock()
	}
	return stats
}

// PerUserRateLimitMiddleware applies per-user rate limiting. Requests are keyed
// by the user id stored by RequireUser, falling back to the client address.
func PerUserRateLimitMiddleware(limiter *PerClientRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := GetUserID(r.Context())
			if clientKey == "" {
				clientKey = r.RemoteAddr
			}

			if !limiter.Allow(clientKey) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
