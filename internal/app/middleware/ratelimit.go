package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimiter applies a sliding-window request limit per client IP.
type RateLimiter struct {
	clients map[string]*clientLimit
	mu      sync.Mutex
	logger  *zap.Logger
	now     func() time.Time

	maxRequests int
	window      time.Duration
}

type clientLimit struct {
	requests []time.Time
	lastSeen time.Time
	// active counts open long-lived connections; such clients are never swept.
	active int
}

// NewRateLimiter creates a rate limiter. Stale clients are swept until ctx is done.
func NewRateLimiter(ctx context.Context, logger *zap.Logger, maxRequests int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients:     make(map[string]*clientLimit),
		logger:      logger,
		now:         time.Now,
		maxRequests: maxRequests,
		window:      window,
	}
	go rl.cleanup(ctx, window*2)
	return rl
}

func (rl *RateLimiter) cleanup(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for id, cl := range rl.clients {
		if cl.active == 0 && now.Sub(cl.lastSeen) > rl.window*2 {
			delete(rl.clients, id)
		}
	}
}

// Allow records a request from clientID and reports whether it fits in the window.
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cl, ok := rl.clients[clientID]
	if !ok {
		cl = &clientLimit{requests: make([]time.Time, 0, rl.maxRequests)}
		rl.clients[clientID] = cl
	}
	cl.lastSeen = now

	cutoff := now.Add(-rl.window)
	kept := cl.requests[:0]
	for _, t := range cl.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	cl.requests = kept

	if len(cl.requests) >= rl.maxRequests {
		rl.logger.Warn("Rate limit exceeded",
			zap.String("client_id", clientID),
			zap.Int("requests", len(cl.requests)),
			zap.Int("max_requests", rl.maxRequests),
			zap.Duration("window", rl.window))
		return false
	}
	cl.requests = append(cl.requests, now)
	return true
}

func (rl *RateLimiter) markActive(clientID string, delta int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if cl, ok := rl.clients[clientID]; ok {
		cl.active += delta
		cl.lastSeen = rl.now()
	}
}

// Clients is the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// RateLimitMiddleware rejects requests over the limit with 429. Long-lived handlers such as
// websocket upgrades keep their client pinned until they return.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.ClientIP()
		if !rl.Allow(clientID) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			return
		}

		rl.markActive(clientID, 1)
		defer rl.markActive(clientID, -1)
		c.Next()
	}
}
