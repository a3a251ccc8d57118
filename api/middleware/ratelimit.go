package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/Ivory-cocoa/invoice-qr-scanner/config"
	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
)

const (
	limiterIdleTTL       = time.Hour
	limiterPruneInterval = 5 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds one token bucket per caller identity.
type limiterSet struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
}

func (s *limiterSet) get(identity string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[identity]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[identity] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (s *limiterSet) prune(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(s.entries, id)
		}
	}
}

// RateLimit returns per-identity token-bucket rate limiting middleware. The
// identity is the authenticated organization and user, or the client IP when
// Auth has not run. A rate of zero disables limiting.
//
// Buckets idle for an hour are pruned every 5 minutes.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	set := &limiterSet{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   max(cfg.Burst, 1),
	}

	go func() {
		ticker := time.NewTicker(limiterPruneInterval)
		defer ticker.Stop()
		for now := range ticker.C {
			set.prune(now.Add(-limiterIdleTTL))
		}
	}()

	// Whole seconds until one token is back.
	retryAfter := strconv.Itoa(int(math.Ceil(1 / cfg.RequestsPerSecond)))

	return func(c *gin.Context) {
		identity := "ip:" + c.ClientIP()
		if v, ok := c.Get(actorKey); ok {
			if actor, ok := v.(models.Actor); ok {
				identity = actor.OrganizationID + ":" + actor.UserID
			}
		}

		if !set.get(identity, time.Now()).Allow() {
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.Fail(&models.ErrorDetail{
				Code:    models.ErrCodeRateLimited,
				Message: "rate limit exceeded, please slow down",
			}, nil))
			return
		}
		c.Next()
	}
}
