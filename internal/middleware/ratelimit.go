package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apperrors "consultlink-backend/pkg/errors"
	"consultlink-backend/pkg/logger"
	"consultlink-backend/pkg/metrics"
	"consultlink-backend/pkg/response"
)

// RateLimiter implements a Redis fixed-window rate limit
type RateLimiter struct {
	redisClient *redis.Client
	scope       string
	requests    int
	window      time.Duration
	metrics     *metrics.Metrics
}

// NewRateLimiter creates a new rate limiter
// scope: key namespace, one per limited route group (e.g. "chat")
// requests: maximum number of requests allowed per window
func NewRateLimiter(redisClient *redis.Client, scope string, requests int, window time.Duration, m *metrics.Metrics) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		scope:       scope,
		requests:    requests,
		window:      window,
		metrics:     m,
	}
}

// Middleware limits authenticated callers per identity, anonymous ones per IP
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if identity, ok := IdentityFrom(c); ok {
			identifier = identity.String()
		}

		allowed, remaining, resetAt, err := rl.allow(c.Request.Context(), identifier)
		if err != nil {
			// Fail open: losing Redis must not take chat down
			logger.FromContext(c.Request.Context()).Warn("Rate limiter unavailable",
				zap.String("scope", rl.scope),
				zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			rl.metrics.RecordRateLimitBlocked(rl.scope)
			response.FromError(c, apperrors.RateLimitExceededError())
			c.Abort()
			return
		}

		c.Next()
	}
}

// allow counts one request against identifier's current window
func (rl *RateLimiter) allow(ctx context.Context, identifier string) (bool, int, time.Time, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", rl.scope, identifier)

	count, err := rl.redisClient.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("failed to count request: %w", err)
	}

	// The first request of a window starts its expiry. A key left without one is repaired here.
	ttl, err := rl.redisClient.PTTL(ctx, key).Result()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("failed to read window: %w", err)
	}
	if ttl <= 0 {
		if err := rl.redisClient.PExpire(ctx, key, rl.window).Err(); err != nil {
			return false, 0, time.Time{}, fmt.Errorf("failed to start window: %w", err)
		}
		ttl = rl.window
	}

	remaining := rl.requests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return int(count) <= rl.requests, remaining, time.Now().Add(ttl), nil
}
