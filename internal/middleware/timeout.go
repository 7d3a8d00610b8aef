package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"consultlink-backend/pkg/logger"
)

// Timeout bounds the storage work of a request. Handlers pass
// c.Request.Context() down, so the deadline reaches pgx and gocql calls.
func Timeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()

		c.Next()

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.FromContext(ctx).Warn("Request timed out",
				zap.Duration("timeout", timeout),
				zap.Duration("duration", time.Since(start)),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path))
		}
	}
}
