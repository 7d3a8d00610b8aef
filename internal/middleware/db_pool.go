package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	apperrors "consultlink-backend/pkg/errors"
	"consultlink-backend/pkg/logger"
	"consultlink-backend/pkg/response"
)

// PoolStater exposes connection pool statistics (*pgxpool.Pool)
type PoolStater interface {
	Stat() *pgxpool.Stat
}

// DBPoolGuard sheds requests with 503 once the share of acquired
// connections reaches threshold, instead of queueing them on the pool
func DBPoolGuard(pool PoolStater, threshold float64) gin.HandlerFunc {
	return func(c *gin.Context) {
		stat := pool.Stat()
		if poolSaturated(stat.AcquiredConns(), stat.MaxConns(), threshold) {
			logger.Warn("Database connection pool saturated",
				zap.Int32("acquired", stat.AcquiredConns()),
				zap.Int32("max_conns", stat.MaxConns()),
				zap.String("path", c.Request.URL.Path))
			response.FromError(c, apperrors.ServiceUnavailableError("Service temporarily unavailable"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func poolSaturated(acquired, max int32, threshold float64) bool {
	if max <= 0 {
		return false
	}
	return float64(acquired)/float64(max) >= threshold
}
