package health

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"consultlink-backend/pkg/logger"
)

const checkTimeout = 2 * time.Second

// Check reports whether one dependency is reachable
type Check func(ctx context.Context) error

// Handler serves the liveness endpoint with a per-dependency breakdown
type Handler struct {
	service     string
	connections func() int
	checks      map[string]Check
}

// NewHandler creates a health handler. connections may be nil.
func NewHandler(service string, connections func() int) *Handler {
	return &Handler{
		service:     service,
		connections: connections,
		checks:      make(map[string]Check),
	}
}

// Register adds a named dependency check
func (h *Handler) Register(name string, check Check) *Handler {
	h.checks[name] = check
	return h
}

// Health answers 200 when every dependency responds and 503 otherwise
// GET /health
func (h *Handler) Health(c *gin.Context) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "healthy", http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
		err := h.checks[name](ctx)
		cancel()

		if err != nil {
			logger.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
			results[name] = "unavailable"
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := gin.H{
		"status":       status,
		"service":      h.service,
		"time":         time.Now().UTC(),
		"dependencies": results,
	}
	if h.connections != nil {
		body["connections"] = h.connections()
	}
	c.JSON(code, body)
}
