package ws

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"consultlink-backend/internal/domain"
	"consultlink-backend/internal/relay"
	"consultlink-backend/pkg/constants"
	apperrors "consultlink-backend/pkg/errors"
	"consultlink-backend/pkg/logger"
	"consultlink-backend/pkg/metrics"
	"consultlink-backend/pkg/response"
)

// HubConfig bounds the websocket transport
type HubConfig struct {
	MaxConnections  int
	SendBuffer      int
	MaxMessageBytes int64
	PingInterval    time.Duration
	AllowedOrigins  []string
}

// SignalingHub accepts websocket connections and hands their frames to the relay
type SignalingHub struct {
	relay   *relay.Relay
	cfg     HubConfig
	metrics *metrics.Metrics

	upgrader websocket.Upgrader

	// Semaphore for limiting concurrent connections
	semaphore   chan struct{}
	connections atomic.Int64
}

// NewSignalingHub creates a new signaling hub. m may be nil.
func NewSignalingHub(r *relay.Relay, cfg HubConfig, m *metrics.Metrics) *SignalingHub {
	h := &SignalingHub{
		relay:     r,
		cfg:       cfg,
		metrics:   m,
		semaphore: make(chan struct{}, cfg.MaxConnections),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin admits listed browser origins. Native clients send no Origin header.
func (h *SignalingHub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || origin == allowed {
			return true
		}
	}
	logger.Warn("WebSocket origin rejected", zap.String("origin", origin))
	return false
}

// ServeWS handles GET /ws. The auth middleware has already resolved the identity.
func (h *SignalingHub) ServeWS(c *gin.Context) {
	value, exists := c.Get(constants.ContextIdentity)
	identity, ok := value.(domain.Identity)
	if !exists || !ok || identity.IsZero() {
		response.Unauthorized(c, "Missing credentials")
		return
	}

	// Acquire semaphore to limit concurrent connections
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.cfg.MaxConnections))
		h.metrics.RecordWebSocketError("capacity")
		response.FromError(c, apperrors.ServiceUnavailableError("Server at capacity, please try again later"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		logger.Warn("WebSocket upgrade failed",
			zap.String("identity", identity.String()),
			zap.Error(err))
		h.metrics.RecordWebSocketError("upgrade")
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		id:       uuid.NewString(),
		identity: identity,
		send:     make(chan []byte, h.cfg.SendBuffer),
		done:     make(chan struct{}),
	}
	h.metrics.SetWebSocketConnections(int(h.connections.Add(1)))

	go client.writePump()
	go client.readPump()
}

// release frees the connection slot held by a finished client
func (h *SignalingHub) release() {
	h.metrics.SetWebSocketConnections(int(h.connections.Add(-1)))
	<-h.semaphore
}

// Connections returns the number of open websocket connections
func (h *SignalingHub) Connections() int {
	return int(h.connections.Load())
}
