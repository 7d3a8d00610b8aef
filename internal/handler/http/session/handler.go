package session

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"consultlink-backend/internal/domain"
	"consultlink-backend/internal/middleware"
	"consultlink-backend/pkg/response"
)

// Service is the part of the session store the HTTP surface needs
type Service interface {
	CreateOrGetSession(ctx context.Context, appointmentID uuid.UUID, requester domain.Identity) (*domain.Session, error)
	GetSession(ctx context.Context, appointmentID uuid.UUID, requester domain.Identity) (*domain.Session, error)
	EndSession(ctx context.Context, appointmentID uuid.UUID, requester domain.Identity) (*domain.Session, error)
}

// Handler handles consultation session HTTP requests
type Handler struct {
	sessionService Service
}

// NewHandler creates a new session handler
func NewHandler(sessionService Service) *Handler {
	return &Handler{
		sessionService: sessionService,
	}
}

// SessionRequest identifies the appointment a session belongs to
type SessionRequest struct {
	AppointmentID string `json:"appointmentId" binding:"required,uuid"`
}

// CreateSession returns the appointment's call room, creating it on first use
// POST /api/session/create
func (h *Handler) CreateSession(c *gin.Context) {
	h.withAppointment(c, func(appointmentID uuid.UUID, identity domain.Identity) {
		session, err := h.sessionService.CreateOrGetSession(c.Request.Context(), appointmentID, identity)
		if err != nil {
			response.FromError(c, err)
			return
		}

		response.Success(c, http.StatusOK, gin.H{
			"session": session,
		})
	})
}

// EndSession closes the call and completes the appointment. Doctors only.
// POST /api/session/end
func (h *Handler) EndSession(c *gin.Context) {
	h.withAppointment(c, func(appointmentID uuid.UUID, identity domain.Identity) {
		session, err := h.sessionService.EndSession(c.Request.Context(), appointmentID, identity)
		if err != nil {
			response.FromError(c, err)
			return
		}

		response.Success(c, http.StatusOK, gin.H{
			"message": "Session ended",
			"session": session,
		})
	})
}

// GetSession returns the session of an appointment
// GET /api/session/:appointmentId
func (h *Handler) GetSession(c *gin.Context) {
	appointmentID, err := uuid.Parse(c.Param("appointmentId"))
	if err != nil {
		response.ValidationError(c, "Invalid appointment ID")
		return
	}

	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	session, err := h.sessionService.GetSession(c.Request.Context(), appointmentID, identity)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session": session,
	})
}

// withAppointment binds a SessionRequest and resolves the caller before running fn
func (h *Handler) withAppointment(c *gin.Context, fn func(appointmentID uuid.UUID, identity domain.Identity)) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "appointmentId is required and must be a UUID")
		return
	}

	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	fn(uuid.MustParse(req.AppointmentID), identity)
}
