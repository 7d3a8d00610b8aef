package chat

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"consultlink-backend/internal/domain"
	"consultlink-backend/internal/middleware"
	"consultlink-backend/internal/service/chat"
	"consultlink-backend/pkg/response"
)

// Service is the part of the chat service the HTTP surface needs
type Service interface {
	SendMessage(ctx context.Context, input *chat.SendMessageInput) (*domain.ChatMessage, error)
	GetHistory(ctx context.Context, appointmentID uuid.UUID, requester domain.Identity) ([]*domain.ChatMessage, error)
}

// Handler handles appointment chat HTTP requests
type Handler struct {
	chatService Service
}

// NewHandler creates a new chat handler
func NewHandler(chatService Service) *Handler {
	return &Handler{
		chatService: chatService,
	}
}

// SendMessageRequest represents a chat send request
type SendMessageRequest struct {
	AppointmentID string `json:"appointmentId" binding:"required,uuid"`
	Message       string `json:"message" binding:"required"`
	ReceiverID    string `json:"receiverId" binding:"omitempty,uuid"`
	SenderName    string `json:"senderName"`
	MessageType   string `json:"messageType" binding:"omitempty,max=32"`
}

// SendMessage persists a message and pushes it to the appointment's chat room
// POST /api/chat/send
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var receiverID uuid.UUID
	if req.ReceiverID != "" {
		receiverID = uuid.MustParse(req.ReceiverID)
	}

	senderName := req.SenderName
	if senderName == "" {
		senderName = identity.Name
	}

	message, err := h.chatService.SendMessage(c.Request.Context(), &chat.SendMessageInput{
		AppointmentID: uuid.MustParse(req.AppointmentID),
		Sender:        identity,
		SenderName:    senderName,
		Message:       req.Message,
		ReceiverID:    receiverID,
		MessageType:   req.MessageType,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, message)
}

// GetHistory returns the appointment's messages, oldest first
// GET /api/chat/history/:appointmentId
func (h *Handler) GetHistory(c *gin.Context) {
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

	messages, err := h.chatService.GetHistory(c.Request.Context(), appointmentID, identity)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, messages)
}
