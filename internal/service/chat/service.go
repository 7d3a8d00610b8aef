package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"consultlink-backend/internal/domain"
	"consultlink-backend/pkg/constants"
	apperrors "consultlink-backend/pkg/errors"
	"consultlink-backend/pkg/logger"
	"consultlink-backend/pkg/metrics"
	"consultlink-backend/pkg/sanitize"
)

// AppointmentRepository is the booking platform's appointment store
type AppointmentRepository interface {
	GetByID(ctx context.Context, appointmentID uuid.UUID) (*domain.Appointment, error)
}

// MessageRepository is the append-only chat log
type MessageRepository interface {
	Append(ctx context.Context, message *domain.ChatMessage) error
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*domain.ChatMessage, error)
}

// Broadcaster delivers a persisted message to the appointment's chat room
type Broadcaster interface {
	BroadcastChatMessage(ctx context.Context, roomID string, message *domain.ChatMessage) error
}

// Service handles chat business logic
type Service struct {
	appointmentRepo AppointmentRepository
	messageRepo     MessageRepository
	broadcaster     Broadcaster
	metrics         *metrics.Metrics
	now             func() time.Time
}

// NewService creates a new chat service. broadcaster and m may be nil.
func NewService(
	appointmentRepo AppointmentRepository,
	messageRepo MessageRepository,
	broadcaster Broadcaster,
	m *metrics.Metrics,
) *Service {
	return &Service{
		appointmentRepo: appointmentRepo,
		messageRepo:     messageRepo,
		broadcaster:     broadcaster,
		metrics:         m,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// SetBroadcaster attaches the real-time room delivery once the relay exists
func (s *Service) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// SendMessageInput contains message data
type SendMessageInput struct {
	AppointmentID uuid.UUID
	Sender        domain.Identity
	SenderName    string
	Message       string
	ReceiverID    uuid.UUID // defaults to the counterpart
	MessageType   string    // defaults to "text"
}

// ChatRoomID is the real-time room name of an appointment's chat
func ChatRoomID(appointmentID uuid.UUID) string {
	return appointmentID.String()
}

// SendMessage persists a message, then publishes it to the chat room.
// Publishing is best-effort: a failed broadcast never undoes the write.
func (s *Service) SendMessage(ctx context.Context, input *SendMessageInput) (*domain.ChatMessage, error) {
	text := sanitize.ChatText(input.Message)
	if text == "" {
		s.metrics.RecordChatMessage("rejected")
		return nil, apperrors.ValidationError("Message cannot be empty")
	}
	if len(text) > constants.MaxChatMessageLength || !utf8.ValidString(text) {
		s.metrics.RecordChatMessage("rejected")
		return nil, apperrors.ValidationError("Message is too long or not valid text")
	}

	appt, err := s.appointmentRepo.GetByID(ctx, input.AppointmentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.NotFoundError("Appointment")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load appointment: %w", err)
	}

	if !appt.Involves(input.Sender) {
		s.metrics.RecordChatMessage("rejected")
		return nil, apperrors.UnauthorizedError("Not a participant of this appointment")
	}
	if !appt.Payment {
		s.metrics.RecordChatMessage("locked")
		return nil, apperrors.ChatLockedError()
	}

	receiverID := input.ReceiverID
	if receiverID == uuid.Nil {
		receiverID = appt.Counterpart(input.Sender)
	}
	messageType := input.MessageType
	if messageType == "" {
		messageType = domain.MessageTypeText
	}

	message := &domain.ChatMessage{
		MessageID:     uuid.New(),
		AppointmentID: appt.AppointmentID,
		SenderID:      input.Sender.UserID,
		SenderRole:    input.Sender.Role,
		SenderName:    sanitize.DisplayName(input.SenderName),
		ReceiverID:    receiverID,
		Message:       text,
		MessageType:   messageType,
		Timestamp:     s.now(),
	}

	if err := s.messageRepo.Append(ctx, message); err != nil {
		s.metrics.RecordChatMessage("failed")
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	s.metrics.RecordChatMessage("sent")

	if s.broadcaster != nil {
		if err := s.broadcaster.BroadcastChatMessage(ctx, ChatRoomID(appt.AppointmentID), message); err != nil {
			logger.FromContext(ctx).Warn("Failed to broadcast chat message",
				zap.String("appointment_id", appt.AppointmentID.String()),
				zap.String("message_id", message.MessageID.String()),
				zap.Error(err))
		}
	}

	return message, nil
}

// GetHistory returns the full chat log of an appointment, oldest first
func (s *Service) GetHistory(ctx context.Context, appointmentID uuid.UUID, requester domain.Identity) ([]*domain.ChatMessage, error) {
	appt, err := s.appointmentRepo.GetByID(ctx, appointmentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.NotFoundError("Appointment")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load appointment: %w", err)
	}

	if !appt.Involves(requester) {
		return nil, apperrors.UnauthorizedError("Not a participant of this appointment")
	}

	messages, err := s.messageRepo.ListByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat history: %w", err)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})

	if messages == nil {
		messages = []*domain.ChatMessage{}
	}

	return messages, nil
}

// CanJoin reports whether identity may join the appointment's chat room
func (s *Service) CanJoin(ctx context.Context, appointmentID uuid.UUID, identity domain.Identity) error {
	appt, err := s.appointmentRepo.GetByID(ctx, appointmentID)
	if errors.Is(err, domain.ErrNotFound) {
		return apperrors.NotFoundError("Appointment")
	}
	if err != nil {
		return fmt.Errorf("failed to load appointment: %w", err)
	}

	if !appt.Involves(identity) {
		return apperrors.UnauthorizedError("Not a participant of this appointment")
	}
	if !appt.Payment {
		return apperrors.ChatLockedError()
	}

	return nil
}
