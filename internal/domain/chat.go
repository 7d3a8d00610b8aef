package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageTypeText is the default chat message type
const MessageTypeText = "text"

// ChatMessage is one entry of an appointment's append-only chat log
type ChatMessage struct {
	MessageID     uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	SenderID      uuid.UUID `json:"sender_id"`
	SenderRole    Role      `json:"sender_role"`
	SenderName    string    `json:"sender_name,omitempty"`
	ReceiverID    uuid.UUID `json:"receiver_id"`
	Message       string    `json:"message"`
	MessageType   string    `json:"message_type"`
	Timestamp     time.Time `json:"timestamp"`
}
