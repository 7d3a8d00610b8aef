package cassandra

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"consultlink-backend/internal/domain"
)

// ChatRepository stores the append-only chat log in Cassandra.
// chat_messages is partitioned by appointment_id and clustered by (sent_at, message_id) ascending,
// so a partition scan already yields history order.
type ChatRepository struct {
	session *gocql.Session
}

// NewChatRepository creates a new ChatRepository
func NewChatRepository(session *gocql.Session) *ChatRepository {
	return &ChatRepository{session: session}
}

// Append inserts a message. There is no update or delete.
func (r *ChatRepository) Append(ctx context.Context, message *domain.ChatMessage) error {
	if message.MessageID == uuid.Nil {
		message.MessageID = uuid.New()
	}

	query := `
		INSERT INTO chat_messages (
			appointment_id, sent_at, message_id, sender_id, sender_role,
			sender_name, receiver_id, message, message_type
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		gocql.UUID(message.AppointmentID),
		message.Timestamp,
		gocql.UUID(message.MessageID),
		gocql.UUID(message.SenderID),
		string(message.SenderRole),
		message.SenderName,
		gocql.UUID(message.ReceiverID),
		message.Message,
		message.MessageType,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}

	return nil
}

// ListByAppointment returns every message of an appointment in timestamp order
func (r *ChatRepository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*domain.ChatMessage, error) {
	query := `
		SELECT appointment_id, sent_at, message_id, sender_id, sender_role,
		       sender_name, receiver_id, message, message_type
		FROM chat_messages
		WHERE appointment_id = ?
		ORDER BY sent_at ASC, message_id ASC
	`

	iter := r.session.Query(query, gocql.UUID(appointmentID)).WithContext(ctx).PageSize(500).Iter()

	var (
		messages                                []*domain.ChatMessage
		apptID, messageID, senderID, receiverID gocql.UUID
		senderRole                              string
	)
	for {
		message := &domain.ChatMessage{}
		if !iter.Scan(
			&apptID,
			&message.Timestamp,
			&messageID,
			&senderID,
			&senderRole,
			&message.SenderName,
			&receiverID,
			&message.Message,
			&message.MessageType,
		) {
			break
		}
		message.AppointmentID = uuid.UUID(apptID)
		message.MessageID = uuid.UUID(messageID)
		message.SenderID = uuid.UUID(senderID)
		message.ReceiverID = uuid.UUID(receiverID)
		message.SenderRole = domain.Role(senderRole)
		messages = append(messages, message)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to fetch chat messages: %w", err)
	}

	return messages, nil
}
