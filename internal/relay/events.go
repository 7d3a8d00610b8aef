package relay

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Inbound events
const (
	EventJoinVideo   = "join-video"
	EventJoinChat    = "join-chat"
	EventLeave       = "leave"
	EventSignal      = "signal"
	EventSendMessage = "send-message"
	EventTyping      = "typing"
)

// Outbound events
const (
	EventJoined         = "joined"
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventReceiveMessage = "receive-message"
	EventError          = "error"
)

// Frame is the envelope of every websocket message in both directions
type Frame struct {
	Event string              `json:"event"`
	Data  jsoniter.RawMessage `json:"data,omitempty"`
}

// RoomPayload carries the target room of join-video, join-chat and leave.
// A client-supplied userId is accepted but ignored.
type RoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId,omitempty"`
}

// SignalPayload wraps one opaque negotiation fragment
type SignalPayload struct {
	RoomID string              `json:"roomId"`
	From   string              `json:"from,omitempty"`
	Signal jsoniter.RawMessage `json:"signal"`
}

// ChatPayload is a chat message relayed in real time
type ChatPayload struct {
	ID         string    `json:"id,omitempty"`
	RoomID     string    `json:"roomId"`
	Message    string    `json:"message"`
	SenderID   string    `json:"senderId"`
	SenderRole string    `json:"senderRole,omitempty"`
	SenderName string    `json:"senderName,omitempty"`
	ReceiverID string    `json:"receiverId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// TypingPayload is a typing indicator
type TypingPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// PresencePayload announces a user joining or leaving a room
type PresencePayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// JoinedPayload acknowledges a join and lists who was already present
type JoinedPayload struct {
	RoomID string            `json:"roomId"`
	Peers  []PresencePayload `json:"peers"`
}

// ErrorPayload reports a rejected frame to its sender
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

// Encode builds a frame for event with data as its payload
func Encode(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// Decode parses a frame envelope, leaving its payload raw
func Decode(raw []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}
