package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"consultlink-backend/internal/domain"
	apperrors "consultlink-backend/pkg/errors"
	"consultlink-backend/pkg/logger"
	"consultlink-backend/pkg/metrics"
	"consultlink-backend/pkg/roomid"
)

// SessionAuthorizer decides who may enter a video room
type SessionAuthorizer interface {
	Authorize(ctx context.Context, roomID string, identity domain.Identity) (*domain.Session, error)
	MarkActive(ctx context.Context, roomID string) error
}

// ChatAuthorizer decides who may enter an appointment's chat room
type ChatAuthorizer interface {
	CanJoin(ctx context.Context, appointmentID uuid.UUID, identity domain.Identity) error
}

// PresenceMirror receives room membership changes for operational visibility.
// Entries are keyed by endpoint so that two tabs of one user stay distinct.
type PresenceMirror interface {
	Joined(ctx context.Context, roomID, endpointID string, identity domain.Identity) error
	Left(ctx context.Context, roomID, endpointID string) error
}

const (
	presenceTimeout   = 2 * time.Second
	presenceQueueSize = 256
)

type presenceEvent struct {
	roomID     string
	endpointID string
	identity   domain.Identity
	joined     bool
}

// Relay forwards events between the members of a room. It never interprets
// signaling payloads and never echoes a frame back to its sender.
type Relay struct {
	registry *Registry
	sessions SessionAuthorizer
	chats    ChatAuthorizer
	presence PresenceMirror
	queue    chan presenceEvent
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// NewRelay creates a relay over registry. m may be nil.
func NewRelay(registry *Registry, sessions SessionAuthorizer, chats ChatAuthorizer, m *metrics.Metrics) *Relay {
	return &Relay{
		registry: registry,
		sessions: sessions,
		chats:    chats,
		metrics:  m,
		log:      logger.Named("relay"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithPresence mirrors joins and leaves into p. Events are applied in order
// by a single worker; Close stops it.
func (r *Relay) WithPresence(p PresenceMirror) *Relay {
	r.presence = p
	r.queue = make(chan presenceEvent, presenceQueueSize)
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.mirrorLoop()
	return r
}

// Close stops the presence worker after it drains queued events
func (r *Relay) Close() {
	if r.presence == nil {
		return
	}
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// Registry returns the room registry the relay routes through
func (r *Relay) Registry() *Registry {
	return r.registry
}

// HandleFrame dispatches one inbound frame from ep. Frames from a single
// endpoint must be handed over in arrival order.
func (r *Relay) HandleFrame(ctx context.Context, ep Endpoint, raw []byte) {
	frame, err := Decode(raw)
	if err != nil || frame.Event == "" {
		r.metrics.RecordWebSocketError("malformed_frame")
		r.reject(ep, "", "Malformed frame")
		return
	}
	r.metrics.RecordWebSocketMessage(frame.Event, "in")

	switch frame.Event {
	case EventJoinVideo:
		r.handleJoinVideo(ctx, ep, frame)
	case EventJoinChat:
		r.handleJoinChat(ctx, ep, frame)
	case EventLeave:
		r.handleLeave(ep, frame)
	case EventSignal:
		r.handleSignal(ep, frame)
	case EventSendMessage:
		r.handleSendMessage(ep, frame)
	case EventTyping:
		r.handleTyping(ep, frame)
	default:
		r.reject(ep, frame.Event, "Unknown event")
	}
}

func (r *Relay) handleJoinVideo(ctx context.Context, ep Endpoint, frame *Frame) {
	var p RoomPayload
	if err := json.Unmarshal(frame.Data, &p); err != nil || p.RoomID == "" {
		r.reject(ep, frame.Event, "roomId is required")
		return
	}
	if !roomid.IsVideoRoom(p.RoomID) {
		r.reject(ep, frame.Event, "Invalid room id")
		return
	}

	if _, err := r.sessions.Authorize(ctx, p.RoomID, ep.Identity()); err != nil {
		r.rejectErr(ep, frame.Event, err)
		return
	}

	if !r.join(p.RoomID, ep) {
		return
	}

	// Two distinct parties present: the consultation has started.
	present := lo.UniqBy(r.registry.Members(p.RoomID), func(member Endpoint) string {
		return member.Identity().String()
	})
	if len(present) >= 2 {
		if err := r.sessions.MarkActive(ctx, p.RoomID); err != nil {
			r.log.Error("Failed to mark session active",
				zap.String("room_id", p.RoomID),
				zap.Error(err))
		}
	}
}

func (r *Relay) handleJoinChat(ctx context.Context, ep Endpoint, frame *Frame) {
	var p RoomPayload
	if err := json.Unmarshal(frame.Data, &p); err != nil || p.RoomID == "" {
		r.reject(ep, frame.Event, "roomId is required")
		return
	}

	appointmentID, err := uuid.Parse(p.RoomID)
	if err != nil {
		r.reject(ep, frame.Event, "roomId must be an appointment id")
		return
	}

	if err := r.chats.CanJoin(ctx, appointmentID, ep.Identity()); err != nil {
		r.rejectErr(ep, frame.Event, err)
		return
	}

	r.join(appointmentID.String(), ep)
}

// join adds ep to roomID, acknowledges it and announces it to the others.
// It reports whether ep was newly added.
func (r *Relay) join(roomID string, ep Endpoint) bool {
	others, added := r.registry.Join(roomID, ep)

	peers := lo.Map(others, func(member Endpoint, _ int) PresencePayload {
		return presenceOf(roomID, member.Identity())
	})
	r.deliver(ep, EventJoined, JoinedPayload{RoomID: roomID, Peers: peers})

	if !added {
		return false
	}

	r.log.Debug("Endpoint joined room",
		zap.String("room_id", roomID),
		zap.String("identity", ep.Identity().String()))
	r.fanout(roomID, EventUserJoined, others, presenceOf(roomID, ep.Identity()))
	r.mirror(presenceEvent{roomID: roomID, endpointID: ep.ID(), identity: ep.Identity(), joined: true})
	return true
}

func (r *Relay) handleLeave(ep Endpoint, frame *Frame) {
	var p RoomPayload
	if err := json.Unmarshal(frame.Data, &p); err != nil || p.RoomID == "" {
		r.reject(ep, frame.Event, "roomId is required")
		return
	}

	others, removed := r.registry.Leave(p.RoomID, ep)
	if !removed {
		return
	}
	r.fanout(p.RoomID, EventUserLeft, others, presenceOf(p.RoomID, ep.Identity()))
	r.mirror(presenceEvent{roomID: p.RoomID, endpointID: ep.ID()})
}

func (r *Relay) handleSignal(ep Endpoint, frame *Frame) {
	var p SignalPayload
	if err := json.Unmarshal(frame.Data, &p); err != nil || p.RoomID == "" || len(p.Signal) == 0 {
		r.reject(ep, frame.Event, "roomId and signal are required")
		return
	}
	if !r.requireMember(p.RoomID, ep, frame.Event) {
		return
	}

	p.From = ep.Identity().UserID.String()
	r.log.Debug("Relaying signal",
		zap.String("room_id", p.RoomID),
		zap.String("from", ep.Identity().String()),
		zap.String("type", json.Get([]byte(p.Signal), "type").ToString()))
	r.fanout(p.RoomID, EventSignal, r.registry.Others(p.RoomID, ep), p)
}

func (r *Relay) handleSendMessage(ep Endpoint, frame *Frame) {
	var p ChatPayload
	if err := json.Unmarshal(frame.Data, &p); err != nil || p.RoomID == "" || p.Message == "" {
		r.reject(ep, frame.Event, "roomId and message are required")
		return
	}
	if !r.requireMember(p.RoomID, ep, frame.Event) {
		return
	}

	identity := ep.Identity()
	p.SenderID = identity.UserID.String()
	p.SenderRole = string(identity.Role)
	if p.SenderName == "" {
		p.SenderName = identity.Name
	}
	p.Timestamp = r.now()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	r.fanout(p.RoomID, EventReceiveMessage, r.registry.Others(p.RoomID, ep), p)
}

func (r *Relay) handleTyping(ep Endpoint, frame *Frame) {
	var p TypingPayload
	if err := json.Unmarshal(frame.Data, &p); err != nil || p.RoomID == "" {
		r.reject(ep, frame.Event, "roomId is required")
		return
	}
	if !r.requireMember(p.RoomID, ep, frame.Event) {
		return
	}

	p.UserID = ep.Identity().UserID.String()
	r.fanout(p.RoomID, EventTyping, r.registry.Others(p.RoomID, ep), p)
}

// Disconnect removes ep from every room and tells the remaining members
func (r *Relay) Disconnect(ep Endpoint) {
	for roomID, others := range r.registry.RemoveEndpoint(ep) {
		r.fanout(roomID, EventUserLeft, others, presenceOf(roomID, ep.Identity()))
		r.mirror(presenceEvent{roomID: roomID, endpointID: ep.ID()})
	}
}

// BroadcastChatMessage delivers a persisted chat message to everyone in roomID
func (r *Relay) BroadcastChatMessage(ctx context.Context, roomID string, msg *domain.ChatMessage) error {
	payload := ChatPayload{
		ID:         msg.MessageID.String(),
		RoomID:     roomID,
		Message:    msg.Message,
		SenderID:   msg.SenderID.String(),
		SenderRole: string(msg.SenderRole),
		SenderName: msg.SenderName,
		ReceiverID: msg.ReceiverID.String(),
		Timestamp:  msg.Timestamp,
	}
	frame, err := Encode(EventReceiveMessage, payload)
	if err != nil {
		return err
	}

	members := r.registry.Members(roomID)
	if len(members) == 0 {
		r.metrics.RecordRelayDrop(EventReceiveMessage, "empty_room")
		return nil
	}
	r.sendAll(members, EventReceiveMessage, frame)
	return nil
}

func (r *Relay) requireMember(roomID string, ep Endpoint, event string) bool {
	if r.registry.IsMember(roomID, ep) {
		return true
	}
	r.log.Warn("Dropping frame for a room the sender has not joined",
		zap.String("room_id", roomID),
		zap.String("event", event),
		zap.String("identity", ep.Identity().String()))
	r.metrics.RecordRelayDrop(event, "not_member")
	return false
}

// fanout sends one event to recipients. An empty recipient list drops the event.
func (r *Relay) fanout(roomID, event string, recipients []Endpoint, payload interface{}) {
	if len(recipients) == 0 {
		r.log.Debug("No recipients, dropping event",
			zap.String("room_id", roomID),
			zap.String("event", event))
		r.metrics.RecordRelayDrop(event, "empty_room")
		return
	}

	frame, err := Encode(event, payload)
	if err != nil {
		r.log.Error("Failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	r.sendAll(recipients, event, frame)
}

func (r *Relay) sendAll(recipients []Endpoint, event string, frame []byte) {
	for _, recipient := range recipients {
		if recipient.Send(frame) {
			r.metrics.RecordWebSocketMessage(event, "out")
			continue
		}
		// Slow or closed consumer: cut it loose, its transport reports the disconnect.
		r.log.Warn("Send buffer full, closing endpoint",
			zap.String("endpoint_id", recipient.ID()),
			zap.String("event", event))
		r.metrics.RecordRelayDrop(event, "slow_consumer")
		recipient.Close()
	}
}

// deliver sends a frame to a single endpoint
func (r *Relay) deliver(ep Endpoint, event string, payload interface{}) {
	frame, err := Encode(event, payload)
	if err != nil {
		r.log.Error("Failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	r.sendAll([]Endpoint{ep}, event, frame)
}

func (r *Relay) reject(ep Endpoint, event, message string) {
	r.deliver(ep, EventError, ErrorPayload{Event: event, Message: message})
}

func (r *Relay) rejectErr(ep Endpoint, event string, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr.StatusCode >= 500 {
		r.log.Error("Join failed", zap.String("event", event), zap.Error(err))
		r.reject(ep, event, "Join failed")
		return
	}
	r.reject(ep, event, appErr.Message)
}

// mirror queues a membership change for the presence worker. A full queue drops the event.
func (r *Relay) mirror(ev presenceEvent) {
	if r.presence == nil {
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.log.Warn("Presence queue full, dropping event",
			zap.String("room_id", ev.roomID),
			zap.String("endpoint_id", ev.endpointID))
		r.metrics.RecordRelayDrop("presence", "queue_full")
	}
}

func (r *Relay) mirrorLoop() {
	defer close(r.done)
	for {
		select {
		case ev := <-r.queue:
			r.applyPresence(ev)
		case <-r.stop:
			for {
				select {
				case ev := <-r.queue:
					r.applyPresence(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Relay) applyPresence(ev presenceEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	var err error
	if ev.joined {
		err = r.presence.Joined(ctx, ev.roomID, ev.endpointID, ev.identity)
	} else {
		err = r.presence.Left(ctx, ev.roomID, ev.endpointID)
	}
	if err != nil {
		r.log.Warn("Failed to mirror presence",
			zap.String("room_id", ev.roomID),
			zap.String("endpoint_id", ev.endpointID),
			zap.Error(err))
	}
}

func presenceOf(roomID string, identity domain.Identity) PresencePayload {
	return PresencePayload{
		RoomID: roomID,
		UserID: identity.UserID.String(),
		Role:   string(identity.Role),
	}
}
