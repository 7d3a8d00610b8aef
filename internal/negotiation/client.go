package negotiation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"consultlink-backend/internal/relay"
	"consultlink-backend/pkg/logger"
)

const relayWriteWait = 10 * time.Second

// RelayClient is the participant side of the signaling relay: it joins one
// video room and carries fragments between the relay and a Machine
type RelayClient struct {
	conn   *websocket.Conn
	roomID string
	log    *zap.Logger

	writeMu sync.Mutex
}

// DialRelay connects to the relay's websocket endpoint. header carries the
// participant's token or dtoken credential.
func DialRelay(ctx context.Context, url string, header http.Header) (*RelayClient, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("relay refused connection (%d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}
	return &RelayClient{conn: conn, log: logger.Named("relay-client")}, nil
}

// JoinVideo enters roomID. Presence events arrive through Run.
func (c *RelayClient) JoinVideo(roomID string) error {
	c.roomID = roomID
	return c.write(relay.EventJoinVideo, relay.RoomPayload{RoomID: roomID})
}

// SendSignal implements Signaler
func (c *RelayClient) SendSignal(ctx context.Context, sig Signal) error {
	return c.write(relay.EventSignal, relay.SignalPayload{RoomID: c.roomID, Signal: sig.Data})
}

func (c *RelayClient) write(event string, data interface{}) error {
	frame, err := relay.Encode(event, data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Run feeds relay events into m until the connection closes, ctx ends, or
// the relay rejects the join. A lost connection fails the call with a transport error.
func (c *RelayClient) Run(ctx context.Context, m *Machine) error {
	go func() {
		select {
		case <-ctx.Done():
		case <-m.Done():
		}
		c.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-m.Done():
				return nil
			default:
			}
			m.Disconnected(err)
			return fmt.Errorf("relay connection lost: %w", err)
		}

		frame, err := relay.Decode(raw)
		if err != nil {
			c.log.Warn("Ignoring malformed frame from relay", zap.Error(err))
			continue
		}

		switch frame.Event {
		case relay.EventJoined:
			var ack relay.JoinedPayload
			if err := json.Unmarshal(frame.Data, &ack); err == nil && len(ack.Peers) > 0 {
				m.PeerJoined()
			}
		case relay.EventUserJoined:
			m.PeerJoined()
		case relay.EventUserLeft:
			m.PeerLeft()
		case relay.EventSignal:
			var p relay.SignalPayload
			if err := json.Unmarshal(frame.Data, &p); err != nil {
				continue
			}
			sig, err := ParseSignal(p.Signal)
			if err != nil {
				c.log.Warn("Ignoring untyped signal", zap.Error(err))
				continue
			}
			m.HandleSignal(sig)
		case relay.EventError:
			var p relay.ErrorPayload
			_ = json.Unmarshal(frame.Data, &p)
			if p.Event == relay.EventJoinVideo {
				err := errors.New(p.Message)
				m.Disconnected(err)
				return fmt.Errorf("join rejected: %w", err)
			}
			c.log.Warn("Relay reported an error", zap.String("event", p.Event), zap.String("message", p.Message))
		}
	}
}

// Close closes the relay connection
func (c *RelayClient) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
