package negotiation

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Signal types, compatible with simple-peer payloads
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

// Signal is one opaque negotiation fragment. Only its type is inspected.
type Signal struct {
	Type string
	Data []byte
}

// ParseSignal reads the type of a raw fragment
func ParseSignal(raw []byte) (Signal, error) {
	kind := json.Get(raw, "type")
	if kind.LastError() != nil {
		return Signal{}, fmt.Errorf("signal has no type: %w", kind.LastError())
	}
	return Signal{Type: kind.ToString(), Data: raw}, nil
}

// MediaSource opens the local camera and microphone
type MediaSource interface {
	Acquire(ctx context.Context) (Media, error)
}

// Media is an acquired local stream
type Media interface {
	Close()
}

// PeerConfig wires a new peer connection to its machine. The callbacks may be
// invoked from any goroutine.
type PeerConfig struct {
	Initiator   bool
	Media       Media
	OnSignal    func(Signal)
	OnConnected func()
	OnError     func(error)
}

// PeerFactory builds peer connections
type PeerFactory interface {
	NewPeer(cfg PeerConfig) (Peer, error)
}

// Peer is a peer connection under negotiation
type Peer interface {
	Signal(sig Signal) error
	Close()
}

// Signaler carries local fragments to the counterpart through the relay
type Signaler interface {
	SendSignal(ctx context.Context, sig Signal) error
}
