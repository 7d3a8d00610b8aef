package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
)

// TrackSource is implemented by media that can feed a pion peer connection
type TrackSource interface {
	Tracks() []webrtc.TrackLocal
}

// PionPeerFactory builds WebRTC peers speaking simple-peer compatible signals
type PionPeerFactory struct {
	ICEServers []string
	api        *webrtc.API
}

// NewPionPeerFactory creates a factory using the given STUN/TURN urls
func NewPionPeerFactory(iceServers []string) *PionPeerFactory {
	return &PionPeerFactory{
		ICEServers: iceServers,
		api:        webrtc.NewAPI(),
	}
}

// wireSignal is the JSON shape of a fragment on the wire
type wireSignal struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// NewPeer implements PeerFactory
func (f *PionPeerFactory) NewPeer(cfg PeerConfig) (Peer, error) {
	var iceServers []webrtc.ICEServer
	if len(f.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: f.ICEServers}}
	}

	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	p := &pionPeer{pc: pc, cfg: cfg}

	tracks := 0
	if source, ok := cfg.Media.(TrackSource); ok {
		for _, track := range source.Tracks() {
			if _, err := pc.AddTrack(track); err != nil {
				pc.Close()
				return nil, fmt.Errorf("failed to add track: %w", err)
			}
			tracks++
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		p.emit(wireSignal{Type: SignalCandidate, Candidate: &init})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			cfg.OnConnected()
		case webrtc.PeerConnectionStateFailed:
			cfg.OnError(errors.New("peer connection failed"))
		}
	})

	if cfg.Initiator {
		// Without media an offer carries no m-line and ICE never starts
		if tracks == 0 {
			if _, err := pc.CreateDataChannel("consult", nil); err != nil {
				pc.Close()
				return nil, fmt.Errorf("failed to create data channel: %w", err)
			}
		}

		offer, err := pc.CreateOffer(nil)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to create offer: %w", err)
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to set local description: %w", err)
		}
		p.emit(wireSignal{Type: SignalOffer, SDP: offer.SDP})
	}

	return p, nil
}

type pionPeer struct {
	pc  *webrtc.PeerConnection
	cfg PeerConfig

	mu         sync.Mutex
	remoteSet  bool
	candidates []webrtc.ICECandidateInit
	closeOnce  sync.Once
}

func (p *pionPeer) emit(w wireSignal) {
	raw, err := json.Marshal(w)
	if err != nil {
		p.cfg.OnError(fmt.Errorf("failed to encode signal: %w", err))
		return
	}
	p.cfg.OnSignal(Signal{Type: w.Type, Data: raw})
}

// Signal applies a remote fragment. Candidates that arrive before the remote
// description are held until it is set.
func (p *pionPeer) Signal(sig Signal) error {
	var w wireSignal
	if err := json.Unmarshal(sig.Data, &w); err != nil {
		return fmt.Errorf("malformed signal: %w", err)
	}

	switch w.Type {
	case SignalOffer:
		if err := p.setRemote(webrtc.SDPTypeOffer, w.SDP); err != nil {
			return err
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("failed to create answer: %w", err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("failed to set local description: %w", err)
		}
		p.emit(wireSignal{Type: SignalAnswer, SDP: answer.SDP})
		return nil

	case SignalAnswer:
		return p.setRemote(webrtc.SDPTypeAnswer, w.SDP)

	case SignalCandidate:
		if w.Candidate == nil {
			return nil
		}
		p.mu.Lock()
		if !p.remoteSet {
			p.candidates = append(p.candidates, *w.Candidate)
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()
		if err := p.pc.AddICECandidate(*w.Candidate); err != nil {
			return fmt.Errorf("failed to add candidate: %w", err)
		}
		return nil

	default:
		// renegotiate and transceiverRequest are not used by two-party calls
		return nil
	}
}

func (p *pionPeer) setRemote(kind webrtc.SDPType, sdp string) error {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: kind, SDP: sdp}); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	p.mu.Lock()
	p.remoteSet = true
	held := p.candidates
	p.candidates = nil
	p.mu.Unlock()

	for _, candidate := range held {
		if err := p.pc.AddICECandidate(candidate); err != nil {
			return fmt.Errorf("failed to add candidate: %w", err)
		}
	}
	return nil
}

func (p *pionPeer) Close() {
	p.closeOnce.Do(func() {
		p.pc.Close()
	})
}

// DataOnlySource acquires no camera. Peers built on it negotiate a data channel only,
// which is enough to check that two parties can reach each other.
type DataOnlySource struct{}

type noMedia struct{}

func (noMedia) Close() {}

// Acquire implements MediaSource
func (DataOnlySource) Acquire(ctx context.Context) (Media, error) {
	return noMedia{}, nil
}
