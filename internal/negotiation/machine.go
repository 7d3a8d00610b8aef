package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "consultlink-backend/pkg/errors"
	"consultlink-backend/pkg/logger"
)

// MediaRetry bounds how long a participant waits for a busy or warming device
type MediaRetry struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultMediaRetry polls once a second, ten times
var DefaultMediaRetry = MediaRetry{Interval: time.Second, MaxAttempts: 10}

// Config configures one participant
type Config struct {
	// Initiator creates the offer. The doctor initiates, the patient responds.
	Initiator  bool
	MediaRetry MediaRetry
}

var errAlreadyStarted = errors.New("negotiation already started")

// Machine is the call state machine of one participant. All state is owned by
// a single event loop goroutine; the exported methods only enqueue events.
type Machine struct {
	cfg      Config
	source   MediaSource
	peers    PeerFactory
	signaler Signaler
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queueMu sync.Mutex
	queue   []func()
	started bool
	stopped bool
	wake    chan struct{}

	stateMu sync.RWMutex
	state   State
	reason  Reason
	err     error

	transitions chan Transition
	done        chan struct{}

	// loop-owned
	media       Media
	peer        Peer
	peerPresent bool
	pending     []Signal
	releaseOnce sync.Once
}

// NewMachine creates an idle machine
func NewMachine(cfg Config, source MediaSource, peers PeerFactory, signaler Signaler) *Machine {
	if cfg.MediaRetry.MaxAttempts <= 0 {
		cfg.MediaRetry = DefaultMediaRetry
	}
	return &Machine{
		cfg:         cfg,
		source:      source,
		peers:       peers,
		signaler:    signaler,
		log:         logger.Named("negotiation"),
		wake:        make(chan struct{}, 1),
		transitions: make(chan Transition, 8),
		done:        make(chan struct{}),
	}
}

// Start begins media acquisition. Cancelling ctx ends the call.
func (m *Machine) Start(ctx context.Context) error {
	m.queueMu.Lock()
	if m.started {
		m.queueMu.Unlock()
		return errAlreadyStarted
	}
	m.started = true
	m.queueMu.Unlock()

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.post(m.onStart)
	go m.loop()
	return nil
}

// PeerJoined reports that the counterpart is present in the room
func (m *Machine) PeerJoined() { m.post(m.onPeerJoined) }

// PeerLeft reports that the counterpart left the room
func (m *Machine) PeerLeft() { m.post(m.onPeerLeft) }

// HandleSignal delivers a fragment received from the counterpart
func (m *Machine) HandleSignal(sig Signal) { m.post(func() { m.onRemoteSignal(sig) }) }

// Disconnected reports that the signaling transport is gone
func (m *Machine) Disconnected(err error) {
	m.post(func() { m.finish(Failed, ReasonTransport, err) })
}

// HangUp ends the call locally
func (m *Machine) HangUp() { m.post(func() { m.finish(Ended, ReasonNone, nil) }) }

// State returns the current state
func (m *Machine) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Result returns the terminal reason and error, if any
func (m *Machine) Result() (Reason, error) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.reason, m.err
}

// Transitions reports state changes and is closed after the terminal one.
// A listener that falls more than the buffer behind loses intermediate
// updates, oldest first; the terminal transition is always delivered.
func (m *Machine) Transitions() <-chan Transition { return m.transitions }

// Done is closed once the machine reached Ended or Failed and released its resources
func (m *Machine) Done() <-chan struct{} { return m.done }

// post enqueues an event without blocking, from any goroutine including the loop.
// It returns false once the machine has stopped.
func (m *Machine) post(event func()) bool {
	m.queueMu.Lock()
	if m.stopped {
		m.queueMu.Unlock()
		return false
	}
	m.queue = append(m.queue, event)
	m.queueMu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

func (m *Machine) loop() {
	defer close(m.done)
	defer close(m.transitions)

	for {
		select {
		case <-m.wake:
		case <-m.ctx.Done():
			m.finish(Ended, ReasonNone, nil)
		}

		for !m.current().Terminal() {
			event, ok := m.next()
			if !ok {
				break
			}
			event()
		}

		if m.current().Terminal() {
			m.queueMu.Lock()
			m.stopped = true
			rest := m.queue
			m.queue = nil
			m.queueMu.Unlock()

			// Late events only release what they carry, e.g. media that arrived after hang-up.
			for _, event := range rest {
				event()
			}
			return
		}
	}
}

func (m *Machine) next() (func(), bool) {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	event := m.queue[0]
	m.queue = m.queue[1:]
	return event, true
}

func (m *Machine) current() State {
	return m.State()
}

func (m *Machine) transition(to State, reason Reason, err error) {
	m.stateMu.Lock()
	from := m.state
	m.state = to
	if to.Terminal() {
		m.reason = reason
		m.err = err
	}
	m.stateMu.Unlock()

	m.log.Debug("Call state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.String("reason", string(reason)))

	tr := Transition{From: from, To: to, Reason: reason, Err: err}
	for {
		select {
		case m.transitions <- tr:
			return
		default:
		}
		if !to.Terminal() {
			m.log.Warn("Transition listener too slow, dropping update", zap.Stringer("to", to))
			return
		}
		// Make room by evicting the oldest buffered update.
		select {
		case old := <-m.transitions:
			m.log.Warn("Transition listener too slow, dropping update", zap.Stringer("to", old.To))
		default:
		}
	}
}

// finish moves to a terminal state and releases peer and media once
func (m *Machine) finish(to State, reason Reason, err error) {
	if m.current().Terminal() {
		return
	}
	switch reason {
	case ReasonTransport:
		err = apperrors.TransportError(err)
	case ReasonNegotiation:
		err = apperrors.NegotiationError(err)
	}
	m.releaseOnce.Do(func() {
		m.cancel()
		if m.peer != nil {
			m.peer.Close()
		}
		if m.media != nil {
			m.media.Close()
		}
		m.pending = nil
	})
	m.transition(to, reason, err)
}

func (m *Machine) onStart() {
	if m.current() != Idle {
		return
	}
	m.transition(AwaitingMedia, ReasonNone, nil)
	go m.acquireMedia(m.ctx)
}

// acquireMedia polls the media source with a fixed interval until it is ready,
// fails hard, or runs out of attempts
func (m *Machine) acquireMedia(ctx context.Context) {
	retry := m.cfg.MediaRetry
	for attempt := 1; ; attempt++ {
		media, err := m.source.Acquire(ctx)
		if err == nil {
			if !m.post(func() { m.onMediaReady(media) }) {
				media.Close()
			}
			return
		}
		if !errors.Is(err, ErrMediaNotReady) {
			m.post(func() { m.finish(Failed, ReasonCamera, err) })
			return
		}
		if attempt >= retry.MaxAttempts {
			err = fmt.Errorf("gave up after %d attempts: %w", attempt, err)
			m.post(func() { m.finish(Failed, ReasonCamera, err) })
			return
		}

		timer := time.NewTimer(retry.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Machine) onMediaReady(media Media) {
	if m.current().Terminal() {
		media.Close()
		return
	}
	m.media = media
	m.advance()
}

func (m *Machine) onPeerJoined() {
	if m.current().Terminal() {
		return
	}
	m.peerPresent = true
	m.advance()
}

func (m *Machine) onPeerLeft() {
	m.peerPresent = false
	switch m.current() {
	case Connected:
		m.finish(Ended, ReasonNone, nil)
	case Negotiating:
		m.finish(Failed, ReasonNegotiation, errors.New("counterpart left during negotiation"))
	}
}

func (m *Machine) onRemoteSignal(sig Signal) {
	if m.current().Terminal() {
		return
	}
	if sig.Type == SignalOffer {
		m.peerPresent = true
	}

	if m.peer != nil {
		if err := m.peer.Signal(sig); err != nil {
			m.finish(Failed, ReasonNegotiation, err)
		}
		return
	}

	m.pending = append(m.pending, sig)
	m.advance()
}

// advance enters Negotiating once media and counterpart are both there, and
// creates the peer when this side may: the initiator at once, the responder on an offer
func (m *Machine) advance() {
	if m.current() == AwaitingMedia && m.media != nil && m.peerPresent {
		m.transition(Negotiating, ReasonNone, nil)
	}
	if m.current() != Negotiating || m.peer != nil {
		return
	}
	if !m.cfg.Initiator && !m.hasPendingOffer() {
		return
	}

	peer, err := m.peers.NewPeer(PeerConfig{
		Initiator: m.cfg.Initiator,
		Media:     m.media,
		OnSignal: func(sig Signal) {
			m.post(func() { m.onLocalSignal(sig) })
		},
		OnConnected: func() {
			m.post(m.onConnected)
		},
		OnError: func(err error) {
			m.post(func() { m.finish(Failed, ReasonNegotiation, err) })
		},
	})
	if err != nil {
		m.finish(Failed, ReasonNegotiation, err)
		return
	}
	m.peer = peer
	m.replay()
}

func (m *Machine) hasPendingOffer() bool {
	for _, sig := range m.pending {
		if sig.Type == SignalOffer {
			return true
		}
	}
	return false
}

// replay applies buffered fragments: the first offer, then the rest in arrival order
func (m *Machine) replay() {
	pending := m.pending
	m.pending = nil

	ordered := make([]Signal, 0, len(pending))
	offerAt := -1
	for i, sig := range pending {
		if sig.Type == SignalOffer {
			offerAt = i
			ordered = append(ordered, sig)
			break
		}
	}
	for i, sig := range pending {
		if i != offerAt {
			ordered = append(ordered, sig)
		}
	}

	for _, sig := range ordered {
		if err := m.peer.Signal(sig); err != nil {
			m.finish(Failed, ReasonNegotiation, err)
			return
		}
	}
}

func (m *Machine) onLocalSignal(sig Signal) {
	if m.current().Terminal() {
		return
	}
	if err := m.signaler.SendSignal(m.ctx, sig); err != nil {
		m.finish(Failed, ReasonTransport, err)
	}
}

func (m *Machine) onConnected() {
	if m.current() == Negotiating {
		m.transition(Connected, ReasonNone, nil)
	}
}
