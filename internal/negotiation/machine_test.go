package negotiation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "consultlink-backend/pkg/errors"
)

type fakeMedia struct {
	closed atomic.Int32
}

func (f *fakeMedia) Close() { f.closed.Add(1) }

// fakeSource returns the scripted errors in order, then forever (if set), then media
type fakeSource struct {
	mu       sync.Mutex
	errs     []error
	forever  error
	media    *fakeMedia
	attempts int
	block    chan struct{}
}

func (f *fakeSource) Acquire(ctx context.Context) (Media, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	if f.forever != nil {
		return nil, f.forever
	}
	return f.media, nil
}

func (f *fakeSource) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

type fakePeer struct {
	cfg    PeerConfig
	mu     sync.Mutex
	got    []Signal
	err    error
	closed atomic.Int32
}

func (p *fakePeer) Signal(sig Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, sig)
	return p.err
}

func (p *fakePeer) Close() { p.closed.Add(1) }

func (p *fakePeer) received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []string
	for _, sig := range p.got {
		types = append(types, sig.Type)
	}
	return types
}

// fakeFactory builds fakePeers; an initiator peer emits its offer at once
type fakeFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
	err   error
}

func (f *fakeFactory) NewPeer(cfg PeerConfig) (Peer, error) {
	if f.err != nil {
		return nil, f.err
	}
	peer := &fakePeer{cfg: cfg}
	f.mu.Lock()
	f.peers = append(f.peers, peer)
	f.mu.Unlock()
	if cfg.Initiator {
		cfg.OnSignal(Signal{Type: SignalOffer, Data: []byte(`{"type":"offer","sdp":"v=0"}`)})
	}
	return peer, nil
}

func (f *fakeFactory) peer(t *testing.T) *fakePeer {
	t.Helper()
	var peer *fakePeer
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.peers) == 0 {
			return false
		}
		peer = f.peers[0]
		return true
	}, time.Second, time.Millisecond)
	return peer
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []Signal
	err  error
}

func (f *fakeSignaler) SendSignal(ctx context.Context, sig Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sig)
	return f.err
}

func (f *fakeSignaler) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, sig := range f.sent {
		types = append(types, sig.Type)
	}
	return types
}

type harness struct {
	machine  *Machine
	source   *fakeSource
	factory  *fakeFactory
	signaler *fakeSignaler
}

func newHarness(initiator bool) *harness {
	h := &harness{
		source:   &fakeSource{media: &fakeMedia{}},
		factory:  &fakeFactory{},
		signaler: &fakeSignaler{},
	}
	h.machine = NewMachine(Config{
		Initiator:  initiator,
		MediaRetry: MediaRetry{Interval: 5 * time.Millisecond, MaxAttempts: 3},
	}, h.source, h.factory, h.signaler)
	return h
}

func waitState(t *testing.T, m *Machine, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, 2*time.Second, time.Millisecond,
		"want %s, have %s", want, m.State())
}

func waitDone(t *testing.T, m *Machine) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("machine did not stop, state %s", m.State())
	}
}

func states(m *Machine) []State {
	var out []State
	for tr := range m.Transitions() {
		out = append(out, tr.To)
	}
	return out
}

func TestInitiator_FullCall(t *testing.T) {
	h := newHarness(true)
	require.NoError(t, h.machine.Start(context.Background()))

	h.machine.PeerJoined()
	waitState(t, h.machine, Negotiating)

	peer := h.factory.peer(t)
	assert.True(t, peer.cfg.Initiator)
	require.Eventually(t, func() bool { return len(h.signaler.sentTypes()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{SignalOffer}, h.signaler.sentTypes())

	h.machine.HandleSignal(Signal{Type: SignalAnswer})
	h.machine.HandleSignal(Signal{Type: SignalCandidate})
	require.Eventually(t, func() bool { return len(peer.received()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{SignalAnswer, SignalCandidate}, peer.received())

	peer.cfg.OnConnected()
	waitState(t, h.machine, Connected)

	h.machine.HangUp()
	waitDone(t, h.machine)

	assert.Equal(t, []State{AwaitingMedia, Negotiating, Connected, Ended}, states(h.machine))
	assert.EqualValues(t, 1, peer.closed.Load())
	assert.EqualValues(t, 1, h.source.media.closed.Load())
}

func TestInitiator_WaitsForCounterpart(t *testing.T) {
	h := newHarness(true)
	require.NoError(t, h.machine.Start(context.Background()))

	waitState(t, h.machine, AwaitingMedia)
	require.Eventually(t, func() bool { return h.source.Attempts() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, AwaitingMedia, h.machine.State(), "media alone does not start negotiation")

	h.machine.PeerJoined()
	waitState(t, h.machine, Negotiating)
}

func TestResponder_BuffersUntilOffer(t *testing.T) {
	h := newHarness(false)
	h.source.errs = []error{ErrMediaNotReady, ErrMediaNotReady}
	require.NoError(t, h.machine.Start(context.Background()))

	h.machine.HandleSignal(Signal{Type: SignalCandidate, Data: []byte("c1")})
	h.machine.HandleSignal(Signal{Type: SignalOffer})
	h.machine.HandleSignal(Signal{Type: SignalCandidate, Data: []byte("c2")})

	peer := h.factory.peer(t)
	assert.False(t, peer.cfg.Initiator)
	require.Eventually(t, func() bool { return len(peer.received()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{SignalOffer, SignalCandidate, SignalCandidate}, peer.received())
	assert.Equal(t, []byte("c1"), peer.got[1].Data)
	assert.Equal(t, []byte("c2"), peer.got[2].Data)
	assert.Equal(t, Negotiating, h.machine.State())
	assert.Equal(t, 3, h.source.Attempts())
}

func TestResponder_NoPeerWithoutOffer(t *testing.T) {
	h := newHarness(false)
	require.NoError(t, h.machine.Start(context.Background()))

	h.machine.PeerJoined()
	waitState(t, h.machine, Negotiating)
	time.Sleep(20 * time.Millisecond)

	h.factory.mu.Lock()
	assert.Empty(t, h.factory.peers)
	h.factory.mu.Unlock()
}

func TestMediaRetry_IsBounded(t *testing.T) {
	h := newHarness(true)
	h.source.forever = ErrMediaNotReady
	require.NoError(t, h.machine.Start(context.Background()))

	waitDone(t, h.machine)

	reason, err := h.machine.Result()
	assert.Equal(t, Failed, h.machine.State())
	assert.Equal(t, ReasonCamera, reason)
	assert.ErrorIs(t, err, ErrMediaNotReady)
	assert.Equal(t, 3, h.source.Attempts())
}

func TestMediaPermissionDenied_FailsAtOnce(t *testing.T) {
	h := newHarness(false)
	h.source.errs = []error{ErrPermissionDenied}
	require.NoError(t, h.machine.Start(context.Background()))

	waitDone(t, h.machine)

	reason, err := h.machine.Result()
	assert.Equal(t, ReasonCamera, reason)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, 1, h.source.Attempts())
}

func TestPeerLeft(t *testing.T) {
	t.Run("while negotiating fails", func(t *testing.T) {
		h := newHarness(true)
		require.NoError(t, h.machine.Start(context.Background()))
		h.machine.PeerJoined()
		waitState(t, h.machine, Negotiating)
		peer := h.factory.peer(t)

		h.machine.PeerLeft()
		waitDone(t, h.machine)

		reason, _ := h.machine.Result()
		assert.Equal(t, Failed, h.machine.State())
		assert.Equal(t, ReasonNegotiation, reason)
		assert.EqualValues(t, 1, peer.closed.Load())
	})

	t.Run("while connected ends", func(t *testing.T) {
		h := newHarness(true)
		require.NoError(t, h.machine.Start(context.Background()))
		h.machine.PeerJoined()
		peer := h.factory.peer(t)
		peer.cfg.OnConnected()
		waitState(t, h.machine, Connected)

		h.machine.PeerLeft()
		waitDone(t, h.machine)

		assert.Equal(t, Ended, h.machine.State())
	})

	t.Run("while awaiting media stays", func(t *testing.T) {
		h := newHarness(true)
		h.source.block = make(chan struct{})
		require.NoError(t, h.machine.Start(context.Background()))
		waitState(t, h.machine, AwaitingMedia)

		h.machine.PeerJoined()
		h.machine.PeerLeft()
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, AwaitingMedia, h.machine.State())

		h.machine.HangUp()
		waitDone(t, h.machine)

		// Media that shows up after hang-up is released immediately
		close(h.source.block)
		require.Eventually(t, func() bool { return h.source.media.closed.Load() == 1 }, time.Second, time.Millisecond)
	})
}

func TestSignalerFailure_IsTransportError(t *testing.T) {
	h := newHarness(true)
	closed := errors.New("socket closed")
	h.signaler.err = closed
	require.NoError(t, h.machine.Start(context.Background()))
	h.machine.PeerJoined()

	waitDone(t, h.machine)

	reason, err := h.machine.Result()
	assert.Equal(t, ReasonTransport, reason)
	assert.ErrorIs(t, err, closed)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransport))
	assert.EqualValues(t, 1, h.source.media.closed.Load())
}

func TestPeerError_IsNegotiationError(t *testing.T) {
	h := newHarness(true)
	require.NoError(t, h.machine.Start(context.Background()))
	h.machine.PeerJoined()
	peer := h.factory.peer(t)

	peer.cfg.OnError(errors.New("ice failed"))
	waitDone(t, h.machine)

	reason, err := h.machine.Result()
	assert.Equal(t, ReasonNegotiation, reason)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNegotiation))
	assert.EqualValues(t, 1, peer.closed.Load())
}

func TestPeerConstructionFailure(t *testing.T) {
	h := newHarness(true)
	h.factory.err = errors.New("no codecs")
	require.NoError(t, h.machine.Start(context.Background()))
	h.machine.PeerJoined()

	waitDone(t, h.machine)

	reason, _ := h.machine.Result()
	assert.Equal(t, ReasonNegotiation, reason)
	assert.EqualValues(t, 1, h.source.media.closed.Load())
}

func TestContextCancel_Ends(t *testing.T) {
	h := newHarness(true)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.machine.Start(ctx))
	h.machine.PeerJoined()
	peer := h.factory.peer(t)

	cancel()
	waitDone(t, h.machine)

	assert.Equal(t, Ended, h.machine.State())
	assert.EqualValues(t, 1, peer.closed.Load())
	assert.EqualValues(t, 1, h.source.media.closed.Load())

	// Nothing happens after the end
	h.machine.HangUp()
	h.machine.PeerLeft()
	assert.Equal(t, Ended, h.machine.State())
	assert.ErrorIs(t, h.machine.Start(ctx), errAlreadyStarted)
}

func TestTransitions_TerminalSurvivesFullBuffer(t *testing.T) {
	h := newHarness(true)
	// Nobody reads while the call runs
	for i := 0; i < cap(h.machine.transitions); i++ {
		h.machine.transitions <- Transition{To: Idle}
	}
	require.NoError(t, h.machine.Start(context.Background()))
	h.machine.PeerJoined()
	waitState(t, h.machine, Negotiating)

	h.machine.HangUp()
	waitDone(t, h.machine)

	got := states(h.machine)
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), cap(h.machine.transitions))
	assert.Equal(t, Ended, got[len(got)-1])
}

func TestParseSignal(t *testing.T) {
	sig, err := ParseSignal([]byte(`{"type":"candidate","candidate":{"candidate":"a=1"}}`))
	require.NoError(t, err)
	assert.Equal(t, SignalCandidate, sig.Type)

	_, err = ParseSignal([]byte(`{"sdp":"v=0"}`))
	assert.Error(t, err)
}
