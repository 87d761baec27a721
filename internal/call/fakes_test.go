package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/roomcall/internal/callerr"
	"github.com/BioHazard786/roomcall/internal/chat"
	"github.com/BioHazard786/roomcall/internal/media"
	"github.com/BioHazard786/roomcall/internal/peer"
	"github.com/BioHazard786/roomcall/internal/signaling"
)

const waitTimeout = 5 * time.Second

type fakeRelay struct {
	in         chan *signaling.Envelope
	sent       chan *signaling.Envelope
	connectErr error

	mu     sync.Mutex
	joined []string
	closed bool
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		in:   make(chan *signaling.Envelope, 32),
		sent: make(chan *signaling.Envelope, 64),
	}
}

func (r *fakeRelay) Connect(ctx context.Context) error {
	if r.connectErr != nil {
		return r.connectErr
	}
	r.in <- &signaling.Envelope{Event: signaling.EventConnect}
	return nil
}

func (r *fakeRelay) JoinRoom(room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = append(r.joined, room)
	return nil
}

func (r *fakeRelay) Emit(env *signaling.Envelope) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return callerr.New("emit", callerr.ErrRelayDisconnected)
	}
	r.sent <- env
	return nil
}

func (r *fakeRelay) Incoming() <-chan *signaling.Envelope {
	return r.in
}

func (r *fakeRelay) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *fakeRelay) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// push delivers env as if the relay had sent it.
func (r *fakeRelay) push(env *signaling.Envelope) {
	r.in <- env
}

func (r *fakeRelay) expect(t *testing.T, event string) *signaling.Envelope {
	t.Helper()
	select {
	case env := <-r.sent:
		if env.Event != event {
			t.Fatalf("emitted %q, want %q", env.Event, event)
		}
		return env
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %q to be emitted", event)
	}
	return nil
}

type fakePeer struct {
	// gate, when set, holds CreateLocalDescriptor until closed.
	gate chan struct{}

	mu          sync.Mutex
	onCandidate func(*signaling.IceCandidate)
	onState     func(peer.ConnectionState)
	tracksAdded bool
	created     []string
	applied     []*signaling.SessionDescriptor
	candidates  []string
	closed      bool
}

func (p *fakePeer) OnLocalCandidate(fn func(*signaling.IceCandidate)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnRemoteTrack(fn func(media.RemoteTrack)) {}

func (p *fakePeer) OnConnectionStateChange(fn func(peer.ConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *fakePeer) AddLocalTracks(stream *media.Stream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracksAdded = true
	return nil
}

func (p *fakePeer) CreateLocalDescriptor(kind string) (*signaling.SessionDescriptor, error) {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, kind)
	return &signaling.SessionDescriptor{Type: kind, SDP: "v=0 local " + kind}, nil
}

func (p *fakePeer) ApplyRemoteDescriptor(d *signaling.SessionDescriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, d)
	return nil
}

func (p *fakePeer) AddRemoteCandidate(c *signaling.IceCandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c.Candidate)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) fireState(s peer.ConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (p *fakePeer) fireCandidate(candidate string) {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	if fn != nil {
		fn(&signaling.IceCandidate{Candidate: candidate})
	}
}

type peerCalls struct {
	tracksAdded bool
	created     []string
	applied     []*signaling.SessionDescriptor
	candidates  []string
	closed      bool
}

func (p *fakePeer) snapshot() peerCalls {
	p.mu.Lock()
	defer p.mu.Unlock()
	return peerCalls{
		tracksAdded: p.tracksAdded,
		created:     append([]string(nil), p.created...),
		applied:     append([]*signaling.SessionDescriptor(nil), p.applied...),
		candidates:  append([]string(nil), p.candidates...),
		closed:      p.closed,
	}
}

type peerFactory struct {
	gate chan struct{}

	mu    sync.Mutex
	peers []*fakePeer
}

func (f *peerFactory) New() (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{gate: f.gate}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *peerFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *peerFactory) only(t *testing.T) *fakePeer {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) != 1 {
		t.Fatalf("created %d peer connections, want 1", len(f.peers))
	}
	return f.peers[0]
}

type fakeSource struct {
	gate chan struct{}
	err  error
}

func (s *fakeSource) Acquire(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return nil, s.err
	}
	return media.SilentSource{}.Acquire(ctx, c)
}

type recorder struct {
	states    chan State
	confirmed chan struct{}
	lines     chan chat.Line

	mu     sync.Mutex
	seen   []State
	fatals []error
}

func newRecorder() *recorder {
	return &recorder{
		states:    make(chan State, 32),
		confirmed: make(chan struct{}, 4),
		lines:     make(chan chat.Line, 16),
	}
}

func (r *recorder) StateChanged(from, to State) {
	r.mu.Lock()
	r.seen = append(r.seen, to)
	r.mu.Unlock()
	r.states <- to
}

func (r *recorder) TransportConfirmed()                 { r.confirmed <- struct{}{} }
func (r *recorder) ChatLine(line chat.Line)             { r.lines <- line }
func (r *recorder) RemoteTrack(track media.RemoteTrack) {}

func (r *recorder) Fatal(err error) {
	r.mu.Lock()
	r.fatals = append(r.fatals, err)
	r.mu.Unlock()
}

func (r *recorder) history() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.seen...)
}

// waitFor consumes state changes until want shows up.
func (r *recorder) waitFor(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case s := <-r.states:
			if s == want {
				return
			}
			if s.Terminal() {
				t.Fatalf("reached %s while waiting for %s", s, want)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s (history %v)", want, r.history())
		}
	}
}
