// Package call drives one participant through a two-party call: it joins a
// relay room, acquires local media, negotiates a peer connection and tears
// everything down when the call ends.
//
// All relay envelopes, peer callbacks and asynchronous completions are
// processed on the goroutine running Run, so the state needs no locking
// beyond the snapshot exposed by Stats.
package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BioHazard786/roomcall/internal/callerr"
	"github.com/BioHazard786/roomcall/internal/chat"
	"github.com/BioHazard786/roomcall/internal/media"
	"github.com/BioHazard786/roomcall/internal/peer"
	"github.com/BioHazard786/roomcall/internal/signaling"
)

// eventBuffer bounds completions waiting for the loop. Peer callbacks fire
// synchronously during Close, so it has to absorb a burst while the loop is
// busy tearing down.
const eventBuffer = 64

// Relay is the signaling connection. *signaling.Client implements it.
type Relay interface {
	Connect(ctx context.Context) error
	JoinRoom(room string) error
	Emit(env *signaling.Envelope) error
	Incoming() <-chan *signaling.Envelope
	Close() error
}

// PeerConnection is the transport half of a call. *peer.Adapter implements it.
type PeerConnection interface {
	OnLocalCandidate(fn func(*signaling.IceCandidate))
	OnRemoteTrack(fn func(media.RemoteTrack))
	OnConnectionStateChange(fn func(peer.ConnectionState))
	AddLocalTracks(stream *media.Stream) error
	CreateLocalDescriptor(kind string) (*signaling.SessionDescriptor, error)
	ApplyRemoteDescriptor(d *signaling.SessionDescriptor) error
	AddRemoteCandidate(c *signaling.IceCandidate) error
	Close() error
}

// Listener is told about everything the presentation layer shows. Methods
// run on the processing loop and must not block.
type Listener interface {
	StateChanged(from, to State)
	TransportConfirmed()
	ChatLine(line chat.Line)
	RemoteTrack(track media.RemoteTrack)
	Fatal(err error)
}

// NopListener ignores every notification.
type NopListener struct{}

func (NopListener) StateChanged(State, State)     {}
func (NopListener) TransportConfirmed()           {}
func (NopListener) ChatLine(chat.Line)            {}
func (NopListener) RemoteTrack(media.RemoteTrack) {}
func (NopListener) Fatal(error)                   {}

type Options struct {
	Room        string
	Constraints media.Constraints
}

// Deps are the collaborators of one call. Relay, Media and NewPeer are
// required.
type Deps struct {
	Relay   Relay
	Media   media.Source
	NewPeer func() (PeerConnection, error)

	// Sink receives remote tracks; DiscardSink when nil.
	Sink     media.Sink
	Chat     *chat.Relay
	Listener Listener
	Logger   *slog.Logger
}

// Stats is a snapshot for the end-of-call summary.
type Stats struct {
	Room      string
	Role      Role
	State     State
	Confirmed bool

	LocalCandidates  int
	RemoteCandidates int
	DiscardedOffers  int
	ChatLines        int
	RemoteTracks     int

	JoinedAt    time.Time
	ConnectedAt time.Time
	EndedAt     time.Time
	Err         error
}

// Duration is how long media flowed, or zero if the transport never came up.
func (s Stats) Duration() time.Duration {
	if s.ConnectedAt.IsZero() {
		return 0
	}
	end := s.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.ConnectedAt)
}

// Orchestrator runs a single join. It is not reusable.
type Orchestrator struct {
	opts    Options
	deps    Deps
	log     *slog.Logger
	handler *signaling.Handler

	events    chan func()
	leave     chan struct{}
	leaveOnce sync.Once
	done      chan struct{}
	started   atomic.Bool
	ctx       context.Context

	// Owned by the loop.
	state        State
	role         Role
	selfID       string
	stream       *media.Stream
	pc           PeerConnection
	early        []*signaling.IceCandidate
	outgoing     []*signaling.IceCandidate
	negotiating  bool
	transportUp  bool
	pendingOffer *signaling.SessionDescriptor
	remoteOffer  *signaling.SessionDescriptor
	remoteAnswer *signaling.SessionDescriptor
	err          error

	mu    sync.RWMutex
	stats Stats
}

func New(opts Options, deps Deps) *Orchestrator {
	if deps.Listener == nil {
		deps.Listener = NopListener{}
	}
	if deps.Sink == nil {
		deps.Sink = &media.DiscardSink{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	o := &Orchestrator{
		opts:    opts,
		deps:    deps,
		log:     deps.Logger.With("room", opts.Room),
		handler: signaling.NewHandler(),
		events:  make(chan func(), eventBuffer),
		leave:   make(chan struct{}),
		done:    make(chan struct{}),
		stats:   Stats{Room: opts.Room},
	}

	o.handler.On(signaling.EventConnect, o.onRelayConnect)
	o.handler.On(signaling.EventJoined, o.onJoined)
	o.handler.On(signaling.EventOffer, o.onOffer)
	o.handler.On(signaling.EventAnswer, o.onAnswer)
	o.handler.On(signaling.EventCandidate, o.onCandidate)
	o.handler.On(signaling.EventEvent, o.onNotice)
	o.handler.On(signaling.EventError, o.onRelayError)
	o.handler.On(signaling.EventDisconnect, o.onRelayDisconnect)

	if deps.Chat != nil {
		deps.Chat.Register(o.handler)
		deps.Chat.OnLine(o.onChatLine)
	}
	return o
}

// Run connects to the relay and processes the call until it reaches a
// terminal state. It returns the cause of the end, nil when the participant
// left on their own.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return callerr.Wrap("run call", ErrStateConflict, "already started")
	}
	defer func() {
		if err := o.deps.Sink.Close(); err != nil {
			o.log.Warn("close sink", "error", err)
		}
	}()
	defer close(o.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.ctx = ctx

	if err := o.deps.Relay.Connect(ctx); err != nil {
		o.finish(StateFailed, classify("connect relay", ErrConnection, err))
		return o.err
	}

	incoming := o.deps.Relay.Incoming()
	for !o.state.Terminal() {
		select {
		case <-ctx.Done():
			o.finish(StateDisconnected, nil)
		case <-o.leave:
			o.finish(StateDisconnected, nil)
		case env, ok := <-incoming:
			if !ok {
				o.finish(StateDisconnected, callerr.New("read relay", ErrRelayDisconnected))
				continue
			}
			o.handler.Dispatch(env)
		case fn := <-o.events:
			fn()
		}
	}
	return o.err
}

// Leave ends the call. Safe to call from any goroutine, any number of times.
func (o *Orchestrator) Leave() {
	o.leaveOnce.Do(func() { close(o.leave) })
}

// Done is closed once Run has returned.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stats.State
}

func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stats
}

// post hands fn to the loop. It reports false once the loop has exited.
func (o *Orchestrator) post(fn func()) bool {
	select {
	case o.events <- fn:
		return true
	case <-o.done:
		return false
	}
}

func (o *Orchestrator) update(fn func(s *Stats)) {
	o.mu.Lock()
	fn(&o.stats)
	o.mu.Unlock()
}

func (o *Orchestrator) transition(to State) bool {
	from := o.state
	if !CanTransition(from, to) {
		o.log.Error("rejected state transition", "from", from, "to", to)
		return false
	}
	o.state = to
	o.update(func(s *Stats) {
		s.State = to
		if to.Terminal() {
			s.EndedAt = time.Now()
		}
	})
	o.log.Info("call state", "from", from, "to", to)
	o.deps.Listener.StateChanged(from, to)
	return true
}

// finish moves to a terminal state once and releases every resource.
func (o *Orchestrator) finish(to State, err error) {
	if o.state.Terminal() {
		return
	}
	o.err = err
	o.update(func(s *Stats) { s.Err = err })
	o.transition(to)
	o.teardown()

	if err != nil {
		o.log.Error("call ended", "state", to, "error", err)
		o.deps.Listener.Fatal(err)
	}
}

func (o *Orchestrator) fail(err error) {
	o.finish(StateFailed, err)
}

func (o *Orchestrator) teardown() {
	if o.pc != nil {
		o.pc.OnLocalCandidate(nil)
		o.pc.OnRemoteTrack(nil)
		o.pc.OnConnectionStateChange(nil)
		if err := o.pc.Close(); err != nil {
			o.log.Warn("close peer connection", "error", err)
		}
	}
	if o.stream != nil {
		o.stream.Stop()
	}
	if err := o.deps.Relay.Close(); err != nil {
		o.log.Debug("close relay", "error", err)
	}
	o.early = nil
	o.outgoing = nil
}

// emit sends env and ends the call if the relay is gone.
func (o *Orchestrator) emit(env *signaling.Envelope) bool {
	err := o.deps.Relay.Emit(env)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrRelayDisconnected) {
		o.finish(StateDisconnected, err)
	} else {
		o.fail(classify("emit "+env.Event, ErrConnection, err))
	}
	return false
}

func (o *Orchestrator) onRelayConnect(*signaling.Envelope) {
	if o.state != StateIdle {
		return
	}
	o.log.Debug("relay connected, joining")
	if err := o.deps.Relay.JoinRoom(o.opts.Room); err != nil {
		if errors.Is(err, ErrRelayDisconnected) {
			o.finish(StateDisconnected, err)
			return
		}
		o.fail(classify("join room", ErrConnection, err))
	}
}

func (o *Orchestrator) onJoined(env *signaling.Envelope) {
	if o.state != StateIdle || o.role != RoleUnknown {
		o.log.Debug("ignoring repeated join acknowledgement")
		return
	}

	o.selfID = env.ID
	o.role = RoleOfferer
	if len(env.Peers) > 0 {
		o.role = RoleAnswerer
	}
	o.update(func(s *Stats) {
		s.Role = o.role
		s.JoinedAt = time.Now()
	})
	o.log.Info("joined room", "id", o.selfID, "role", o.role, "peers", len(env.Peers))

	if !o.transition(StateAcquiringMedia) {
		return
	}

	ctx, source, constraints := o.ctx, o.deps.Media, o.opts.Constraints
	go func() {
		stream, err := source.Acquire(ctx, constraints)
		if !o.post(func() { o.mediaReady(stream, err) }) && stream != nil {
			stream.Stop()
		}
	}()
}

func (o *Orchestrator) mediaReady(stream *media.Stream, err error) {
	if o.state != StateAcquiringMedia {
		if stream != nil {
			stream.Stop()
		}
		o.log.Debug("discarding late media", "state", o.state)
		return
	}
	if err != nil {
		o.fail(classify("acquire media", ErrMediaAcquisition, err))
		return
	}
	o.stream = stream

	pc, err := o.deps.NewPeer()
	if err != nil {
		o.fail(classify("create peer connection", ErrNegotiation, err))
		return
	}
	o.pc = pc

	pc.OnLocalCandidate(func(c *signaling.IceCandidate) {
		o.post(func() { o.localCandidate(c) })
	})
	pc.OnRemoteTrack(func(t media.RemoteTrack) {
		o.post(func() { o.remoteTrack(t) })
	})
	pc.OnConnectionStateChange(func(s peer.ConnectionState) {
		o.post(func() { o.transportChanged(s) })
	})

	if err := pc.AddLocalTracks(stream); err != nil {
		o.fail(classify("add local tracks", ErrNegotiation, err))
		return
	}

	for _, c := range o.early {
		o.applyCandidate(c)
	}
	o.early = nil

	if o.transition(StateConnectionReady) {
		o.negotiate()
	}
}

// negotiate starts the offer or answer from ConnectionReady. A remote offer
// that is already waiting always wins.
func (o *Orchestrator) negotiate() {
	switch {
	case o.pendingOffer != nil:
		offer := o.pendingOffer
		o.pendingOffer = nil
		o.answer(offer)
	case o.role == RoleOfferer:
		o.offer()
	default:
		o.log.Info("waiting for offer")
	}
}

func (o *Orchestrator) offer() {
	o.negotiating = true
	pc := o.pc
	go func() {
		d, err := pc.CreateLocalDescriptor(signaling.SDPTypeOffer)
		o.post(func() { o.offerCreated(d, err) })
	}()
}

func (o *Orchestrator) offerCreated(d *signaling.SessionDescriptor, err error) {
	if o.state != StateConnectionReady {
		return
	}
	o.negotiating = false
	if err != nil {
		o.fail(classify("create offer", ErrNegotiation, err))
		return
	}
	if !o.emit(&signaling.Envelope{Event: signaling.EventOffer, Room: o.opts.Room, Offer: d}) {
		return
	}
	if o.transition(StateOfferSent) {
		o.flushOutgoing()
	}
}

func (o *Orchestrator) answer(offer *signaling.SessionDescriptor) {
	o.negotiating = true
	o.remoteOffer = offer
	pc := o.pc
	go func() {
		var d *signaling.SessionDescriptor
		err := pc.ApplyRemoteDescriptor(offer)
		if err == nil {
			d, err = pc.CreateLocalDescriptor(signaling.SDPTypeAnswer)
		}
		o.post(func() { o.answerCreated(d, err) })
	}()
}

func (o *Orchestrator) answerCreated(d *signaling.SessionDescriptor, err error) {
	if o.state != StateConnectionReady {
		return
	}
	o.negotiating = false
	if err != nil {
		o.fail(classify("answer offer", ErrNegotiation, err))
		return
	}
	if !o.emit(&signaling.Envelope{Event: signaling.EventAnswer, Room: o.opts.Room, Answer: d}) {
		return
	}
	if !o.transition(StateAnswerSent) {
		return
	}
	o.flushOutgoing()
	o.connected()
}

func (o *Orchestrator) answerApplied(err error) {
	if o.state != StateOfferSent {
		return
	}
	o.negotiating = false
	if err != nil {
		o.fail(classify("apply answer", ErrNegotiation, err))
		return
	}
	o.connected()
}

func (o *Orchestrator) connected() {
	if !o.transition(StateConnected) {
		return
	}
	if o.transportUp {
		o.confirm()
	}
}

// confirm marks media as flowing once both negotiation and transport agree.
func (o *Orchestrator) confirm() {
	o.update(func(s *Stats) {
		if !s.Confirmed {
			s.Confirmed = true
			s.ConnectedAt = time.Now()
		}
	})
	if o.stream != nil {
		o.stream.Start()
	}
	o.log.Info("media flowing")
	o.deps.Listener.TransportConfirmed()
}

func (o *Orchestrator) onOffer(env *signaling.Envelope) {
	d := env.Offer
	if d.Equal(o.remoteOffer) || d.Equal(o.pendingOffer) {
		o.log.Debug("ignoring repeated offer")
		return
	}

	switch o.state {
	case StateIdle, StateAcquiringMedia:
		if o.pendingOffer != nil {
			o.log.Warn("replacing buffered offer", "from", env.From)
		}
		o.pendingOffer = d
	case StateConnectionReady:
		switch {
		case o.remoteOffer != nil:
			o.fail(callerr.Wrap("apply offer", ErrStateConflict, "second offer while answering"))
		case o.negotiating:
			o.discardOffer(env)
		default:
			o.answer(d)
		}
	case StateOfferSent:
		o.discardOffer(env)
	case StateAnswerSent, StateConnected:
		o.fail(callerr.Wrap("apply offer", ErrStateConflict, "offer after negotiation"))
	}
}

// discardOffer drops a colliding offer while this side is the offerer.
func (o *Orchestrator) discardOffer(env *signaling.Envelope) {
	o.update(func(s *Stats) { s.DiscardedOffers++ })
	o.log.Warn("discarding offer", "from", env.From, "state", o.state,
		"error", callerr.Wrap("apply offer", ErrStateConflict, "glare"))
}

func (o *Orchestrator) onAnswer(env *signaling.Envelope) {
	d := env.Answer
	if o.remoteAnswer != nil {
		if d.Equal(o.remoteAnswer) {
			o.log.Debug("ignoring repeated answer")
			return
		}
		o.fail(callerr.Wrap("apply answer", ErrStateConflict, "answer after negotiation"))
		return
	}
	if o.state != StateOfferSent {
		o.log.Warn("discarding answer", "state", o.state,
			"error", callerr.Wrap("apply answer", ErrStateConflict, "no offer outstanding"))
		return
	}

	o.remoteAnswer = d
	o.negotiating = true
	pc := o.pc
	go func() {
		err := pc.ApplyRemoteDescriptor(d)
		o.post(func() { o.answerApplied(err) })
	}()
}

func (o *Orchestrator) onCandidate(env *signaling.Envelope) {
	o.update(func(s *Stats) { s.RemoteCandidates++ })
	if o.pc == nil {
		o.early = append(o.early, env.Candidate)
		return
	}
	o.applyCandidate(env.Candidate)
}

func (o *Orchestrator) applyCandidate(c *signaling.IceCandidate) {
	if err := o.pc.AddRemoteCandidate(c); err != nil {
		o.log.Warn("remote candidate rejected", "candidate", c.Candidate, "error", err)
	}
}

// localCandidate is held until our descriptor has gone out so the relay can
// replay it to a late peer.
func (o *Orchestrator) localCandidate(c *signaling.IceCandidate) {
	if o.state.Terminal() {
		return
	}
	if !o.localSent() {
		o.outgoing = append(o.outgoing, c)
		return
	}
	o.sendCandidate(c)
}

func (o *Orchestrator) localSent() bool {
	return o.state == StateOfferSent || o.state == StateAnswerSent || o.state == StateConnected
}

func (o *Orchestrator) flushOutgoing() {
	queued := o.outgoing
	o.outgoing = nil
	for _, c := range queued {
		if !o.sendCandidate(c) {
			return
		}
	}
}

func (o *Orchestrator) sendCandidate(c *signaling.IceCandidate) bool {
	if !o.emit(&signaling.Envelope{Event: signaling.EventCandidate, Room: o.opts.Room, Candidate: c}) {
		return false
	}
	o.update(func(s *Stats) { s.LocalCandidates++ })
	return true
}

func (o *Orchestrator) remoteTrack(t media.RemoteTrack) {
	if o.state.Terminal() {
		return
	}
	o.update(func(s *Stats) { s.RemoteTracks++ })
	if err := o.deps.Sink.Attach(t); err != nil {
		o.log.Warn("attach remote track", "track", t.ID(), "error", err)
	}
	o.deps.Listener.RemoteTrack(t)
}

func (o *Orchestrator) transportChanged(s peer.ConnectionState) {
	o.log.Debug("transport state", "state", s, "call", o.state)
	switch s {
	case peer.StateConnected:
		o.transportUp = true
		if o.state == StateConnected {
			o.confirm()
		}
	case peer.StateDisconnected:
		o.log.Warn("transport interrupted, waiting for recovery")
	case peer.StateFailed, peer.StateClosed:
		o.finish(StateDisconnected, callerr.Wrap("peer transport", ErrTransportFailed, string(s)))
	}
}

func (o *Orchestrator) onNotice(env *signaling.Envelope) {
	o.log.Info("relay notice", "detail", env.Detail, "from", env.From)
}

func (o *Orchestrator) onRelayError(env *signaling.Envelope) {
	o.fail(callerr.Wrap("relay", ErrConnection, env.Error))
}

func (o *Orchestrator) onRelayDisconnect(*signaling.Envelope) {
	o.finish(StateDisconnected, callerr.New("relay", ErrRelayDisconnected))
}

func (o *Orchestrator) onChatLine(line chat.Line) {
	o.update(func(s *Stats) { s.ChatLines++ })
	o.deps.Listener.ChatLine(line)
}
