// Package peer wraps a pion PeerConnection behind the operations a call
// needs, translating between relay envelopes and pion types.
package peer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/roomcall/internal/callerr"
	"github.com/BioHazard786/roomcall/internal/config"
	"github.com/BioHazard786/roomcall/internal/media"
	"github.com/BioHazard786/roomcall/internal/signaling"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// ConnectionState is the aggregate transport state reported by pion.
type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// keyframeInterval paces picture-loss requests on remote video.
const keyframeInterval = 3 * time.Second

// Adapter is one PeerConnection. Remote candidates are held until a remote
// description is in place, then applied in the order they arrived.
type Adapter struct {
	pc *webrtc.PeerConnection

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	closed    bool

	cbMu        sync.RWMutex
	onCandidate func(*signaling.IceCandidate)
	onTrack     func(media.RemoteTrack)
	onState     func(ConnectionState)

	done      chan struct{}
	closeOnce sync.Once
}

// NewAdapter creates the PeerConnection from the configured ICE servers.
func NewAdapter(api *webrtc.API, cfg *config.Config) (*Adapter, error) {
	pc, err := api.NewPeerConnection(iceConfiguration(cfg, localInterfaces))
	if err != nil {
		return nil, callerr.Join("create peer connection", callerr.ErrNegotiation, err)
	}

	a := &Adapter{pc: pc, done: make(chan struct{})}

	pc.OnICECandidate(a.handleLocalCandidate)
	pc.OnTrack(a.handleTrack)
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		a.cbMu.RLock()
		fn := a.onState
		a.cbMu.RUnlock()
		if fn != nil {
			fn(ConnectionState(s.String()))
		}
	})

	return a, nil
}

// OnLocalCandidate registers fn for every locally gathered candidate.
func (a *Adapter) OnLocalCandidate(fn func(*signaling.IceCandidate)) {
	a.cbMu.Lock()
	a.onCandidate = fn
	a.cbMu.Unlock()
}

// OnRemoteTrack registers fn for every track the peer sends.
func (a *Adapter) OnRemoteTrack(fn func(media.RemoteTrack)) {
	a.cbMu.Lock()
	a.onTrack = fn
	a.cbMu.Unlock()
}

// OnConnectionStateChange registers fn for transport state changes.
func (a *Adapter) OnConnectionStateChange(fn func(ConnectionState)) {
	a.cbMu.Lock()
	a.onState = fn
	a.cbMu.Unlock()
}

// AddLocalTracks attaches the stream's tracks. It must happen before any
// description is set; renegotiation is not supported.
func (a *Adapter) AddLocalTracks(stream *media.Stream) error {
	if a.pc.LocalDescription() != nil || a.pc.RemoteDescription() != nil {
		return callerr.Wrap("add local tracks", callerr.ErrStateConflict, "negotiation already started")
	}

	for _, track := range stream.Tracks {
		sender, err := a.pc.AddTrack(track)
		if err != nil {
			return callerr.Join("add local tracks", callerr.ErrNegotiation, err)
		}
		go drainRTCP(sender)
	}
	return nil
}

// CreateLocalDescriptor creates an offer or answer and sets it locally. A
// description without any media section is refused.
func (a *Adapter) CreateLocalDescriptor(kind string) (*signaling.SessionDescriptor, error) {
	if len(a.pc.GetTransceivers()) == 0 {
		return nil, callerr.Wrap("create "+kind, callerr.ErrNegotiation, "no local media")
	}

	switch kind {
	case signaling.SDPTypeOffer:
		if a.pc.LocalDescription() != nil || a.pc.SignalingState() != webrtc.SignalingStateStable {
			return nil, callerr.Wrap("create offer", callerr.ErrStateConflict, a.pc.SignalingState().String())
		}
		offer, err := a.pc.CreateOffer(nil)
		if err != nil {
			return nil, callerr.Join("create offer", callerr.ErrNegotiation, err)
		}
		if err := a.pc.SetLocalDescription(offer); err != nil {
			return nil, callerr.Join("set local description", callerr.ErrNegotiation, err)
		}

	case signaling.SDPTypeAnswer:
		if a.pc.SignalingState() != webrtc.SignalingStateHaveRemoteOffer {
			return nil, callerr.Wrap("create answer", callerr.ErrNegotiation, "no remote offer applied")
		}
		answer, err := a.pc.CreateAnswer(nil)
		if err != nil {
			return nil, callerr.Join("create answer", callerr.ErrNegotiation, err)
		}
		if err := a.pc.SetLocalDescription(answer); err != nil {
			return nil, callerr.Join("set local description", callerr.ErrNegotiation, err)
		}

	default:
		return nil, callerr.Wrap("create local description", callerr.ErrNegotiation, fmt.Sprintf("unknown kind %q", kind))
	}

	local := a.pc.LocalDescription()
	return &signaling.SessionDescriptor{Type: local.Type.String(), SDP: local.SDP}, nil
}

// CreateOffer is CreateLocalDescriptor(offer).
func (a *Adapter) CreateOffer() (*signaling.SessionDescriptor, error) {
	return a.CreateLocalDescriptor(signaling.SDPTypeOffer)
}

// CreateAnswer is CreateLocalDescriptor(answer).
func (a *Adapter) CreateAnswer() (*signaling.SessionDescriptor, error) {
	return a.CreateLocalDescriptor(signaling.SDPTypeAnswer)
}

// ApplyRemoteDescriptor sets the peer's offer or answer, then applies any
// candidates that arrived ahead of it.
func (a *Adapter) ApplyRemoteDescriptor(d *signaling.SessionDescriptor) error {
	var sdpType webrtc.SDPType
	state := a.pc.SignalingState()

	switch d.Type {
	case signaling.SDPTypeOffer:
		sdpType = webrtc.SDPTypeOffer
		if state != webrtc.SignalingStateStable || a.pc.RemoteDescription() != nil {
			return callerr.Wrap("apply remote offer", callerr.ErrStateConflict, state.String())
		}
	case signaling.SDPTypeAnswer:
		sdpType = webrtc.SDPTypeAnswer
		if state != webrtc.SignalingStateHaveLocalOffer {
			return callerr.Wrap("apply remote answer", callerr.ErrStateConflict, state.String())
		}
	default:
		return callerr.Wrap("apply remote description", callerr.ErrNegotiation, fmt.Sprintf("unknown type %q", d.Type))
	}

	slog.Debug("applying remote description", "type", d.Type, "media", sdpSummary(d.SDP))

	if err := a.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: d.SDP}); err != nil {
		return callerr.Join("set remote description", callerr.ErrNegotiation, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.remoteSet = true
	for _, c := range a.pending {
		if err := a.pc.AddICECandidate(c); err != nil {
			slog.Warn("buffered candidate rejected", "candidate", c.Candidate, "err", err)
		}
	}
	if n := len(a.pending); n > 0 {
		slog.Debug("applied buffered candidates", "count", n)
	}
	a.pending = nil
	return nil
}

// AddRemoteCandidate applies c, or holds it until a remote description exists.
func (a *Adapter) AddRemoteCandidate(c *signaling.IceCandidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	if !a.remoteSet {
		a.pending = append(a.pending, init)
		return nil
	}
	if err := a.pc.AddICECandidate(init); err != nil {
		return callerr.Join("add remote candidate", callerr.ErrNegotiation, err)
	}
	return nil
}

// PendingCandidates reports how many remote candidates are still held.
func (a *Adapter) PendingCandidates() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Close tears the PeerConnection down. It is safe to call more than once.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.pending = nil
		a.mu.Unlock()

		close(a.done)
		err = a.pc.Close()
	})
	return err
}

func (a *Adapter) handleLocalCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	init := c.ToJSON()

	a.cbMu.RLock()
	fn := a.onCandidate
	a.cbMu.RUnlock()
	if fn == nil {
		return
	}
	fn(&signaling.IceCandidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	})
}

func (a *Adapter) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	slog.Info("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType, "ssrc", track.SSRC())

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go a.requestKeyframes(track)
	}

	a.cbMu.RLock()
	fn := a.onTrack
	a.cbMu.RUnlock()
	if fn != nil {
		fn(track)
	}
}

// requestKeyframes sends periodic PLIs so recordings start on a keyframe.
func (a *Adapter) requestKeyframes(track *webrtc.TrackRemote) {
	ticker := time.NewTicker(keyframeInterval)
	defer ticker.Stop()

	pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
	if err := a.pc.WriteRTCP(pli); err != nil {
		return
	}
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			if err := a.pc.WriteRTCP(pli); err != nil {
				return
			}
		}
	}
}

// drainRTCP reads incoming RTCP so interceptors such as NACK keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
