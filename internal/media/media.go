// Package media produces the local tracks of a call and consumes the remote ones.
package media

import (
	"context"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Constraints selects which kinds of local media a call wants.
type Constraints struct {
	Video bool
	Audio bool
}

// Source acquires local media. It is the stand-in for a camera and microphone.
type Source interface {
	Acquire(ctx context.Context, c Constraints) (*Stream, error)
}

// RemoteTrack is the receiving side of a track; *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Stream is a set of local tracks plus the goroutines feeding them.
type Stream struct {
	Tracks []webrtc.TrackLocal

	pumps     []func(ctx context.Context)
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func newStream(tracks []webrtc.TrackLocal, pumps ...func(ctx context.Context)) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{Tracks: tracks, pumps: pumps, ctx: ctx, cancel: cancel}
}

// Start begins writing samples. Calling it more than once has no effect.
func (s *Stream) Start() {
	s.startOnce.Do(func() {
		for _, pump := range s.pumps {
			s.wg.Add(1)
			go func(pump func(context.Context)) {
				defer s.wg.Done()
				pump(s.ctx)
			}(pump)
		}
	})
}

// Stop halts every pump and waits for them to return.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

// Kinds lists the kinds of the stream's tracks in order.
func (s *Stream) Kinds() []string {
	kinds := make([]string, 0, len(s.Tracks))
	for _, t := range s.Tracks {
		kinds = append(kinds, t.Kind().String())
	}
	return kinds
}

const streamID = "roomcall"

func newVideoTrack() (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
}

func newAudioTrack() (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
}
