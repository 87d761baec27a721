package media

import (
	"context"

	"github.com/BioHazard786/roomcall/internal/callerr"
	"github.com/pion/webrtc/v4"
)

// SilentSource yields tracks that negotiate normally but never carry samples.
type SilentSource struct{}

func (SilentSource) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, callerr.Join("acquire media", callerr.ErrMediaAcquisition, err)
	}

	var tracks []webrtc.TrackLocal
	if c.Video {
		t, err := newVideoTrack()
		if err != nil {
			return nil, callerr.Join("acquire media", callerr.ErrMediaAcquisition, err)
		}
		tracks = append(tracks, t)
	}
	if c.Audio {
		t, err := newAudioTrack()
		if err != nil {
			return nil, callerr.Join("acquire media", callerr.ErrMediaAcquisition, err)
		}
		tracks = append(tracks, t)
	}
	return newStream(tracks), nil
}
