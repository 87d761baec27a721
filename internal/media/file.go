package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/BioHazard786/roomcall/internal/callerr"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// oggPageDuration is the pacing of Opus pages produced by common encoders.
const oggPageDuration = 20 * time.Millisecond

// FileSource plays a VP8 IVF file and an Opus Ogg file as the local camera
// and microphone. Both loop until the stream is stopped.
type FileSource struct {
	VideoPath string
	AudioPath string
}

func (s *FileSource) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, callerr.Join("acquire media", callerr.ErrMediaAcquisition, err)
	}

	var (
		tracks []webrtc.TrackLocal
		pumps  []func(context.Context)
	)

	if c.Video {
		if s.VideoPath == "" {
			return nil, callerr.Wrap("acquire media", callerr.ErrMediaAcquisition, "camera unavailable: no video file configured")
		}
		info, err := ValidateFile(s.VideoPath, KindVideo)
		if err != nil {
			return nil, callerr.Join("acquire media", callerr.ErrMediaAcquisition, err)
		}
		if err := checkIVF(info.Path); err != nil {
			return nil, callerr.Join("acquire media", callerr.ErrMediaAcquisition, err)
		}
		track, err := newVideoTrack()
		if err != nil {
			return nil, callerr.Join("acquire media", callerr.ErrMediaAcquisition, err)
		}
		tracks = append(tracks, track)
		pumps = append(pumps, func(ctx context.Context) { loopFile(ctx, info.Path, track, playIVF) })
	}

	if c.Audio {
		if s.AudioPath == "" {
			return nil, callerr.Wrap("acquire media", callerr.ErrMediaAcquisition, "microphone unavailable: no audio file configured")
		}
		info, err := ValidateFile(s.AudioPath, KindAudio)
		if err != nil {
			return nil, callerr.Join("acquire media", callerr.ErrMediaAcquisition, err)
		}
		track, err := newAudioTrack()
		if err != nil {
			return nil, callerr.Join("acquire media", callerr.ErrMediaAcquisition, err)
		}
		tracks = append(tracks, track)
		pumps = append(pumps, func(ctx context.Context) { loopFile(ctx, info.Path, track, playOgg) })
	}

	return newStream(tracks, pumps...), nil
}

func checkIVF(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if header.FourCC != "VP80" {
		return fmt.Errorf("%s: unsupported codec %q, only VP8 is sent", path, header.FourCC)
	}
	return nil
}

type playFunc func(ctx context.Context, r io.Reader, track *webrtc.TrackLocalStaticSample) error

// loopFile replays path into track until ctx is done or playback fails.
func loopFile(ctx context.Context, path string, track *webrtc.TrackLocalStaticSample, play playFunc) {
	for ctx.Err() == nil {
		f, err := os.Open(path)
		if err != nil {
			slog.Error("open media file", "path", path, "err", err)
			return
		}
		err = play(ctx, f, track)
		f.Close()

		if err != nil && !errors.Is(err, io.EOF) {
			if ctx.Err() == nil {
				slog.Error("media playback stopped", "path", path, "err", err)
			}
			return
		}
	}
}

func playIVF(ctx context.Context, r io.Reader, track *webrtc.TrackLocalStaticSample) error {
	reader, header, err := ivfreader.NewWith(r)
	if err != nil {
		return err
	}

	frameDuration := time.Second / 30
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		frameDuration = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frame, _, err := reader.ParseNextFrame()
		if err != nil {
			return err
		}
		if err := track.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return err
		}
	}
}

func playOgg(ctx context.Context, r io.Reader, track *webrtc.TrackLocalStaticSample) error {
	reader, _, err := oggreader.NewWith(r)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		page, header, err := reader.ParseNextPage()
		if err != nil {
			return err
		}

		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples) / 48000 * float64(time.Second))

		if err := track.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
	}
}
