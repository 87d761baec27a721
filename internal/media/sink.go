package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// Sink consumes remote tracks until they end.
type Sink interface {
	Attach(track RemoteTrack) error
	Packets() uint64
	Close() error
}

type rtpWriter interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// DiskSink records VP8 to .ivf and Opus to .ogg files under Dir.
type DiskSink struct {
	Dir    string
	Prefix string

	packets atomic.Uint64
	wg      sync.WaitGroup
	mu      sync.Mutex
	files   []string
}

func NewDiskSink(dir, prefix string) (*DiskSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	return &DiskSink{Dir: dir, Prefix: prefix}, nil
}

func (s *DiskSink) Attach(track RemoteTrack) error {
	mime := strings.ToLower(track.Codec().MimeType)

	var (
		w    rtpWriter
		path string
		err  error
	)
	switch mime {
	case strings.ToLower(webrtc.MimeTypeVP8):
		path = s.path(track, "ivf")
		w, err = ivfwriter.New(path)
	case strings.ToLower(webrtc.MimeTypeOpus):
		path = s.path(track, "ogg")
		w, err = oggwriter.New(path, 48000, 2)
	default:
		slog.Warn("no recorder for codec, discarding", "mime", mime, "track", track.ID())
		s.drain(track, nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("open recording %s: %w", path, err)
	}

	s.mu.Lock()
	s.files = append(s.files, path)
	s.mu.Unlock()

	slog.Info("recording remote track", "kind", track.Kind().String(), "path", path)
	s.drain(track, w)
	return nil
}

// Files lists the recordings started so far.
func (s *DiskSink) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

func (s *DiskSink) Packets() uint64 {
	return s.packets.Load()
}

// Close waits for every attached track to end.
func (s *DiskSink) Close() error {
	s.wg.Wait()
	return nil
}

func (s *DiskSink) path(track RemoteTrack, ext string) string {
	name := fmt.Sprintf("%s-%s.%s", s.Prefix, track.Kind().String(), ext)
	if s.Prefix == "" {
		name = fmt.Sprintf("%s.%s", track.Kind().String(), ext)
	}
	return filepath.Join(s.Dir, name)
}

func (s *DiskSink) drain(track RemoteTrack, w rtpWriter) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		pumpRTP(track, w, &s.packets)
	}()
}

// DiscardSink reads remote tracks and throws the packets away.
type DiscardSink struct {
	packets atomic.Uint64
	wg      sync.WaitGroup
}

func (s *DiscardSink) Attach(track RemoteTrack) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		pumpRTP(track, nil, &s.packets)
	}()
	return nil
}

func (s *DiscardSink) Packets() uint64 {
	return s.packets.Load()
}

func (s *DiscardSink) Close() error {
	s.wg.Wait()
	return nil
}

func pumpRTP(track RemoteTrack, w rtpWriter, counter *atomic.Uint64) {
	if w != nil {
		defer func() {
			if err := w.Close(); err != nil {
				slog.Warn("close recording", "track", track.ID(), "err", err)
			}
		}()
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("remote track ended", "track", track.ID(), "err", err)
			}
			return
		}
		counter.Add(1)
		if w == nil {
			continue
		}
		if err := w.WriteRTP(pkt); err != nil {
			slog.Warn("write recording", "track", track.ID(), "err", err)
			return
		}
	}
}
