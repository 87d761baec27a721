package media

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/BioHazard786/roomcall/internal/callerr"
	"github.com/google/go-cmp/cmp"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// writeIVF writes a minimal VP8 IVF file with n frames.
func writeIVF(t *testing.T, dir string, n int) string {
	t.Helper()

	header := make([]byte, 32)
	copy(header[0:], "DKIF")
	binary.LittleEndian.PutUint16(header[4:], 0)
	binary.LittleEndian.PutUint16(header[6:], 32)
	copy(header[8:], "VP80")
	binary.LittleEndian.PutUint16(header[12:], 64)
	binary.LittleEndian.PutUint16(header[14:], 48)
	binary.LittleEndian.PutUint32(header[16:], 30)
	binary.LittleEndian.PutUint32(header[20:], 1)
	binary.LittleEndian.PutUint32(header[24:], uint32(n))

	data := header
	for i := 0; i < n; i++ {
		frame := make([]byte, 12+4)
		binary.LittleEndian.PutUint32(frame[0:], 4)
		binary.LittleEndian.PutUint64(frame[4:], uint64(i))
		copy(frame[12:], []byte{0x10, 0x02, 0x00, 0x9d})
		data = append(data, frame...)
	}

	path := filepath.Join(dir, "cam.ivf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()
	ivf := writeIVF(t, dir, 1)

	empty := filepath.Join(dir, "empty.ogg")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	wrongExt := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(wrongExt, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		kind    string
		wantErr bool
	}{
		{"ivf video", ivf, "video", false},
		{"ivf as audio", ivf, "audio", true},
		{"missing", filepath.Join(dir, "nope.ivf"), "video", true},
		{"directory", dir, "video", true},
		{"empty", empty, "audio", true},
		{"wrong extension", wrongExt, "video", true},
		{"unknown kind", ivf, "screen", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ValidateFile(tt.path, tt.kind)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && (info.Name != "cam.ivf" || info.Size == 0) {
				t.Fatalf("info = %+v", info)
			}
		})
	}
}

func TestFileSourceUnavailableDevice(t *testing.T) {
	src := &FileSource{}
	_, err := src.Acquire(context.Background(), Constraints{Video: true, Audio: true})
	if !errors.Is(err, callerr.ErrMediaAcquisition) {
		t.Fatalf("err = %v, want ErrMediaAcquisition", err)
	}
}

func TestFileSourceVideo(t *testing.T) {
	src := &FileSource{VideoPath: writeIVF(t, t.TempDir(), 3)}
	stream, err := src.Acquire(context.Background(), Constraints{Video: true})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	stream.Start()
	stream.Stop()

	if diff := cmp.Diff([]string{"video"}, stream.Kinds()); diff != "" {
		t.Fatalf("kinds (-want +got):\n%s", diff)
	}
}

func TestSilentSource(t *testing.T) {
	stream, err := SilentSource{}.Acquire(context.Background(), Constraints{Video: true, Audio: true})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Stop()
	if diff := cmp.Diff([]string{"video", "audio"}, stream.Kinds()); diff != "" {
		t.Fatalf("kinds (-want +got):\n%s", diff)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (SilentSource{}).Acquire(ctx, Constraints{Audio: true}); !errors.Is(err, callerr.ErrMediaAcquisition) {
		t.Fatalf("cancelled acquire err = %v", err)
	}
}

type fakeTrack struct {
	kind    webrtc.RTPCodecType
	mime    string
	packets []*rtp.Packet
}

func (f *fakeTrack) ID() string                { return "fake-" + f.kind.String() }
func (f *fakeTrack) Kind() webrtc.RTPCodecType { return f.kind }

func (f *fakeTrack) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: f.mime, ClockRate: 48000, Channels: 2}}
}

func (f *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if len(f.packets) == 0 {
		return nil, nil, io.EOF
	}
	p := f.packets[0]
	f.packets = f.packets[1:]
	return p, nil, nil
}

func opusPackets(n int) []*rtp.Packet {
	var out []*rtp.Packet
	for i := 0; i < n; i++ {
		out = append(out, &rtp.Packet{
			Header:  rtp.Header{Version: 2, PayloadType: 111, SequenceNumber: uint16(i), Timestamp: uint32(i * 960)},
			Payload: []byte{0xfc, 0xff, 0xfe},
		})
	}
	return out
}

func TestDiscardSinkCounts(t *testing.T) {
	sink := &DiscardSink{}
	if err := sink.Attach(&fakeTrack{kind: webrtc.RTPCodecTypeAudio, mime: webrtc.MimeTypeOpus, packets: opusPackets(5)}); err != nil {
		t.Fatal(err)
	}
	sink.Close()
	if got := sink.Packets(); got != 5 {
		t.Fatalf("packets = %d, want 5", got)
	}
}

func TestDiskSinkRecordsOpus(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDiskSink(dir, "call")
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Attach(&fakeTrack{kind: webrtc.RTPCodecTypeAudio, mime: webrtc.MimeTypeOpus, packets: opusPackets(10)}); err != nil {
		t.Fatal(err)
	}
	sink.Close()

	want := filepath.Join(dir, "call-audio.ogg")
	if diff := cmp.Diff([]string{want}, sink.Files()); diff != "" {
		t.Fatalf("files (-want +got):\n%s", diff)
	}
	st, err := os.Stat(want)
	if err != nil {
		t.Fatal(err)
	}
	if st.Size() == 0 {
		t.Fatal("recording is empty")
	}
	if sink.Packets() != 10 {
		t.Fatalf("packets = %d", sink.Packets())
	}
}
