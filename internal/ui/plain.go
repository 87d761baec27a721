package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/BioHazard786/roomcall/internal/call"
	"github.com/BioHazard786/roomcall/internal/chat"
	"github.com/BioHazard786/roomcall/internal/media"
)

// PlainListener prints call progress as plain lines, for terminals where
// the interactive view is unwanted.
type PlainListener struct {
	mu  sync.Mutex
	out io.Writer
}

func NewPlainListener(out io.Writer) *PlainListener {
	return &PlainListener{out: out}
}

func (p *PlainListener) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *PlainListener) StateChanged(from, to call.State) {
	p.printf("%s %s -> %s", MutedStyle.Render("state"), from, stateBadge(to.String(), false))
}

func (p *PlainListener) TransportConfirmed() {
	p.printf("%s media flowing", SuccessStyle.Render(IconConnect))
}

func (p *PlainListener) ChatLine(line chat.Line) {
	name := PeerNameStyle.Render(line.Name)
	if line.Own {
		name = OwnNameStyle.Render(line.Name)
	}
	p.printf("%s %s: %s", MutedStyle.Render(line.At.Format("15:04")), name, line.Text)
}

func (p *PlainListener) RemoteTrack(track media.RemoteTrack) {
	p.printf("%s receiving %s (%s)", IconVideo, track.Kind(), track.Codec().MimeType)
}

func (p *PlainListener) Fatal(err error) {
	p.printf("%s", FormatError(err))
}
