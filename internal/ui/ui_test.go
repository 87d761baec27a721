package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/roomcall/internal/call"
	"github.com/BioHazard786/roomcall/internal/chat"
	tea "github.com/charmbracelet/bubbletea"
)

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0:                             "0s",
		42 * time.Second:              "42s",
		3*time.Minute + 5*time.Second: "3m 5s",
		2*time.Hour + 1*time.Minute + 9*time.Second: "2h 1m 9s",
	}
	for d, want := range cases {
		if got := FormatDuration(d); got != want {
			t.Errorf("FormatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestTruncateString(t *testing.T) {
	if got := truncateString("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncateString("a very long error message", 10); got != "a very ..." {
		t.Errorf("got %q", got)
	}
}

func TestSummaryView(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	out := SummaryView(call.Stats{
		Room:             "brave-otter-lamp",
		Role:             call.RoleOfferer,
		State:            call.StateDisconnected,
		Confirmed:        true,
		LocalCandidates:  3,
		RemoteCandidates: 2,
		ChatLines:        4,
		JoinedAt:         start,
		ConnectedAt:      start.Add(2 * time.Second),
		EndedAt:          start.Add(92 * time.Second),
	})
	for _, want := range []string{"brave-otter-lamp", "offerer", "disconnected", "1m 30s", "Chat messages"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestRoomsView(t *testing.T) {
	out := RoomsView(map[string][]string{"b-room": {"id2"}, "a-room": {"id1", "id3"}})
	if strings.Index(out, "a-room") > strings.Index(out, "b-room") {
		t.Errorf("rooms not sorted:\n%s", out)
	}
	if !strings.Contains(out, "2/2") || !strings.Contains(out, "1/2") {
		t.Errorf("member counts missing:\n%s", out)
	}
	if got := RoomsView(nil); !strings.Contains(got, "No live rooms") {
		t.Errorf("empty listing %q", got)
	}
}

func TestCallModelFlow(t *testing.T) {
	var sent []string
	left := false
	m := newCallModel("r1", "A", CallHooks{
		Send: func(text string) error {
			if strings.TrimSpace(text) == "" {
				return call.ErrEmptyMessage
			}
			sent = append(sent, text)
			return nil
		},
		Leave: func() { left = true },
		Stats: func() call.Stats { return call.Stats{Role: call.RoleAnswerer, State: call.StateDisconnected} },
	}, make(chan tea.Msg, 1))

	m.Update(stateMsg{from: call.StateIdle, to: call.StateAcquiringMedia})
	if got := negotiationProgress(m.state, m.confirmed); got != 0.2 {
		t.Fatalf("progress %v", got)
	}

	m.Update(stateMsg{from: call.StateAnswerSent, to: call.StateConnected})
	m.Update(confirmedMsg{})
	if got := negotiationProgress(m.state, m.confirmed); got != 1 {
		t.Fatalf("progress %v", got)
	}

	m.input.SetValue("hello")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if len(sent) != 1 || sent[0] != "hello" || m.input.Value() != "" {
		t.Fatalf("sent %v, input %q", sent, m.input.Value())
	}
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if m.notice != "Nothing to send" {
		t.Fatalf("notice %q", m.notice)
	}

	m.Update(chatMsg{line: chat.Line{Name: "B", Text: "hi there", At: time.Now()}})
	if !strings.Contains(m.View(), "hi there") {
		t.Fatal("chat line not rendered")
	}

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if !left {
		t.Fatal("escape did not leave the call")
	}
}

func TestCallModelBlocksOnFatalError(t *testing.T) {
	m := newCallModel("r1", "A", CallHooks{}, make(chan tea.Msg, 1))

	m.Update(endedMsg{err: errors.New("room is full")})
	if m.quitting {
		t.Fatal("view closed before the error was acknowledged")
	}
	if !strings.Contains(m.View(), "room is full") {
		t.Fatalf("error not shown:\n%s", m.View())
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})
	if !m.quitting || cmd == nil {
		t.Fatal("key press did not dismiss the error")
	}
}

func TestCallModelQuitsOnCleanEnd(t *testing.T) {
	m := newCallModel("r1", "A", CallHooks{}, make(chan tea.Msg, 1))
	m.Update(endedMsg{})
	if !m.quitting {
		t.Fatal("clean end should close the view")
	}
}

func TestPlainListener(t *testing.T) {
	var buf bytes.Buffer
	l := NewPlainListener(&buf)
	l.StateChanged(call.StateIdle, call.StateAcquiringMedia)
	l.ChatLine(chat.Line{Name: "B", Text: "yo", At: time.Now()})
	l.Fatal(errors.New("boom"))

	out := buf.String()
	for _, want := range []string{"acquiring-media", "yo", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCallModelRedrawsChatFromLog(t *testing.T) {
	var history []chat.Line
	m := newCallModel("r1", "A", CallHooks{
		Lines: func() []chat.Line { return append([]chat.Line(nil), history...) },
	}, make(chan tea.Msg, 1))

	for _, text := range []string{"one", "two", "three"} {
		history = append(history, chat.Line{Name: "B", Text: text, At: time.Now()})
	}
	// Only the last line made it through the update queue.
	m.Update(chatMsg{line: history[2]})

	view := m.View()
	for _, want := range []string{"one", "two", "three"} {
		if !strings.Contains(view, want) {
			t.Errorf("chat missing %q:\n%s", want, view)
		}
	}

	history = append(history, chat.Line{Name: "A", Text: "four", At: time.Now(), Own: true})
	m.Update(tickMsg(time.Now()))
	if !strings.Contains(m.View(), "four") {
		t.Error("tick did not pick up a dropped line")
	}
	if len(m.lines) != 4 {
		t.Errorf("rendered %d lines, want 4", len(m.lines))
	}
}

func TestEndedAfterViewExit(t *testing.T) {
	u := NewCallUI("r1", "A", CallHooks{})
	for i := 0; i < cap(u.updates); i++ {
		u.push(confirmedMsg{})
	}
	close(u.done)

	returned := make(chan struct{})
	go func() {
		u.Ended(errors.New("relay gone"))
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Ended blocked on a full queue after the view exited")
	}
}
