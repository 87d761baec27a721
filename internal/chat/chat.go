// Package chat carries free-text room messages over the relay connection.
package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/roomcall/internal/callerr"
	"github.com/BioHazard786/roomcall/internal/signaling"
)

// Line is one chat message as delivered by the relay.
type Line struct {
	From string
	Name string
	Text string
	At   time.Time

	// Own is set for lines this participant sent.
	Own bool
}

// Log is an ordered, append-only record of chat lines.
type Log struct {
	mu    sync.RWMutex
	lines []Line
}

func (l *Log) Append(line Line) {
	l.mu.Lock()
	l.lines = append(l.lines, line)
	l.mu.Unlock()
}

// Lines returns a copy of the log in delivery order.
func (l *Log) Lines() []Line {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Line(nil), l.lines...)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.lines)
}

// Emitter is the part of the relay client chat needs.
type Emitter interface {
	Emit(env *signaling.Envelope) error
}

// Relay sends chat lines for one room and records the ones the relay delivers.
type Relay struct {
	emitter Emitter
	room    string
	name    string
	log     Log

	mu     sync.RWMutex
	self   string
	onLine func(Line)
	now    func() time.Time
}

func NewRelay(e Emitter, room, name string) *Relay {
	return &Relay{emitter: e, room: room, name: name, now: time.Now}
}

// Send emits text to the room. The line shows up in the log once the relay
// echoes it back, so both participants see the same order.
func (r *Relay) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return callerr.New("send chat", callerr.ErrEmptyMessage)
	}
	return r.emitter.Emit(&signaling.Envelope{
		Event:   signaling.EventMessage,
		Room:    r.room,
		Name:    r.name,
		Message: text,
	})
}

// OnLine registers fn to run for every delivered line.
func (r *Relay) OnLine(fn func(Line)) {
	r.mu.Lock()
	r.onLine = fn
	r.mu.Unlock()
}

// Log exposes the chat history.
func (r *Relay) Log() *Log {
	return &r.log
}

// Register hooks the relay onto h so message envelopes reach the log.
func (r *Relay) Register(h *signaling.Handler) {
	h.On(signaling.EventJoined, func(env *signaling.Envelope) {
		r.mu.Lock()
		r.self = env.ID
		r.mu.Unlock()
	})
	h.On(signaling.EventMessage, r.receive)
}

func (r *Relay) receive(env *signaling.Envelope) {
	r.mu.RLock()
	self, fn := r.self, r.onLine
	r.mu.RUnlock()

	line := Line{
		From: env.From,
		Name: env.Name,
		Text: env.Message,
		At:   r.now(),
		Own:  self != "" && env.From == self,
	}
	r.log.Append(line)
	if fn != nil {
		fn(line)
	}
}
