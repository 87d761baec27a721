package signaling

import (
	"log/slog"
	"sync"
)

// HandlerFunc reacts to one relay envelope.
type HandlerFunc func(env *Envelope)

// Handler routes envelopes to the functions registered for their event.
// Dispatch runs handlers on the caller's goroutine, so whoever owns the
// processing loop decides where handlers execute.
type Handler struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
}

// NewHandler creates an empty router.
func NewHandler() *Handler {
	return &Handler{handlers: make(map[string][]HandlerFunc)}
}

// On registers fn for event. Handlers for the same event run in
// registration order.
func (h *Handler) On(event string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = append(h.handlers[event], fn)
}

// Dispatch invokes every handler registered for env.Event and reports
// whether there was at least one.
func (h *Handler) Dispatch(env *Envelope) bool {
	h.mu.RLock()
	fns := h.handlers[env.Event]
	h.mu.RUnlock()

	if len(fns) == 0 {
		slog.Debug("no handler for relay event", "event", env.Event)
		return false
	}
	for _, fn := range fns {
		fn(env)
	}
	return true
}
