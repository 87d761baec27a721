package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BioHazard786/roomcall/internal/signaling"
	"github.com/google/uuid"
)

// Reasons carried in error envelopes.
const (
	ReasonRoomFull      = "room is full"
	ReasonAlreadyJoined = "already in a room"
	ReasonNotJoined     = "join a room first"
	ReasonRoomMismatch  = "room does not match the joined room"
	ReasonUnsupported   = "unsupported event"
)

var ErrHubStopped = errors.New("relay hub stopped")

const presenceTimeout = 2 * time.Second

type inbound struct {
	client *Client
	env    *signaling.Envelope
	err    error
}

// Hub owns every room. All room state is touched only from Run.
type Hub struct {
	rooms    map[string]*Room
	clients  map[*Client]struct{}
	presence PresenceStore

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	requests   chan func()
	done       chan struct{}

	newID func() string
}

// NewHub creates a hub. A nil presence store keeps membership in memory.
func NewHub(presence PresenceStore) *Hub {
	if presence == nil {
		presence = NewMemoryPresence()
	}
	return &Hub{
		rooms:      make(map[string]*Room),
		clients:    make(map[*Client]struct{}),
		presence:   presence,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 64),
		requests:   make(chan func()),
		done:       make(chan struct{}),
		newID:      uuid.NewString,
	}
}

// Presence returns the store the hub mirrors membership into.
func (h *Hub) Presence() PresenceStore {
	return h.presence
}

// Run is the hub's processing loop. It returns when ctx is cancelled, after
// closing every client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	resetCtx, cancel := context.WithTimeout(ctx, presenceTimeout)
	if err := h.presence.Reset(resetCtx); err != nil {
		slog.Warn("reset presence store", "err", err)
	}
	cancel()

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
			}
			h.clients = nil
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			slog.Info("client registered", "client", c.ID, "addr", c.conn.RemoteAddr())

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				slog.Info("client unregistered", "client", c.ID)
				h.drop(c)
			}

		case in := <-h.inbound:
			if _, ok := h.clients[in.client]; !ok {
				continue
			}
			if in.err != nil {
				slog.Debug("rejecting frame", "client", in.client.ID, "err", in.err)
				h.reject(in.client, in.env.Room, in.err.Error())
				continue
			}
			h.handle(in.client, in.env)

		case fn := <-h.requests:
			fn()
		}
	}
}

// NewRoomName returns a memorable room name no live room uses.
func (h *Hub) NewRoomName(ctx context.Context) (string, error) {
	result := make(chan string, 1)
	fn := func() {
		result <- newRoomName(func(name string) bool {
			_, taken := h.rooms[name]
			return taken
		})
	}

	select {
	case h.requests <- fn:
	case <-h.done:
		return "", ErrHubStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return <-result, nil
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) submit(c *Client, env *signaling.Envelope, err error) bool {
	select {
	case h.inbound <- inbound{client: c, env: env, err: err}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) handle(c *Client, env *signaling.Envelope) {
	if env.Event == signaling.EventJoinRoom {
		h.handleJoin(c, env.Room)
		return
	}

	switch env.Event {
	case signaling.EventOffer, signaling.EventAnswer, signaling.EventCandidate, signaling.EventMessage:
	default:
		h.reject(c, env.Room, ReasonUnsupported)
		return
	}

	if c.Room == "" {
		h.reject(c, env.Room, ReasonNotJoined)
		return
	}
	if env.Room != c.Room {
		h.reject(c, env.Room, ReasonRoomMismatch)
		return
	}

	room := h.rooms[c.Room]

	switch env.Event {
	case signaling.EventOffer:
		room.recordOffer(c, env)
		h.forward(room, c, env)

	case signaling.EventCandidate:
		room.recordCandidate(c, env)
		h.forward(room, c, env)

	case signaling.EventAnswer:
		room.mailbox = nil
		h.forward(room, c, env)

	case signaling.EventMessage:
		for _, m := range room.Members {
			h.deliver(m, env)
		}
	}
}

func (h *Hub) handleJoin(c *Client, name string) {
	if c.Room != "" {
		h.reject(c, name, ReasonAlreadyJoined)
		return
	}

	room, ok := h.rooms[name]
	if !ok {
		room = &Room{ID: name}
		h.rooms[name] = room
		slog.Info("room created", "room", name)
	}
	if room.full() {
		slog.Info("room join refused", "room", name, "client", c.ID, "reason", ReasonRoomFull)
		h.reject(c, name, ReasonRoomFull)
		return
	}

	peers := room.memberIDs()
	room.Members = append(room.Members, c)
	c.Room = name
	h.mirrorJoin(name, c.ID)

	slog.Info("client joined room", "room", name, "client", c.ID, "members", len(room.Members))

	h.deliver(c, &signaling.Envelope{
		Event: signaling.EventJoined,
		Room:  name,
		ID:    c.ID,
		Peers: peers,
	})
	for _, env := range room.pending(c) {
		h.deliver(c, env)
	}
}

func (h *Hub) forward(room *Room, from *Client, env *signaling.Envelope) {
	others := room.others(from)
	if len(others) == 0 {
		slog.Debug("no peer to forward to", "room", room.ID, "event", env.Event)
		return
	}
	for _, m := range others {
		h.deliver(m, env)
	}
}

func (h *Hub) reject(c *Client, room, reason string) {
	h.deliver(c, &signaling.Envelope{Event: signaling.EventError, Room: room, Error: reason})
}

// deliver queues env for c, dropping c when its buffer is full.
func (h *Hub) deliver(c *Client, env *signaling.Envelope) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- env:
	default:
		slog.Warn("dropping slow client", "client", c.ID)
		h.drop(c)
	}
}

// drop removes c from the hub and its room and stops its writer.
func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)

	if c.Room == "" {
		return
	}
	room, ok := h.rooms[c.Room]
	if !ok {
		return
	}

	room.remove(c)
	h.mirrorLeave(room.ID, c.ID)

	if len(room.Members) == 0 {
		delete(h.rooms, room.ID)
		slog.Info("room deleted", "room", room.ID)
		return
	}

	slog.Info("peer left room", "room", room.ID, "client", c.ID)
	for _, m := range room.Members {
		h.deliver(m, &signaling.Envelope{
			Event:  signaling.EventEvent,
			Room:   room.ID,
			From:   c.ID,
			Detail: signaling.DetailPeerLeft,
		})
	}
}

func (h *Hub) mirrorJoin(room, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.presence.Join(ctx, room, id); err != nil {
		slog.Warn("presence join", "room", room, "client", id, "err", err)
	}
}

func (h *Hub) mirrorLeave(room, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.presence.Leave(ctx, room, id); err != nil {
		slog.Warn("presence leave", "room", room, "client", id, "err", err)
	}
}
