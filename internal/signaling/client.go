package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/BioHazard786/roomcall/internal/callerr"
	"github.com/BioHazard786/roomcall/internal/dns"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is the connection to the room relay.
type Client struct {
	serverURL string
	codec     Codec
	dialer    *websocket.Dialer

	conn     *websocket.Conn
	incoming chan *Envelope
	outgoing chan *Envelope

	// done is closed by Close; dead is closed when either pump exits.
	done      chan struct{}
	dead      chan struct{}
	closeOnce sync.Once
	deadOnce  sync.Once

	mu        sync.Mutex
	connected bool
	closed    bool
}

// NewClient creates a relay client. A nil codec selects JSON.
func NewClient(serverURL string, codec Codec) *Client {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Client{
		serverURL: serverURL,
		codec:     codec,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
			NetDialContext:   dns.DialContext,
		},
		incoming: make(chan *Envelope, 64),
		outgoing: make(chan *Envelope, 64),
		done:     make(chan struct{}),
		dead:     make(chan struct{}),
	}
}

// Codec returns the wire codec in use.
func (c *Client) Codec() Codec {
	return c.codec
}

// Connect dials the relay and starts the pumps. On success a synthesized
// connect envelope is the first thing delivered on Incoming.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return callerr.Wrap("connect", callerr.ErrConnection, "client closed")
	}
	if c.connected {
		return nil
	}

	u, err := url.Parse(c.serverURL)
	if err != nil {
		return callerr.Join("connect", callerr.ErrConnection, fmt.Errorf("invalid relay URL: %w", err))
	}
	if c.codec.Name() != CodecJSON {
		q := u.Query()
		q.Set("codec", c.codec.Name())
		u.RawQuery = q.Encode()
	}

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return callerr.Join("connect", callerr.ErrConnection, err)
	}

	c.conn = conn
	c.connected = true
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.incoming <- &Envelope{Event: EventConnect}

	go c.readPump()
	go c.writePump()

	slog.Debug("relay connected", "url", u.Redacted(), "codec", c.codec.Name())
	return nil
}

// JoinRoom asks the relay to place this connection in room.
func (c *Client) JoinRoom(room string) error {
	return c.Emit(&Envelope{Event: EventJoinRoom, Room: room})
}

// Emit queues env for sending. It does not wait for the relay.
func (c *Client) Emit(env *Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return callerr.Wrap("emit "+env.Event, callerr.ErrConnection, "not connected")
	}

	select {
	case c.outgoing <- env:
		return nil
	case <-c.dead:
		return callerr.New("emit "+env.Event, callerr.ErrRelayDisconnected)
	case <-c.done:
		return callerr.New("emit "+env.Event, callerr.ErrRelayDisconnected)
	}
}

// Incoming delivers relay frames in arrival order. A disconnect envelope is
// delivered once when the connection drops, then the channel is closed.
func (c *Client) Incoming() <-chan *Envelope {
	return c.incoming
}

// Close shuts the connection down. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	connected := c.connected
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.done)
		if !connected {
			close(c.incoming)
		}
	})
	return nil
}

func (c *Client) markDead() {
	c.deadOnce.Do(func() { close(c.dead) })
}

func (c *Client) readPump() {
	defer func() {
		c.markDead()
		c.conn.Close()

		select {
		case c.incoming <- &Envelope{Event: EventDisconnect}:
		case <-c.done:
		}
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("relay read failed", "err", err)
			}
			return
		}

		env := new(Envelope)
		if err := c.codec.Unmarshal(data, env); err != nil {
			slog.Warn("dropping undecodable relay frame", "err", err)
			continue
		}
		if err := env.Validate(); err != nil {
			slog.Warn("dropping malformed relay frame", "event", env.Event, "err", err)
			continue
		}

		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.markDead()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			data, err := c.codec.Marshal(env)
			if err != nil {
				slog.Error("encode relay frame", "event", env.Event, "err", err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(c.codec.FrameType(), data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
