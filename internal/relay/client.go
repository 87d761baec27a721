package relay

import (
	"log/slog"
	"time"

	"github.com/BioHazard786/roomcall/internal/signaling"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// SDP with a full candidate list fits comfortably.
	maxMessageSize = 64 * 1024
)

// Client is one websocket connection as seen by the hub.
type Client struct {
	ID   string
	Room string

	hub   *Hub
	conn  *websocket.Conn
	codec signaling.Codec

	// send is owned by the hub; only the hub writes to or closes it.
	send chan *signaling.Envelope
}

func newClient(hub *Hub, conn *websocket.Conn, codec signaling.Codec, id string) *Client {
	return &Client{
		ID:    id,
		hub:   hub,
		conn:  conn,
		codec: codec,
		send:  make(chan *signaling.Envelope, 256),
	}
}

// readPump decodes frames and hands them to the hub. It is the only reader
// of the connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("relay client read failed", "client", c.ID, "err", err)
			}
			return
		}

		env := new(signaling.Envelope)
		if err := c.codec.Unmarshal(data, env); err != nil {
			err = &frameError{reason: "undecodable frame", err: err}
			if !c.hub.submit(c, env, err) {
				return
			}
			continue
		}
		env.From = c.ID

		if !c.hub.submit(c, env, env.Validate()) {
			return
		}
	}
}

// writePump is the only writer of the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := c.codec.Marshal(env)
			if err != nil {
				slog.Error("encode relay frame", "client", c.ID, "event", env.Event, "err", err)
				continue
			}
			if err := c.conn.WriteMessage(c.codec.FrameType(), data); err != nil {
				slog.Debug("relay client write failed", "client", c.ID, "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type frameError struct {
	reason string
	err    error
}

func (e *frameError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *frameError) Unwrap() error { return e.err }
