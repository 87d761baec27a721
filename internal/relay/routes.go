package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BioHazard786/roomcall/internal/signaling"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxMessageSize,
	WriteBufferSize: maxMessageSize,

	// Browser peers may be served from any origin; rooms are the only scope.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Routes returns the relay's HTTP surface.
func Routes(hub *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ws", ServeWs(hub))
	mux.HandleFunc("GET /new-room", newRoomHandler(hub))
	mux.HandleFunc("GET /debug/rooms", roomsHandler(hub.Presence()))
	return mux
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("relay is healthy"))
}

// ServeWs upgrades the request and attaches the connection to hub. The
// codec query parameter selects the wire format for both directions.
func ServeWs(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		codec, err := signaling.CodecByName(r.URL.Query().Get("codec"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "err", err)
			return
		}

		client := newClient(hub, conn, codec, hub.newID())
		if !hub.join(client) {
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

type newRoomResponse struct {
	Room string `json:"room"`
}

func newRoomHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		name, err := hub.NewRoomName(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, newRoomResponse{Room: name})
	}
}

func roomsHandler(store PresenceStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := store.Rooms(r.Context())
		if err != nil {
			slog.Error("read presence", "err", err)
			http.Error(w, "presence store unavailable", http.StatusInternalServerError)
			return
		}
		writeJSON(w, rooms)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "err", err)
	}
}
