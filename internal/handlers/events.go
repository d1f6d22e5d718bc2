package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"media-jobd/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Job updates carry no secrets and the API has no browser origin of
	// its own; subscribers are expected to be internal dashboards.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// JobEvents upgrades the connection and subscribes it to job state
// updates until the client disconnects.
// GET /api/jobs/events
func (h *Handlers) JobEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug("WebSocket upgrade failed: %v", err)
		return
	}

	h.hub.Add(conn)

	// Drain incoming frames to observe the close handshake; subscribers
	// are write-only from the server's point of view.
	go func() {
		defer h.hub.Remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
