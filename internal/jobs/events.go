package jobs

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"media-jobd/internal/logging"
	"media-jobd/internal/metrics"
)

// Hub fans job state updates out to connected WebSocket clients.
// Broadcasts never block a state transition: if the hub's buffer is
// full the update is dropped and clients fall back to polling.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	once       sync.Once
}

// NewHub creates a hub; call Run to start its dispatch loop.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run dispatches registrations and broadcasts until Stop is called.
// Intended to run on its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.clients[conn] = true
			metrics.EventClientsConnected.Set(float64(len(h.clients)))
			logging.Debug("Event subscriber connected (%d total)", len(h.clients))

		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				if err := conn.Close(); err != nil {
					logging.Debug("Event subscriber close: %v", err)
				}
			}
			metrics.EventClientsConnected.Set(float64(len(h.clients)))

		case message := <-h.broadcast:
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					logging.Debug("Dropping event subscriber: %v", err)
					delete(h.clients, conn)
					_ = conn.Close()
				}
			}
			metrics.EventClientsConnected.Set(float64(len(h.clients)))

		case <-h.done:
			for conn := range h.clients {
				_ = conn.Close()
			}
			h.clients = make(map[*websocket.Conn]bool)
			metrics.EventClientsConnected.Set(0)
			return
		}
	}
}

// Stop terminates the dispatch loop and disconnects all clients.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

// Add registers a new subscriber connection.
func (h *Hub) Add(conn *websocket.Conn) {
	select {
	case h.register <- conn:
	case <-h.done:
		_ = conn.Close()
	}
}

// Remove unregisters a subscriber connection.
func (h *Hub) Remove(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// BroadcastUpdate queues a job state update for all subscribers.
func (h *Hub) BroadcastUpdate(job Job) {
	payload, err := json.Marshal(map[string]interface{}{
		"type": "job_update",
		"job":  job,
	})
	if err != nil {
		logging.Error("Failed to marshal job update: %v", err)
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		logging.Debug("Event hub buffer full, dropping update for job %s", job.ID)
	}
}
