package jobs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newHubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		hub.Add(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHubBroadcastUpdate(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	srv := newHubServer(t, hub)
	conn := dialHub(t, srv)

	job := Job{ID: "job-1", Operation: "transcode", Format: "mp3", State: StateRunning}
	hub.BroadcastUpdate(job)

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline failed: %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	var msg struct {
		Type string `json:"type"`
		Job  Job    `json:"job"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("Failed to decode update: %v", err)
	}

	if msg.Type != "job_update" {
		t.Errorf("Expected type=job_update, got %s", msg.Type)
	}
	if msg.Job.ID != "job-1" {
		t.Errorf("Expected job id=job-1, got %s", msg.Job.ID)
	}
	if msg.Job.State != StateRunning {
		t.Errorf("Expected state=%s, got %s", StateRunning, msg.Job.State)
	}
}

func TestHubMultipleSubscribers(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	srv := newHubServer(t, hub)
	first := dialHub(t, srv)
	second := dialHub(t, srv)

	hub.BroadcastUpdate(Job{ID: "job-2", State: StateSucceeded})

	for i, conn := range []*websocket.Conn{first, second} {
		if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			t.Fatalf("SetReadDeadline failed: %v", err)
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Errorf("Subscriber %d did not receive the update: %v", i, err)
		}
	}
}

func TestHubStopDisconnectsClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	srv := newHubServer(t, hub)
	conn := dialHub(t, srv)

	hub.Stop()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline failed: %v", err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected read to fail after the hub stopped")
	}

	// Stop must be idempotent.
	hub.Stop()
}

func TestHubBroadcastNeverBlocks(t *testing.T) {
	hub := NewHub()
	// Deliberately not running the dispatch loop: the buffer fills up and
	// further updates must be dropped rather than blocking.
	for i := 0; i < 200; i++ {
		hub.BroadcastUpdate(Job{ID: "job", State: StateQueued})
	}
}
