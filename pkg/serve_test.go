package pkg

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ecopia-map/tiles_streamer/internal/config"
	"github.com/ecopia-map/tiles_streamer/internal/traversal"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) (*Server, *Streamer) {
	t.Helper()
	s, _, registry := openStreamer(t, testOptions(writeDataset(t)))
	t.Cleanup(func() { s.Close() })
	return NewServer(s, &config.ServeOptions{Address: "127.0.0.1:0", FrameRate: 50}, registry), s
}

func get(t *testing.T, handler http.Handler, path string) (int, []byte) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, body
}

func TestServerStatusAndTiles(t *testing.T) {
	srv, s := newTestServer(t)
	tickUntil(t, s, nearCamera(), func(stats traversal.FrameStats) bool {
		return stats.Rendered == 4
	})
	router := srv.Router()

	code, body := get(t, router, "/status")
	if code != http.StatusOK {
		t.Fatalf("/status = %d", code)
	}
	var status map[string]interface{}
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatal(err)
	}
	if status["rendered"] != float64(4) || status["tileset"] != "tileset.json" {
		t.Errorf("/status = %s", body)
	}

	code, body = get(t, router, "/tiles")
	var tiles []TileStatus
	if err := json.Unmarshal(body, &tiles); err != nil {
		t.Fatal(err)
	}
	if code != http.StatusOK || len(tiles) != 4 {
		t.Errorf("/tiles = %d %s", code, body)
	}

	code, body = get(t, router, "/metrics")
	if code != http.StatusOK || !strings.Contains(string(body), "tiles_streamer_content_loaded_total 4") {
		t.Errorf("/metrics = %d %s", code, body)
	}
}

func TestServerEventsWebsocket(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/events", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for srv.subscriberCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	srv.fanout(Event{Kind: EventContentFailed, TileID: 7, URI: "7.glb", Error: "boom"})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if got.Kind != EventContentFailed || got.TileID != 7 || got.Error != "boom" {
		t.Errorf("event = %+v", got)
	}

	srv.closeSubscribers()
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage() after shutdown error = %v, want a going away close", err)
	}
}

func TestServerRunTicksUntilCancelled(t *testing.T) {
	srv, s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for s.Stats().Frame < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("no frames ticked")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("Run() did not return after cancel")
	}
}
