package api

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"nt-bridge/internal/events"
)

func dialWS(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func waitSubscribers(t *testing.T, bus *events.Bus, e events.Event, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if bus.Subscribers(e) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscribers for %s stuck at %d, expected %d", e, bus.Subscribers(e), want)
}

func TestWebsocketStreamsOrderUpdates(t *testing.T) {
	ts, srv := newTestServer(t, "")
	conn := dialWS(t, ts.URL)
	defer conn.Close()
	waitSubscribers(t, srv.Bus, events.EventOrderUpdate, 1)

	srv.Bus.Publish(events.EventOrderUpdate, map[string]string{"client_id": "ES1225_1_0001"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]string
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg["client_id"] != "ES1225_1_0001" {
		t.Fatalf("frame %v", msg)
	}
}

func TestWebsocketDisconnectReleasesSubscriptions(t *testing.T) {
	ts, srv := newTestServer(t, "")
	conn := dialWS(t, ts.URL)
	waitSubscribers(t, srv.Bus, events.EventOrderUpdate, 1)
	waitSubscribers(t, srv.Bus, events.EventProtectionChange, 1)

	// The client hangs up without ever sending a frame. Even with no bus
	// traffic the handler must notice and drop its subscriptions.
	conn.Close()
	waitSubscribers(t, srv.Bus, events.EventOrderUpdate, 0)
	waitSubscribers(t, srv.Bus, events.EventProtectionChange, 0)
}
