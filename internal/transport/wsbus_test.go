package transport

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arvo-systems/agentloop/internal/eventbus"
)

func TestWSBusDeliversPublishedEvents(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()

	ws := NewWSBus(bus, nil, 0)
	server := httptest.NewServer(ws)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?topic=sess-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server goroutine time to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)

	bus.Publish("sess-1", eventbus.Event{Kind: eventbus.KindAgentStart, Text: "hello"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var evt eventbus.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Kind != eventbus.KindAgentStart || evt.Text != "hello" {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestWSBusDefaultsToAllTopic(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()

	ws := NewWSBus(bus, nil, 4)
	server := httptest.NewServer(ws)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)
	bus.Publish("any-session", eventbus.Event{Kind: eventbus.KindAgentEnd})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var evt eventbus.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Kind != eventbus.KindAgentEnd {
		t.Fatalf("unexpected event: %+v", evt)
	}
}
