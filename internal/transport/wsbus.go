// Package transport bridges the runtime's in-process EventBus to
// out-of-process subscribers over a websocket, mirroring the teacher's
// control-plane duplex-connection pattern applied to event push instead of
// chat traffic.
package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arvo-systems/agentloop/internal/eventbus"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsWriteWait       = 10 * time.Second
	wsPingInterval    = 20 * time.Second
	wsPongWait        = 45 * time.Second
)

// WSBus exposes one or more EventBus topics to websocket clients. Each
// connection picks its topic from a "topic" query parameter ("all" if
// omitted) and receives every event published to that topic as a JSON
// frame, best-effort: a slow client is dropped from the bus's mailbox via
// drop-oldest rather than backpressuring the publisher.
type WSBus struct {
	bus      *eventbus.Bus
	logger   *slog.Logger
	upgrader websocket.Upgrader
	mailbox  int
}

// NewWSBus builds a bridge over bus. mailbox bounds the per-connection
// buffered channel eventbus.Bus.SubscribeBuffered uses to isolate slow
// consumers; 0 selects the bus's own default.
func NewWSBus(bus *eventbus.Bus, logger *slog.Logger, mailbox int) *WSBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSBus{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		mailbox: mailbox,
	}
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects or the bus is closed.
func (w *WSBus) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = "all"
	}

	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn("wsbus: upgrade failed", "error", err)
		return
	}

	var sub *eventbus.Subscription
	if w.mailbox > 0 {
		sub = w.bus.SubscribeBuffered(topic, w.mailbox)
	} else {
		sub = w.bus.Subscribe(topic)
	}

	session := &wsSession{conn: conn, sub: sub, logger: w.logger}
	session.run()
}

type wsSession struct {
	conn   *websocket.Conn
	sub    *eventbus.Subscription
	logger *slog.Logger
}

func (s *wsSession) run() {
	defer s.sub.Unsubscribe()
	defer s.conn.Close()

	s.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Drain and discard client frames; this is a push-only feed. A
	// disconnect (read error) is the signal to tear the session down.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := s.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-disconnected:
			return
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt, ok := <-s.sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				s.logger.Warn("wsbus: marshal event failed", "error", err)
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
