package control

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	eventWriteWait = 10 * time.Second
	eventPingEvery = 30 * time.Second
)

var eventUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The control server binds to loopback; inspectors connect locally.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents handles GET /events: upgrades to a websocket and streams
// every flow submission as JSON until the client disconnects or the session
// closes its broker.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := eventUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("events upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	events, cancel := s.coord.Events().Subscribe()
	defer cancel()

	// Drain client frames so close handshakes and pongs are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingEvery)
	defer ping.Stop()

	for {
		select {
		case f, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session stopped"),
					time.Now().Add(eventWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(submissionEvent(f)); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
