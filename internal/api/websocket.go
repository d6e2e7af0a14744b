package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// handleWebSocket upgrades the connection and streams coordinator
// events to the client until either side goes away. Each connection
// gets its own subscription; a slow client loses events rather than
// backing up the coordinator.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, cancel := s.deps.Coordinator.Subscribe()
	defer cancel()

	s.logger.Debug("websocket client connected", "remote", conn.RemoteAddr())

	pingInterval := time.Duration(s.wsCfg.PingInterval) * time.Second
	pongTimeout := time.Duration(s.wsCfg.PongTimeout) * time.Second
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if pongTimeout <= 0 {
		pongTimeout = 60 * time.Second
	}

	if s.wsCfg.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	}
	if err := conn.SetReadDeadline(time.Now().Add(pongTimeout)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	// The client is not expected to send data frames; the read loop just
	// services control frames and detects disconnects.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-readDone:
			s.logger.Debug("websocket client disconnected", "remote", conn.RemoteAddr())
			return
		case <-ticker.C:
			deadline := time.Now().Add(pingInterval / 2)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case e := <-events:
			if err := conn.SetWriteDeadline(time.Now().Add(pingInterval)); err != nil {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
