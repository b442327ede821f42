package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Overlays are loaded into OBS browser sources and local tooling, so
	// cross-origin connects are expected.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades the connection and streams state snapshots. Each client
// first receives the current snapshot, then every published update. Clients
// that stop draining are disconnected by the hub's drop accounting plus the
// write deadline here.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)
	defer conn.Close()

	// Initial snapshot so pages render without waiting for a change.
	initial, err := json.Marshal(h.ctrl.StatePayload())
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, initial); err != nil {
			return
		}
	}

	// Read pump: clients send nothing meaningful, but reads surface closes
	// and feed the pong handler.
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case payload, ok := <-sub.C():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readClosed:
			return
		}
	}
}
