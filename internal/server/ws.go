package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// PupilsHandler pushes real-time pupil samples over WebSocket.
type PupilsHandler struct {
	pump *Pump
	log  *slog.Logger
}

// NewPupilsHandler creates a new PupilsHandler over the given pump.
func NewPupilsHandler(pump *Pump, log *slog.Logger) *PupilsHandler {
	return &PupilsHandler{pump: pump, log: log}
}

// ServeHTTP handles WebSocket upgrade requests and streams samples until the
// client disconnects.
func (h *PupilsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	samples := h.pump.Subscribe()
	defer h.pump.Unsubscribe(samples)

	// Reads only serve to notice the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case sample := <-samples:
			if err := conn.WriteJSON(sample); err != nil {
				return
			}
		}
	}
}
