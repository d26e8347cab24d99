package handler

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"papertrade/internal/hub"
)

// WSHandler upgrades GET /ws requests and hands the connection to the
// subscription hub. Authentication happens in-band on the socket.
type WSHandler struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(h *hub.Hub) *WSHandler {
	return &WSHandler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Upgrade handles GET /ws.
func (h *WSHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		slog.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	go h.hub.Serve(sock)
}
