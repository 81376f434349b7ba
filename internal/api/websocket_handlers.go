package api

import (
	"net/http"
)

// WebSocket endpoints

// HandleShareWebSocket joins a share link to its live session
func (h *Handler) HandleShareWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleShareConnection(w, r)
}
