package api

import (
	"net/http"
)

// WebSocket endpoints

// HandleDocumentWebSocket upgrades the live relay channel at /ws.
func (h *Handler) HandleDocumentWebSocket(w http.ResponseWriter, r *http.Request) {
	h.ws(w, r)
}
