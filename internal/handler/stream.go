package handler

import (
	"net/http"
)

// StreamServer upgrades a request to a push connection for an owner.
type StreamServer interface {
	Serve(w http.ResponseWriter, r *http.Request, ownerID string)
}

// StreamHandler handles GET /ws.
type StreamHandler struct {
	server StreamServer
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(server StreamServer) *StreamHandler {
	return &StreamHandler{server: server}
}

// Connect upgrades the connection. The owner joins their private group so
// fills and cancellations reach every open tab.
func (h *StreamHandler) Connect(w http.ResponseWriter, r *http.Request) {
	h.server.Serve(w, r, ownerID(r))
}
