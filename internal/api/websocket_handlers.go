package api

import (
	"net/http"
)

// HandleSourcesWebSocket streams source status transitions to admin clients
func (h *Handler) HandleSourcesWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		http.Error(w, "status feed is not enabled", http.StatusNotImplemented)
		return
	}
	h.feed.ServeWS(w, r)
}
