package events

import (
	"log"
	"net/http"

	"persona-kb/internal/middleware"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades the request and subscribes it to status events. The
// optional persona_id query parameter narrows the feed to one persona.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	personaID := r.URL.Query().Get("persona_id")

	ctx, span := middleware.StartSpan(r.Context(), "StatusFeed.Connect",
		attribute.String("persona.id", personaID),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	c := h.NewClient(conn, personaID)

	go c.WritePump()
	go c.ReadPump()

	log.Printf("✓ Status feed connected (client %s, persona %q)", c.ID, personaID)
}
