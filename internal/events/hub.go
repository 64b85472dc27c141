// Package events fans source status transitions out to websocket clients.
package events

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"persona-kb/internal/models"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// allPersonas is the room of clients that subscribed without a persona filter.
const allPersonas = ""

// Hub keeps one room per persona and delivers each event to that persona's
// room and to unfiltered subscribers. Publish never blocks the pipeline:
// when the hub is backed up the event is dropped.
type Hub struct {
	rooms      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan models.SourceEvent
	mu         sync.RWMutex

	done     chan struct{}
	stopOnce sync.Once
}

// Client is one subscribed websocket connection.
type Client struct {
	ID        string
	PersonaID string
	Conn      *websocket.Conn
	Send      chan []byte
	hub       *Hub
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan models.SourceEvent, 256),
		done:       make(chan struct{}),
	}
}

// Start runs the hub event loop.
func (h *Hub) Start() {
	log.Println("🔄 Starting source status hub...")

	go func() {
		for {
			select {
			case <-h.done:
				return

			case c := <-h.register:
				h.add(c)

			case c := <-h.unregister:
				h.remove(c)

			case event := <-h.broadcast:
				h.deliver(event)
			}
		}
	}()

	log.Println("✓ Source status hub started")
}

// Publish queues an event for delivery.
func (h *Hub) Publish(event models.SourceEvent) {
	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.broadcast <- event:
	default:
		log.Printf("⚠️  Status hub backed up, dropping %s event for source %s", event.Status, event.SourceID)
	}
}

// NewClient registers conn as a subscriber of personaID ("" for all).
func (h *Hub) NewClient(conn *websocket.Conn, personaID string) *Client {
	c := &Client{
		ID:        ksuid.New().String(),
		PersonaID: personaID,
		Conn:      conn,
		Send:      make(chan []byte, sendBuffer),
		hub:       h,
	}

	select {
	case h.register <- c:
	case <-h.done:
		close(c.Send)
	}
	return c
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[c.PersonaID] == nil {
		h.rooms[c.PersonaID] = make(map[*Client]bool)
	}
	h.rooms[c.PersonaID][c] = true

	log.Printf("  Status client %s subscribed (persona %q, room size %d)", c.ID, c.PersonaID, len(h.rooms[c.PersonaID]))
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[c.PersonaID]
	if !ok || !room[c] {
		return
	}
	delete(room, c)
	close(c.Send)
	if len(room) == 0 {
		delete(h.rooms, c.PersonaID)
	}

	log.Printf("  Status client %s unsubscribed", c.ID)
}

func (h *Hub) deliver(event models.SourceEvent) {
	msg, err := json.Marshal(event)
	if err != nil {
		log.Printf("⚠️  Failed to encode status event: %v", err)
		return
	}

	var slow []*Client

	h.mu.RLock()
	for _, room := range []string{event.PersonaID, allPersonas} {
		for c := range h.rooms[room] {
			select {
			case c.Send <- msg:
			default:
				slow = append(slow, c)
			}
		}
		if event.PersonaID == allPersonas {
			break
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Printf("⚠️  Status client %s buffer full, closing connection", c.ID)
		h.remove(c)
	}
}

// Subscribers returns how many clients would receive an event for personaID.
func (h *Hub) Subscribers(personaID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := len(h.rooms[allPersonas])
	if personaID != allPersonas {
		n += len(h.rooms[personaID])
	}
	return n
}

// Shutdown closes every subscriber and stops the loop.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		log.Println("🛑 Shutting down source status hub...")
		close(h.done)

		h.mu.Lock()
		defer h.mu.Unlock()

		for _, room := range h.rooms {
			for c := range room {
				close(c.Send)
			}
		}
		h.rooms = make(map[string]map[*Client]bool)

		log.Println("✓ Source status hub shutdown complete")
	})
}

// ReadPump only services control frames; subscribers do not send data.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(512)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
	}
}

// WritePump sends queued events as text frames and keeps the connection alive.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
