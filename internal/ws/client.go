package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/collabworks/officechat/internal/model"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// Client is one live connection. A user may hold several clients at once
// (several devices/tabs); each is tracked independently.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// ID is the connection identifier, unique per live connection.
	ID     string
	UserID uuid.UUID
	Name   string

	mu       sync.Mutex
	lastSeen time.Time

	// rooms the connection is subscribed to; guarded by the hub's mutex.
	rooms map[uuid.UUID]bool
}

// NewClient creates a client for an authenticated connection.
func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, name string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		ID:       uuid.NewString(),
		UserID:   userID,
		Name:     name,
		lastSeen: time.Now(),
		rooms:    make(map[uuid.UUID]bool),
	}
}

// LastSeen returns the time of the connection's latest activity.
func (c *Client) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// Send queues an event for this connection only. Errors and direct replies
// use this path; they are never broadcast.
func (c *Client) Send(event *model.WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("marshal event for conn %s: %v", c.ID, err)
		return
	}
	select {
	case c.send <- data:
	default:
		// Buffer full; the hub will reap the connection.
	}
}

// SendError reports a failure to the originating connection.
func (c *Client) SendError(code, message string) {
	c.Send(&model.WSEvent{
		Type:    model.WSEventError,
		Payload: model.ErrorEvent{Code: code, Message: message},
	})
}

// EventHandler is a callback for processing incoming WebSocket events.
type EventHandler func(client *Client, event model.WSEvent)

// ReadPump pumps events from the WebSocket connection to the handler.
// Runs in a per-client goroutine.
func (c *Client) ReadPump(handler EventHandler) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error on conn %s: %v", c.ID, err)
			}
			break
		}
		c.touch()

		var event model.WSEvent
		if err := json.Unmarshal(message, &event); err != nil {
			c.SendError("INVALID_PAYLOAD", "malformed event")
			continue
		}

		if handler != nil {
			handler(c, event)
		}
	}
}

// WritePump pumps queued events to the WebSocket connection.
// Runs in a per-client goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain any queued events into the same frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte("\n"))
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
