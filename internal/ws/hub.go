package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/collabworks/officechat/internal/model"
)

const redisChannel = "officechat:events"

// ConnectionInfo is the presence view of one live connection.
type ConnectionInfo struct {
	UserID       uuid.UUID
	ConnectionID string
	LastSeen     time.Time
}

// Hub is the connection manager: the single owner of all live connection
// state. Every read and write of the registry goes through its mutex, so
// concurrent connection handlers never race. Redis Pub/Sub carries events
// across instances; with a nil Redis client the hub delivers locally only.
type Hub struct {
	// userID -> set of live connections (one user, many devices)
	clients map[uuid.UUID]map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client

	rdb *redis.Client

	// onPresenceChange fires on a user's first connect and last disconnect.
	onPresenceChange func(userID uuid.UUID, online bool)

	// onRoomDeparture fires when a user's last connection subscribed to a
	// room goes away without an explicit leave.
	onRoomDeparture func(userID, roomID uuid.UUID)
}

// NewHub creates a connection manager. rdb may be nil for a single-instance
// deployment; events are then delivered locally without Pub/Sub.
func NewHub(rdb *redis.Client, onPresenceChange func(userID uuid.UUID, online bool)) *Hub {
	return &Hub{
		clients:          make(map[uuid.UUID]map[*Client]bool),
		register:         make(chan *Client),
		unregister:       make(chan *Client),
		rdb:              rdb,
		onPresenceChange: onPresenceChange,
	}
}

// SetRoomDepartureHandler installs the disconnect-time leave callback.
func (h *Hub) SetRoomDepartureHandler(fn func(userID, roomID uuid.UUID)) {
	h.onRoomDeparture = fn
}

// Run starts the hub's event loop. Registration and removal are serialized
// here; fan-out takes the read lock only.
func (h *Hub) Run(ctx context.Context) {
	if h.rdb != nil {
		go h.subscribeRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Register queues a client for registration with the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister queues a client for removal.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	first := false
	if _, ok := h.clients[client.UserID]; !ok {
		h.clients[client.UserID] = make(map[*Client]bool)
		first = true
	}
	h.clients[client.UserID][client] = true
	total := len(h.clients[client.UserID])
	h.mu.Unlock()

	log.Printf("client connected: user=%s conn=%s (connections: %d)", client.UserID, client.ID, total)

	if first && h.onPresenceChange != nil {
		// First connection: the user just came online.
		go h.onPresenceChange(client.UserID, true)
	}
}

// removeClient unregisters a connection. Cleanup is non-blocking: the
// registry entry goes away immediately and all follow-up notifications run
// in goroutines, so a failing broadcast or slow store never delays removal.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	conns, ok := h.clients[client.UserID]
	if !ok || !conns[client] {
		h.mu.Unlock()
		return
	}
	delete(conns, client)
	close(client.send)

	// Rooms this connection leaves behind with no sibling connection of the
	// same user still subscribed.
	var departed []uuid.UUID
	for roomID := range client.rooms {
		stillThere := false
		for other := range conns {
			if other.rooms[roomID] {
				stillThere = true
				break
			}
		}
		if !stillThere {
			departed = append(departed, roomID)
		}
	}

	last := len(conns) == 0
	if last {
		delete(h.clients, client.UserID)
	}
	h.mu.Unlock()

	log.Printf("client disconnected: user=%s conn=%s", client.UserID, client.ID)

	if h.onRoomDeparture != nil {
		for _, roomID := range departed {
			go h.onRoomDeparture(client.UserID, roomID)
		}
	}
	if last && h.onPresenceChange != nil {
		// Last connection gone: the user went offline, exactly once.
		go h.onPresenceChange(client.UserID, false)
	}
}

// ========== Room subscriptions ==========

// JoinRoom subscribes the connection to a room. Returns true when this is
// the user's first subscribed connection for the room (the "joined" event is
// only meaningful then).
func (h *Hub) JoinRoom(client *Client, roomID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	firstForUser := !h.userSubscribedLocked(client.UserID, roomID, nil)
	client.rooms[roomID] = true
	return firstForUser
}

// LeaveRoom unsubscribes the connection. Returns true when no other
// connection of the same user remains subscribed.
func (h *Hub) LeaveRoom(client *Client, roomID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.rooms, roomID)
	return !h.userSubscribedLocked(client.UserID, roomID, nil)
}

// Subscribed reports whether the connection is subscribed to the room.
func (h *Hub) Subscribed(client *Client, roomID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return client.rooms[roomID]
}

func (h *Hub) userSubscribedLocked(userID, roomID uuid.UUID, skip *Client) bool {
	for c := range h.clients[userID] {
		if c == skip {
			continue
		}
		if c.rooms[roomID] {
			return true
		}
	}
	return false
}

// RoomMembersOnline scans the registry for connections subscribed to the
// room and returns their presence info.
func (h *Hub) RoomMembersOnline(roomID uuid.UUID) []ConnectionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var infos []ConnectionInfo
	for userID, conns := range h.clients {
		for c := range conns {
			if c.rooms[roomID] {
				infos = append(infos, ConnectionInfo{
					UserID:       userID,
					ConnectionID: c.ID,
					LastSeen:     c.LastSeen(),
				})
			}
		}
	}
	return infos
}

// ========== Presence queries ==========

// IsUserOnline reports whether a user has at least one live connection on
// this instance.
func (h *Hub) IsUserOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// OnlineUserIDs returns all users with a live connection on this instance.
func (h *Hub) OnlineUserIDs() []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(h.clients))
	for userID := range h.clients {
		ids = append(ids, userID)
	}
	return ids
}

// ========== Fan-out ==========

// envelope routes an event through Redis to the right recipients: a single
// user, the subscribers of a room (optionally excluding one connection or
// one user), or everyone.
type envelope struct {
	TargetUserID  *uuid.UUID     `json:"target_user_id,omitempty"`
	RoomID        *uuid.UUID     `json:"room_id,omitempty"`
	ExcludeConnID string         `json:"exclude_conn_id,omitempty"`
	ExcludeUserID *uuid.UUID     `json:"exclude_user_id,omitempty"`
	Event         *model.WSEvent `json:"event"`
}

// BroadcastToRoom fans an event out to every connection subscribed to the
// room, except the excluded connection (pass "" to exclude none).
func (h *Hub) BroadcastToRoom(roomID uuid.UUID, event *model.WSEvent, excludeConnID string) {
	h.publish(&envelope{RoomID: &roomID, ExcludeConnID: excludeConnID, Event: event})
}

// BroadcastToRoomExceptUser fans an event out to room subscribers, skipping
// every connection of one user.
func (h *Hub) BroadcastToRoomExceptUser(roomID uuid.UUID, event *model.WSEvent, excludeUserID uuid.UUID) {
	h.publish(&envelope{RoomID: &roomID, ExcludeUserID: &excludeUserID, Event: event})
}

// SendToUser sends an event to every connection of one user.
func (h *Hub) SendToUser(userID uuid.UUID, event *model.WSEvent) {
	h.publish(&envelope{TargetUserID: &userID, Event: event})
}

// BroadcastAll sends an event to every connected client (presence events).
func (h *Hub) BroadcastAll(event *model.WSEvent) {
	h.publish(&envelope{Event: event})
}

func (h *Hub) publish(env *envelope) {
	if h.rdb == nil {
		h.deliverLocal(env)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("marshal envelope: %v", err)
		return
	}
	if err := h.rdb.Publish(context.Background(), redisChannel, data).Err(); err != nil {
		log.Printf("publish to redis: %v", err)
		// Degrade to local delivery so this instance's clients still hear it.
		h.deliverLocal(env)
	}
}

// deliverLocal fans the enveloped event out to matching local connections.
// Each connection has its own buffered queue: a slow consumer is dropped,
// never waited on, so it cannot stall delivery to the rest.
func (h *Hub) deliverLocal(env *envelope) {
	data, err := json.Marshal(env.Event)
	if err != nil {
		log.Printf("marshal event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if env.TargetUserID != nil {
		for c := range h.clients[*env.TargetUserID] {
			h.offerLocked(c, data)
		}
		return
	}

	for userID, conns := range h.clients {
		if env.ExcludeUserID != nil && userID == *env.ExcludeUserID {
			continue
		}
		for c := range conns {
			if env.RoomID != nil && !c.rooms[*env.RoomID] {
				continue
			}
			if env.ExcludeConnID != "" && c.ID == env.ExcludeConnID {
				continue
			}
			h.offerLocked(c, data)
		}
	}
}

// offerLocked enqueues data without blocking; callers hold h.mu read-locked.
func (h *Hub) offerLocked(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		// Send buffer full; the connection is unresponsive. Dropping here
		// keeps one slow consumer from stalling the fan-out. The read pump
		// will unregister the connection when it dies.
		log.Printf("send buffer full, dropping event for conn %s", c.ID)
	}
}

// subscribeRedis delivers cross-instance events to local clients.
func (h *Hub) subscribeRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	log.Println("redis pub/sub subscriber started")

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("unmarshal redis envelope: %v", err)
				continue
			}
			if env.Event != nil {
				h.deliverLocal(&env)
			}
		}
	}
}
