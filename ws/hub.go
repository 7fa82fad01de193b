package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"plane-wars-server/services"

	"github.com/gofiber/websocket/v2"
)

const sendBuffer = 64

// Client is one physical websocket connection. UserID stays empty
// until the connection authenticates; a user may own several clients
// at once (tab duplication, multiple devices).
type Client struct {
	ID          string
	UserID      string
	Username    string
	ConnectedAt time.Time

	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// Send queues a frame without blocking the caller. A slow client whose
// buffer is full loses the frame; clients reconcile via reconnect.
func (c *Client) Send(raw []byte) {
	select {
	case c.send <- raw:
	default:
		log.Printf("[WS] dropping frame for slow connection %s", c.ID)
	}
}

// Close shuts the send channel exactly once.
func (c *Client) Close() {
	c.once.Do(func() { close(c.send) })
}

// WritePump drains the send channel onto the wire. Runs as the only
// writer goroutine for the connection.
func (c *Client) WritePump() {
	for raw := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			log.Printf("[WS] write to %s failed: %v", c.ID, err)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// Hub is the connection registry and broadcast router. It tracks
// connId <-> userId, the per-user connection set, and per-room
// subscriptions. It implements services.Broadcaster.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client            // connID -> client
	users   map[string]map[string]*Client // userID -> connID -> client
	rooms   map[string]map[string]*Client // roomID -> connID -> client

	cache *services.RoomCache
}

func NewHub(cache *services.RoomCache) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		users:   make(map[string]map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		cache:   cache,
	}
}

// Register tracks a freshly upgraded, not yet authenticated connection.
func (h *Hub) Register(id string, conn *websocket.Conn) *Client {
	client := &Client{
		ID:          id,
		ConnectedAt: time.Now().UTC(),
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
	}
	h.mu.Lock()
	h.clients[id] = client
	h.mu.Unlock()
	log.Printf("[WS] connection %s registered", id)
	return client
}

// Authenticate binds the connection to a verified identity and adds it
// to the user's connection set. Presence flips online on the first
// connection only. Re-authenticating as a different user moves the
// connection out of the previous user's set first.
func (h *Hub) Authenticate(connID, userID, username string) {
	h.mu.Lock()
	client, ok := h.clients[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	var previousUser string
	if client.UserID != "" && client.UserID != userID {
		if set, ok := h.users[client.UserID]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(h.users, client.UserID)
				previousUser = client.UserID
			}
		}
	}
	client.UserID = userID
	client.Username = username
	first := len(h.users[userID]) == 0
	if h.users[userID] == nil {
		h.users[userID] = make(map[string]*Client)
	}
	h.users[userID][connID] = client
	h.mu.Unlock()

	if previousUser != "" {
		h.cache.MarkOffline(context.Background(), previousUser)
	}
	if first {
		h.cache.MarkOnline(context.Background(), userID)
	}
	log.Printf("[WS] connection %s authenticated as %s (%s)", connID, username, userID)
}

// Disconnect removes the connection everywhere. The user only goes
// offline when their last connection is gone, so one tab closing never
// flickers a multi-tab user offline.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	client, ok := h.clients[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, connID)
	for roomID, conns := range h.rooms {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
	lastForUser := false
	if client.UserID != "" {
		if set, ok := h.users[client.UserID]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(h.users, client.UserID)
				lastForUser = true
			}
		}
	}
	h.mu.Unlock()

	client.Close()
	if lastForUser {
		h.cache.MarkOffline(context.Background(), client.UserID)
		log.Printf("[WS] user %s offline (last connection closed)", client.UserID)
	}
}

// Subscribe attaches one connection to a room's fan-out set.
func (h *Hub) Subscribe(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client, ok := h.clients[connID]
	if !ok {
		return
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]*Client)
	}
	h.rooms[roomID][connID] = client
}

// SubscribeUser attaches every live connection of the user to the room.
func (h *Hub) SubscribeUser(userID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for connID, client := range h.users[userID] {
		if h.rooms[roomID] == nil {
			h.rooms[roomID] = make(map[string]*Client)
		}
		h.rooms[roomID][connID] = client
	}
}

// UnsubscribeUser detaches every connection of the user from the room.
func (h *Hub) UnsubscribeUser(userID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.rooms[roomID]
	if !ok {
		return
	}
	for connID := range h.users[userID] {
		delete(conns, connID)
	}
	if len(conns) == 0 {
		delete(h.rooms, roomID)
	}
}

// ToRoom fans a typed event out to every connection subscribed to the
// room, marshalling the envelope once.
func (h *Hub) ToRoom(roomID, event string, payload interface{}, excludeConnID string) {
	raw, err := json.Marshal(NewServerMessage(event, payload))
	if err != nil {
		log.Printf("[WS] marshal %s for room %s failed: %v", event, roomID, err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID, client := range h.rooms[roomID] {
		if connID == excludeConnID {
			continue
		}
		client.Send(raw)
	}
}

// ToUser delivers to every device the user has connected.
func (h *Hub) ToUser(userID, event string, payload interface{}) {
	raw, err := json.Marshal(NewServerMessage(event, payload))
	if err != nil {
		log.Printf("[WS] marshal %s for user %s failed: %v", event, userID, err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.users[userID] {
		client.Send(raw)
	}
}

// ToConn delivers to a single connection (acks and errors).
func (h *Hub) ToConn(connID, event string, payload interface{}) {
	raw, err := json.Marshal(NewServerMessage(event, payload))
	if err != nil {
		log.Printf("[WS] marshal %s for conn %s failed: %v", event, connID, err)
		return
	}
	h.mu.RLock()
	client, ok := h.clients[connID]
	h.mu.RUnlock()
	if ok {
		client.Send(raw)
	}
}

// ConnectionCount reports live connections, for the stats endpoint and
// the presence worker.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnlineUsers snapshots the ids of all authenticated users.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.users))
	for id := range h.users {
		ids = append(ids, id)
	}
	return ids
}
