package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/michel-DC/Teamify-sub004/pkg/logger"
	"github.com/michel-DC/Teamify-sub004/pkg/metrics"
)

// Hub is the process-local room map: room id to the set of live client
// handles subscribed to it. It is rebuilt from the membership store on every
// connect and is never authoritative.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]*Client
	users       map[string]map[string]*Client
	rooms       map[string]map[string]*Client
	clientRooms map[string]map[string]struct{}
	log         *logger.Logger
}

// NewHub constructs an empty hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		users:       make(map[string]map[string]*Client),
		rooms:       make(map[string]map[string]*Client),
		clientRooms: make(map[string]map[string]struct{}),
		log:         log.Named("hub"),
	}
}

// Register tracks c and subscribes it to rooms.
func (h *Hub) Register(c *Client, rooms []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.ID] = c
	sessions := h.users[c.UserID]
	if sessions == nil {
		sessions = make(map[string]*Client)
		h.users[c.UserID] = sessions
	}
	sessions[c.ID] = c
	h.clientRooms[c.ID] = make(map[string]struct{}, len(rooms))
	for _, room := range rooms {
		h.joinLocked(room, c)
	}
	metrics.IncrementSockets()
}

// Unregister removes c from every room. It reports false when c was not
// tracked, so a second call is a no-op.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	removed := h.unregisterLocked(c)
	h.mu.Unlock()
	return removed
}

func (h *Hub) unregisterLocked(c *Client) bool {
	if _, ok := h.clients[c.ID]; !ok {
		return false
	}
	delete(h.clients, c.ID)
	if sessions := h.users[c.UserID]; sessions != nil {
		delete(sessions, c.ID)
		if len(sessions) == 0 {
			delete(h.users, c.UserID)
		}
	}
	for room := range h.clientRooms[c.ID] {
		if members := h.rooms[room]; members != nil {
			delete(members, c.ID)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	delete(h.clientRooms, c.ID)
	metrics.DecrementSockets()
	return true
}

// Join subscribes a tracked client to room.
func (h *Hub) Join(room string, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return false
	}
	h.joinLocked(room, c)
	return true
}

func (h *Hub) joinLocked(room string, c *Client) {
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[c.ID] = c
	h.clientRooms[c.ID][room] = struct{}{}
}

// Leave unsubscribes c from room.
func (h *Hub) Leave(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members := h.rooms[room]; members != nil {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if joined := h.clientRooms[c.ID]; joined != nil {
		delete(joined, room)
	}
}

// PublishRoom hands payload to every client in room. Clients whose buffer is
// full are dropped; their durable history lets them resync.
func (h *Hub) PublishRoom(ctx context.Context, room string, payload []byte) error {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	h.deliver(targets, payload, zap.String("room", room))
	return nil
}

// PublishUser hands payload to every live connection of userID.
func (h *Hub) PublishUser(ctx context.Context, userID string, payload []byte) error {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.users[userID]))
	for _, c := range h.users[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	h.deliver(targets, payload, zap.String("user_id", userID))
	return nil
}

// JoinUser subscribes every live connection of userID to room.
func (h *Hub) JoinUser(ctx context.Context, userID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.users[userID] {
		h.joinLocked(room, c)
	}
	return nil
}

func (h *Hub) deliver(targets []*Client, payload []byte, scope zap.Field) {
	var slow []*Client
	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			if err == errSlowConsumer {
				slow = append(slow, c)
			}
			metrics.FanoutDeliveries.WithLabelValues("dropped").Inc()
			continue
		}
		metrics.FanoutDeliveries.WithLabelValues("queued").Inc()
	}
	for _, c := range slow {
		h.log.Warn("dropping slow client", scope, zap.String("connection_id", c.ID), zap.String("user_id", c.UserID))
		c.Close()
	}
}

// ConnectionCount returns the number of tracked clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns how many clients are subscribed to room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// RoomsOf returns the rooms a client is subscribed to.
func (h *Hub) RoomsOf(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(h.clientRooms[c.ID]))
	for room := range h.clientRooms[c.ID] {
		rooms = append(rooms, room)
	}
	return rooms
}

// Shutdown closes every client. Their read loops then unwind through the
// gateway's normal disconnect path.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
	h.log.Info("hub shut down", zap.Int("closed", len(clients)))
}
