package ws

import (
	"sync"

	"chatrelay/internal/metrics"
)

// Hub tracks live connections, their room memberships and a per-user index,
// and routes broadcasts to the selected audience. Rooms exist only in memory:
// they appear on first join and vanish when the last member leaves.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	users   map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		users:   make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if c.userID != "" {
		set := h.users[c.userID]
		if set == nil {
			set = make(map[*Client]struct{})
			h.users[c.userID] = set
		}
		set[c] = struct{}{}
	}
	metrics.WsConnections.Inc()
}

// Unregister removes the client from every room and index and closes its
// send channel. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for roomID := range c.rooms {
		h.dropFromRoom(roomID, c)
	}
	if c.userID != "" {
		if set := h.users[c.userID]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(h.users, c.userID)
			}
		}
	}
	metrics.WsConnections.Dec()
	h.mu.Unlock()
	c.closeSend()
}

// Join adds the client to the room, creating it on first use, and returns
// the member count after the join.
func (h *Hub) Join(roomID string, c *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[roomID]
	if room == nil {
		room = make(map[*Client]struct{})
		h.rooms[roomID] = room
	}
	room[c] = struct{}{}
	c.rooms[roomID] = struct{}{}
	return len(room)
}

// Leave removes the client from the room. It returns the remaining member
// count and whether the client actually was a member.
func (h *Hub) Leave(roomID string, c *Client) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, member := c.rooms[roomID]
	delete(c.rooms, roomID)
	h.dropFromRoom(roomID, c)
	return len(h.rooms[roomID]), member
}

// dropFromRoom must run with h.mu held.
func (h *Hub) dropFromRoom(roomID string, c *Client) {
	room := h.rooms[roomID]
	if room == nil {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, roomID)
	}
}

func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) Online() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers payload to every connection in the audience, except the
// optional excluded one. Delivery is fire-and-forget: a client whose send
// buffer is full is dropped rather than awaited.
func (h *Hub) Broadcast(a Audience, payload []byte, exclude *Client) {
	targets := h.resolve(a, exclude)
	var slow []*Client
	for _, c := range targets {
		if !c.trySend(payload) {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.Unregister(c)
	}
}

func (h *Hub) resolve(a Audience, exclude *Client) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*Client
	appendClient := func(c *Client) {
		if c != exclude {
			out = append(out, c)
		}
	}
	switch a.kind {
	case audienceRoom:
		for c := range h.rooms[a.room] {
			appendClient(c)
		}
	case audienceRecipients:
		seen := make(map[*Client]struct{})
		for _, uid := range a.recipients {
			for c := range h.users[uid] {
				if _, dup := seen[c]; dup {
					continue
				}
				seen[c] = struct{}{}
				appendClient(c)
			}
		}
	case audienceEveryone:
		for c := range h.clients {
			appendClient(c)
		}
	}
	return out
}
