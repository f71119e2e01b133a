package realtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/clinic-chat/internal/observability"
)

// Hub owns the room membership table: one room per chat thread.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger, metrics *observability.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		logger:  logger,
		metrics: metrics,
	}
}

// Join adds the client to the thread's room. Joining twice is a no-op;
// the result reports whether membership changed.
func (h *Hub) Join(c *Client, threadID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[threadID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[threadID] = members
	}
	if _, exists := members[c]; exists {
		return false
	}
	members[c] = struct{}{}
	c.rooms[threadID] = struct{}{}
	h.metrics.RoomJoined()
	return true
}

// Leave removes the client from the thread's room; no-op for non-members.
func (h *Hub) Leave(c *Client, threadID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(c, threadID)
}

// Unregister drops the client from every room it joined.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for threadID := range c.rooms {
		h.leaveLocked(c, threadID)
	}
}

func (h *Hub) leaveLocked(c *Client, threadID string) bool {
	members, ok := h.rooms[threadID]
	if !ok {
		return false
	}
	if _, exists := members[c]; !exists {
		return false
	}
	delete(members, c)
	delete(c.rooms, threadID)
	if len(members) == 0 {
		delete(h.rooms, threadID)
	}
	return true
}

// Publish hands payload to every member of the thread's room, the sender's
// own connections included. Delivery is at most once per connection: a member
// whose send buffer is full misses the event.
func (h *Hub) Publish(threadID string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered, dropped := 0, 0
	for c := range h.rooms[threadID] {
		if c.enqueue(payload) {
			delivered++
			continue
		}
		dropped++
		h.logger.Warn("dropping realtime event for slow connection",
			zap.String("thread_id", threadID),
			zap.String("client_id", c.ID))
	}
	h.metrics.Delivered(delivered, dropped)
	return delivered
}

// Members returns the number of connections joined to the thread's room.
func (h *Hub) Members(threadID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[threadID])
}
