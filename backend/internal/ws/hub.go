package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"sheetServer/backend/internal/cache"
	"sheetServer/backend/internal/sheet"
)

// presenceTTL is the logical lifetime of a presence record; Join refreshes
// it, so it only matters when a process dies without cleaning up.
const presenceTTL = 10 * time.Minute

// Hub is the room manager: it maps sheet ids to the connections currently
// viewing them, drives the buffer's populate/evict lifecycle as membership
// changes, and fans messages out to rooms.
type Hub struct {
	mu sync.RWMutex
	// sheetID -> set of connections. Per connection, not per user: the
	// same person can hold several tabs and each needs the broadcast.
	rooms map[string]map[*Conn]struct{}

	buffer   *sheet.Buffer
	presence cache.PresenceCache
}

func NewHub(buffer *sheet.Buffer, presence cache.PresenceCache) *Hub {
	h := &Hub{
		rooms:    make(map[string]map[*Conn]struct{}),
		buffer:   buffer,
		presence: presence,
	}
	// eviction runs outside h.mu, so a join can slip in between the room
	// emptying and the entry being dropped; the buffer asks us before it
	// lets go of an entry
	buffer.SetInUseCheck(func(sheetID string) bool {
		return h.RoomSize(sheetID) > 0
	})
	return h
}

// Join moves a connection into the room for sheetID, leaving its previous
// room first (with count broadcast and eviction if that room emptied), and
// returns the resolved sheet. The id must already be validated and
// normalized.
func (h *Hub) Join(ctx context.Context, sheetID string, c *Conn) (sheet.Sheet, bool) {
	h.mu.Lock()
	prev := c.sheetID
	prevRemaining := -1
	if prev != "" && prev != sheetID {
		prevRemaining = h.removeLocked(prev, c)
	}
	if h.rooms[sheetID] == nil {
		h.rooms[sheetID] = make(map[*Conn]struct{})
	}
	h.rooms[sheetID][c] = struct{}{}
	c.sheetID = sheetID
	h.mu.Unlock()

	if prevRemaining >= 0 {
		h.presenceRemove(ctx, prev, c)
		h.broadcastUserCount(prev)
		if prevRemaining == 0 {
			h.buffer.Evict(ctx, prev)
		}
	}

	s, isNew := h.buffer.GetOrCreate(ctx, sheetID)
	if err := h.presence.AddMember(ctx, sheetID, c.connID, presenceTTL); err != nil {
		log.Printf("presence add %s: %v", sheetID, err)
	}
	h.broadcastUserCount(sheetID)
	return s, isNew
}

// Leave removes a connection from its current room, if any. Idempotent;
// called on disconnect.
func (h *Hub) Leave(ctx context.Context, c *Conn) {
	h.mu.Lock()
	sheetID := c.sheetID
	if sheetID == "" {
		h.mu.Unlock()
		return
	}
	remaining := h.removeLocked(sheetID, c)
	c.sheetID = ""
	h.mu.Unlock()

	h.presenceRemove(ctx, sheetID, c)
	h.broadcastUserCount(sheetID)
	if remaining == 0 {
		h.buffer.Evict(ctx, sheetID)
	}
}

// removeLocked takes c out of a room and reports how many connections
// remain. Caller holds h.mu.
func (h *Hub) removeLocked(sheetID string, c *Conn) int {
	conns, ok := h.rooms[sheetID]
	if !ok {
		return 0
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.rooms, sheetID)
		return 0
	}
	return len(conns)
}

// Broadcast sends a message to every connection in the room, the
// originator included.
func (h *Hub) Broadcast(sheetID string, msg OutboundMessage) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.rooms[sheetID]))
	for c := range h.rooms[sheetID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.enqueue(msg)
	}
}

// RoomSize reports the current member count of a room.
func (h *Hub) RoomSize(sheetID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sheetID])
}

func (h *Hub) broadcastUserCount(sheetID string) {
	count := h.RoomSize(sheetID)
	if count == 0 {
		return
	}
	h.Broadcast(sheetID, UserCountMessage{Type: TypeUserCount, Count: count})
}

func (h *Hub) presenceRemove(ctx context.Context, sheetID string, c *Conn) {
	if err := h.presence.RemoveMember(ctx, sheetID, c.connID); err != nil {
		log.Printf("presence remove %s: %v", sheetID, err)
	}
}
