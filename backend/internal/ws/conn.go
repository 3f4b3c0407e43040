package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/gorilla/websocket"

	"sheetServer/backend/internal/sheet"
)

// Conn is one websocket client. Inbound messages are handled one at a time
// by readLoop; outbound messages go through the send channel so the write
// loop is the only goroutine touching the socket for writes.
type Conn struct {
	ws     *websocket.Conn
	hub    *Hub
	buffer *sheet.Buffer
	connID string
	// current room; written only under hub.mu
	sheetID string
	send    chan OutboundMessage
}

func NewConn(ws *websocket.Conn, hub *Hub, buffer *sheet.Buffer, connID string) *Conn {
	return &Conn{
		ws:     ws,
		hub:    hub,
		buffer: buffer,
		connID: connID,
		send:   make(chan OutboundMessage, 32),
	}
}

// enqueue queues a message for the write loop, dropping when the client is
// too slow to drain its queue.
func (c *Conn) enqueue(msg OutboundMessage) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		// the request context is already canceled by the time the socket
		// closes; the leave-side flush still has to reach the store
		c.hub.Leave(context.WithoutCancel(ctx), c)
		close(c.send)
	}()
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			// malformed payload: drop it, never disconnect or mutate
			log.Printf("conn %s: malformed payload: %v", c.connID, err)
			continue
		}
		switch msg.Type {
		case TypeJoinRoom:
			c.handleJoin(ctx, msg)
		case TypeSheetUpdate:
			c.handleUpdate(ctx, msg)
		default:
			// unknown types are ignored
		}
	}
}

func (c *Conn) handleJoin(ctx context.Context, msg ClientMessage) {
	if err := sheet.ValidateSheetID(msg.SheetID); err != nil {
		c.enqueue(ErrorMessage{
			Type:    TypeError,
			Message: "Invalid sheet ID (1-64 characters, no . / \\ allowed).",
		})
		return
	}
	sheetID := sheet.NormalizeSheetID(msg.SheetID)

	s, isNew := c.hub.Join(ctx, sheetID, c)
	log.Printf("conn %s joined room %s (isNew=%t)", c.connID, sheetID, isNew)
	c.enqueue(SheetDataMessage{
		Type:        TypeSheetData,
		SetByGM:     s.SetByGM,
		SetByPlayer: s.SetByPlayer,
		GMHash:      s.GMHash,
		IsNew:       isNew,
	})
}

func (c *Conn) handleUpdate(ctx context.Context, msg ClientMessage) {
	c.hub.mu.RLock()
	sheetID := c.sheetID
	c.hub.mu.RUnlock()
	if sheetID == "" {
		c.enqueue(ErrorMessage{
			Type:    TypeError,
			Message: "Not in a room. Join a room first.",
		})
		return
	}
	if len(msg.SetByGM) == 0 {
		log.Printf("conn %s: sheet-update without set_by_gm, dropped", c.connID)
		return
	}

	verdict := c.buffer.Update(ctx, sheetID, msg.SetByGM, msg.SetByPlayer, msg.GMHash)
	log.Printf("sheet update in room %s: %s", sheetID, verdict)

	// broadcast to the whole room, sender included
	c.hub.Broadcast(sheetID, SheetUpdateMessage{
		Type:        TypeSheetUpdate,
		SetByGM:     msg.SetByGM,
		SetByPlayer: msg.SetByPlayer,
		GMHash:      msg.GMHash,
	})
}

func (c *Conn) writeLoop() {
	for msg := range c.send {
		if err := c.ws.WriteJSON(msg); err != nil {
			log.Printf("conn %s: write %s: %v", c.connID, msg.MessageType(), err)
		}
	}
	_ = c.ws.Close()
}
