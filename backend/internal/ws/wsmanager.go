package ws

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sheetServer/backend/internal/sheet"
)

// upgrader allows same-origin and local development origins.
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

// Manager upgrades HTTP requests to websocket connections and runs their
// loops.
type Manager struct {
	hub    *Hub
	buffer *sheet.Buffer
	nextID atomic.Uint64
}

func NewManager(hub *Hub, buffer *sheet.Buffer) *Manager {
	return &Manager{hub: hub, buffer: buffer}
}

func (m *Manager) WebSocketConnect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	connID := "c" + strconv.FormatUint(m.nextID.Add(1), 10)
	wsConn := NewConn(conn, m.hub, m.buffer, connID)
	log.Printf("client connected: %s", connID)

	// write loop first so anything enqueued during join goes out promptly
	go wsConn.writeLoop()
	// read loop blocks until the connection closes
	wsConn.readLoop(c.Request.Context())
	log.Printf("client disconnected: %s", connID)
}
