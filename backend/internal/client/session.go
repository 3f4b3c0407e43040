package client

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"sheetServer/backend/internal/sheet"
	"sheetServer/backend/internal/ws"
)

// DebounceWindow is the local-inactivity window before an outbound update
// is sent.
const DebounceWindow = 300 * time.Millisecond

// Sender transmits one full-document update to the server.
type Sender interface {
	SendUpdate(setByGM, setByPlayer json.RawMessage, gmHash string) error
}

// StateFunc captures the current full document state from the local form.
type StateFunc func() (setByGM, setByPlayer json.RawMessage)

// Session is the client side of the sync protocol: it owns the debounce
// timer for outbound updates and routes inbound messages to the
// reconciler. Rapid local edits coalesce into a single update carrying
// the state as of the last edit.
type Session struct {
	mu     sync.Mutex
	window time.Duration
	timer  *time.Timer
	online bool
	count  int

	sender Sender
	state  StateFunc
	rec    *Reconciler
}

func NewSession(view View, sender Sender, state StateFunc, window time.Duration) *Session {
	if window <= 0 {
		window = DebounceWindow
	}
	return &Session{
		window: window,
		sender: sender,
		state:  state,
		rec:    NewReconciler(view),
	}
}

// SetOnline records connection liveness. Sends that would fire while
// offline are suppressed, not errors.
func (s *Session) SetOnline(online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
}

// NotifyLocalChange (re)starts the trailing debounce timer. Call it after
// every local field mutation.
func (s *Session) NotifyLocalChange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.window, s.broadcast)
}

// Stop cancels any pending outbound update.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// broadcast fires when the debounce window elapses with no further edits.
func (s *Session) broadcast() {
	s.mu.Lock()
	online := s.online
	s.mu.Unlock()
	if !online {
		return
	}

	setByGM, setByPlayer := s.state()
	if len(setByGM) == 0 {
		return
	}
	gmHash := sheet.Fingerprint(setByGM)
	if err := s.sender.SendUpdate(setByGM, setByPlayer, gmHash); err != nil {
		log.Printf("send update: %v", err)
		return
	}
	// the echoed broadcast should classify as small unless the GM portion
	// really changed again in between
	s.rec.noteLocalHash(gmHash)
}

// HandleInbound routes one raw message from the server. Malformed
// payloads are dropped with a log entry and never surface to the user.
func (s *Session) HandleInbound(raw []byte) {
	var msg struct {
		Type        string          `json:"type"`
		SetByGM     json.RawMessage `json:"set_by_gm"`
		SetByPlayer json.RawMessage `json:"set_by_player"`
		GMHash      string          `json:"gmHash"`
		IsNew       bool            `json:"isNew"`
		Count       int             `json:"count"`
		Message     string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("inbound: malformed message dropped: %v", err)
		return
	}
	switch msg.Type {
	case ws.TypeSheetData:
		s.rec.ApplySheetData(msg.SetByGM, msg.SetByPlayer, msg.GMHash)
	case ws.TypeSheetUpdate:
		s.rec.ApplyUpdate(msg.SetByGM, msg.SetByPlayer, msg.GMHash)
	case ws.TypeUserCount:
		s.mu.Lock()
		s.count = msg.Count
		s.mu.Unlock()
	case ws.TypeError:
		log.Printf("server error: %s", msg.Message)
	default:
	}
}

// OthersCount derives the "+N others" display value: everyone in the room
// except the viewer, never negative.
func (s *Session) OthersCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count <= 1 {
		return 0
	}
	return s.count - 1
}
