package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"sheetServer/backend/internal/sheet"
)

type fakeStore struct {
	mu     sync.Mutex
	sheets map[string]sheet.Sheet
}

func newFakeStore() *fakeStore {
	return &fakeStore{sheets: make(map[string]sheet.Sheet)}
}

func (f *fakeStore) FindByID(ctx context.Context, sheetID string) (*sheet.Sheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sheets[sheetID]
	if !ok {
		return nil, nil
	}
	cp := s
	return &cp, nil
}

func (f *fakeStore) Upsert(ctx context.Context, s sheet.Sheet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sheets[s.SheetID] = s
	return nil
}

func (f *fakeStore) Insert(ctx context.Context, s sheet.Sheet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sheets[s.SheetID]; ok {
		return sheet.ErrSheetExists
	}
	f.sheets[s.SheetID] = s
	return nil
}

type fakePresence struct{}

func (fakePresence) AddMember(ctx context.Context, sheetID, connID string, ttl time.Duration) error {
	return nil
}
func (fakePresence) RemoveMember(ctx context.Context, sheetID, connID string) error { return nil }
func (fakePresence) CountMembers(ctx context.Context, sheetID string) (int64, error) {
	return 0, nil
}

var testTemplate = sheet.StaticTemplateLoader{Template: sheet.Template{
	SetByGM:     json.RawMessage(`{"localization":{"title":"Test"},"attributes":[]}`),
	SetByPlayer: json.RawMessage(`{}`),
}}

func newTestHub() (*Hub, *sheet.Buffer, *fakeStore) {
	fs := newFakeStore()
	buffer := sheet.NewBuffer(fs, testTemplate, nil)
	return NewHub(buffer, fakePresence{}), buffer, fs
}

func newTestConn(hub *Hub, buffer *sheet.Buffer, connID string) *Conn {
	// no socket: outbound messages stay in the send channel for draining
	return NewConn(nil, hub, buffer, connID)
}

// drain empties a connection's send queue.
func drain(c *Conn) []OutboundMessage {
	var out []OutboundMessage
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func countByType(msgs []OutboundMessage, typ string) int {
	n := 0
	for _, m := range msgs {
		if m.MessageType() == typ {
			n++
		}
	}
	return n
}

func TestJoinBroadcastsUserCount(t *testing.T) {
	hub, buffer, _ := newTestHub()
	ctx := context.Background()

	c1 := newTestConn(hub, buffer, "c1")
	c2 := newTestConn(hub, buffer, "c2")

	hub.Join(ctx, "my-group", c1)
	if hub.RoomSize("my-group") != 1 {
		t.Fatalf("room size = %d, want 1", hub.RoomSize("my-group"))
	}
	msgs := drain(c1)
	if countByType(msgs, TypeUserCount) != 1 {
		t.Fatalf("c1 should receive a user-count after joining, got %v", msgs)
	}

	hub.Join(ctx, "my-group", c2)
	for _, c := range []*Conn{c1, c2} {
		msgs := drain(c)
		found := false
		for _, m := range msgs {
			if uc, ok := m.(UserCountMessage); ok && uc.Count == 2 {
				found = true
			}
		}
		if !found {
			t.Fatalf("conn %s should see count 2 after second join, got %v", c.connID, msgs)
		}
	}
}

func TestJoinFirstTimeReportsIsNew(t *testing.T) {
	hub, buffer, _ := newTestHub()
	c1 := newTestConn(hub, buffer, "c1")

	c1.handleJoin(context.Background(), ClientMessage{Type: TypeJoinRoom, SheetID: "my-group"})

	var data *SheetDataMessage
	for _, m := range drain(c1) {
		if sd, ok := m.(SheetDataMessage); ok {
			data = &sd
		}
	}
	if data == nil {
		t.Fatalf("join should answer with sheet-data")
	}
	if !data.IsNew {
		t.Fatalf("first join of an unseen id should report isNew")
	}
	if string(data.SetByGM) != string(testTemplate.Template.SetByGM) {
		t.Fatalf("new sheet should come from the default template")
	}
}

func TestJoinCaseInsensitive(t *testing.T) {
	hub, buffer, _ := newTestHub()
	ctx := context.Background()

	c1 := newTestConn(hub, buffer, "c1")
	c2 := newTestConn(hub, buffer, "c2")
	c1.handleJoin(ctx, ClientMessage{Type: TypeJoinRoom, SheetID: "foo"})
	c2.handleJoin(ctx, ClientMessage{Type: TypeJoinRoom, SheetID: "FOO"})

	if hub.RoomSize("foo") != 2 {
		t.Fatalf("foo and FOO should resolve to the same room, size = %d", hub.RoomSize("foo"))
	}
}

func TestJoinRejectsInvalidID(t *testing.T) {
	hub, buffer, _ := newTestHub()
	c1 := newTestConn(hub, buffer, "c1")

	c1.handleJoin(context.Background(), ClientMessage{Type: TypeJoinRoom, SheetID: "Foo.Bar"})

	msgs := drain(c1)
	if countByType(msgs, TypeError) != 1 {
		t.Fatalf("invalid id should produce an error message, got %v", msgs)
	}
	if hub.RoomSize("foo.bar") != 0 {
		t.Fatalf("invalid id must not create a room")
	}
}

func TestUpdateBroadcastsToWholeRoom(t *testing.T) {
	hub, buffer, _ := newTestHub()
	ctx := context.Background()

	c1 := newTestConn(hub, buffer, "c1")
	c2 := newTestConn(hub, buffer, "c2")
	c1.handleJoin(ctx, ClientMessage{Type: TypeJoinRoom, SheetID: "my-group"})
	c2.handleJoin(ctx, ClientMessage{Type: TypeJoinRoom, SheetID: "my-group"})
	drain(c1)
	drain(c2)

	gm := json.RawMessage(`{"fields":["a"]}`)
	c1.handleUpdate(ctx, ClientMessage{
		Type:        TypeSheetUpdate,
		SetByGM:     gm,
		SetByPlayer: json.RawMessage(`{"infos":["final"]}`),
		GMHash:      sheet.Fingerprint(gm),
	})

	// one update in, exactly one broadcast out, originator included
	for _, c := range []*Conn{c1, c2} {
		msgs := drain(c)
		if countByType(msgs, TypeSheetUpdate) != 1 {
			t.Fatalf("conn %s should receive exactly 1 sheet-update, got %v", c.connID, msgs)
		}
	}
}

func TestUpdateWithoutRoomRejected(t *testing.T) {
	hub, buffer, _ := newTestHub()
	c1 := newTestConn(hub, buffer, "c1")

	c1.handleUpdate(context.Background(), ClientMessage{
		Type:    TypeSheetUpdate,
		SetByGM: json.RawMessage(`{}`),
	})
	if countByType(drain(c1), TypeError) != 1 {
		t.Fatalf("update before join should produce an error message")
	}
}

func TestLeaveEvictsEmptyRoom(t *testing.T) {
	hub, buffer, fs := newTestHub()
	ctx := context.Background()

	c1 := newTestConn(hub, buffer, "c1")
	hub.Join(ctx, "my-group", c1)
	gm := json.RawMessage(`{"fields":["a"]}`)
	buffer.Update(ctx, "my-group", gm, json.RawMessage(`{"infos":["x"]}`), sheet.Fingerprint(gm))

	hub.Leave(ctx, c1)
	if hub.RoomSize("my-group") != 0 {
		t.Fatalf("room should be empty after last leave")
	}
	if buffer.Len() != 0 {
		t.Fatalf("cache entry should be evicted when the room empties")
	}
	fs.mu.Lock()
	persisted := string(fs.sheets["my-group"].SetByPlayer)
	fs.mu.Unlock()
	if persisted != `{"infos":["x"]}` {
		t.Fatalf("eviction should flush edits, store has %q", persisted)
	}
}

func TestLeaveKeepsEntryWhileRoomOccupied(t *testing.T) {
	hub, buffer, _ := newTestHub()
	ctx := context.Background()

	c1 := newTestConn(hub, buffer, "c1")
	c2 := newTestConn(hub, buffer, "c2")
	hub.Join(ctx, "my-group", c1)
	hub.Join(ctx, "my-group", c2)

	hub.Leave(ctx, c1)
	if buffer.Len() != 1 {
		t.Fatalf("entry must stay while the room is non-empty")
	}
	// remaining member is told the new count
	found := false
	for _, m := range drain(c2) {
		if uc, ok := m.(UserCountMessage); ok && uc.Count == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("remaining member should see count 1")
	}
}

func TestStaleEvictionSparesReoccupiedRoom(t *testing.T) {
	hub, buffer, _ := newTestHub()
	ctx := context.Background()

	c1 := newTestConn(hub, buffer, "c1")
	c2 := newTestConn(hub, buffer, "c2")
	hub.Join(ctx, "my-group", c1)
	hub.Leave(ctx, c1)
	// c2 joins and reuses whatever state is around for the id
	hub.Join(ctx, "my-group", c2)

	// a leave-triggered eviction that was delayed past c2's join must not
	// pull the entry out from under the occupied room
	buffer.Evict(ctx, "my-group")
	if buffer.Len() != 1 {
		t.Fatalf("eviction dropped the entry of an occupied room")
	}

	// c2's next update still classifies against the known fingerprint
	gm := json.RawMessage(`{"fields":["a"]}`)
	fp := sheet.Fingerprint(gm)
	buffer.Update(ctx, "my-group", gm, nil, fp)
	if got := buffer.Update(ctx, "my-group", gm, json.RawMessage(`{"infos":["x"]}`), fp); got != sheet.ChangeSmall {
		t.Fatalf("update in a surviving entry = %s, want small", got)
	}
}

func TestSwitchingRoomsEvictsOldRoom(t *testing.T) {
	hub, buffer, _ := newTestHub()
	ctx := context.Background()

	c1 := newTestConn(hub, buffer, "c1")
	hub.Join(ctx, "old-room", c1)
	hub.Join(ctx, "new-room", c1)

	if hub.RoomSize("old-room") != 0 {
		t.Fatalf("old room should be empty after switching")
	}
	if hub.RoomSize("new-room") != 1 {
		t.Fatalf("new room should hold the connection")
	}
	if buffer.Len() != 1 {
		t.Fatalf("only the new room's entry should remain, have %d", buffer.Len())
	}
}

func TestLeaveIdempotent(t *testing.T) {
	hub, buffer, _ := newTestHub()
	ctx := context.Background()

	c1 := newTestConn(hub, buffer, "c1")
	hub.Leave(ctx, c1) // never joined
	hub.Join(ctx, "my-group", c1)
	hub.Leave(ctx, c1)
	hub.Leave(ctx, c1) // double leave
	if hub.RoomSize("my-group") != 0 {
		t.Fatalf("room should be empty")
	}
}
