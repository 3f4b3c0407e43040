package ws

import "encoding/json"

// Message type tags. One JSON object per websocket message, discriminated
// by "type".
const (
	TypeJoinRoom    = "join-room"
	TypeSheetUpdate = "sheet-update"
	TypeSheetData   = "sheet-data"
	TypeUserCount   = "user-count"
	TypeError       = "error"
)

// ClientMessage is the envelope for everything a client may send.
type ClientMessage struct {
	Type        string          `json:"type"`
	SheetID     string          `json:"sheetId,omitempty"`
	SetByGM     json.RawMessage `json:"set_by_gm,omitempty"`
	SetByPlayer json.RawMessage `json:"set_by_player,omitempty"`
	GMHash      string          `json:"gmHash,omitempty"`
}

// SheetDataMessage answers a join: the full resolved sheet plus whether it
// was just created from the default template.
type SheetDataMessage struct {
	Type        string          `json:"type"`
	SetByGM     json.RawMessage `json:"set_by_gm"`
	SetByPlayer json.RawMessage `json:"set_by_player"`
	GMHash      string          `json:"gmHash"`
	IsNew       bool            `json:"isNew"`
}

// SheetUpdateMessage is broadcast to the whole room, originator included;
// the originator reconciles against the server's canonical copy instead of
// trusting its own optimistic state.
type SheetUpdateMessage struct {
	Type        string          `json:"type"`
	SetByGM     json.RawMessage `json:"set_by_gm"`
	SetByPlayer json.RawMessage `json:"set_by_player"`
	GMHash      string          `json:"gmHash"`
}

// UserCountMessage is sent to a room on every membership change.
type UserCountMessage struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// OutboundMessage is anything the write loop can serialize.
type OutboundMessage interface {
	MessageType() string
}

func (m SheetDataMessage) MessageType() string   { return m.Type }
func (m SheetUpdateMessage) MessageType() string { return m.Type }
func (m UserCountMessage) MessageType() string   { return m.Type }
func (m ErrorMessage) MessageType() string       { return m.Type }
