package sheet

import "encoding/json"

// Sheet is one shared character sheet. The two portions are stored as raw
// JSON: the server replaces them wholesale and never interprets field
// contents, so there is nothing to gain from decoding them here.
type Sheet struct {
	SheetID string `json:"sheetId"`
	// set_by_gm: structure, labels and styling authored by the GM.
	// Changes here are rare and force a full re-render on clients.
	SetByGM json.RawMessage `json:"set_by_gm"`
	// set_by_player: values filled in during play.
	SetByPlayer json.RawMessage `json:"set_by_player"`
	// GMHash is the fingerprint of SetByGM at the time of the last update.
	GMHash string `json:"gmHash"`
}

// EmptyPlayerPortion is what SetByPlayer defaults to when a client omits it.
var EmptyPlayerPortion = json.RawMessage(`{}`)
