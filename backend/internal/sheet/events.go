package sheet

import "time"

const EventSheetUpdated = "SHEET_UPDATED"

// SheetEvent is the audit record published to Kafka for every accepted
// update. Delivery is best effort; the editing path never waits on it.
type SheetEvent struct {
	EventType  string     `json:"eventType"`
	SheetID    string     `json:"sheetId"`
	ChangeType ChangeType `json:"changeType"`
	GMHash     string     `json:"gmHash"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}
