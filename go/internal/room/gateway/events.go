package gateway

import (
	"encoding/json"
	"time"

	"github.com/mcdev12/spoker/go/internal/models"
	"github.com/mcdev12/spoker/go/internal/room/aggregate"
)

// RoomEvent is the envelope of every server to client message.
type RoomEvent struct {
	ID        string          `json:"id"`        // Event UUID
	RoomID    string          `json:"room_id"`   // Room slug
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data,omitempty"`
}

type EventType string

const (
	EventTypeSnapshot     EventType = "snapshot"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeRoomMissing  EventType = "room_missing"
	EventTypeError        EventType = "error"
	EventTypeAck          EventType = "ack"
)

// SnapshotPayload carries the whole room as of Revision.
type SnapshotPayload struct {
	Revision uint64          `json:"revision"`
	Room     *models.Room    `json:"state"`
	Tally    aggregate.Tally `json:"tally"`
	Glyphs   models.Glyphs   `json:"glyphs"`
}

type ErrorPayload struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type AckPayload struct {
	RequestID string `json:"request_id,omitempty"`
	Intent    string `json:"intent"`
	TaskID    string `json:"task_id,omitempty"` // set for enqueue
}
