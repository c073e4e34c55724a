package consumer

import "encoding/json"

// EventEnvelope is the wire wrapper around every published event. The
// dispatcher stamps EventID from the outbox row id before publishing.
type EventEnvelope struct {
	Event   string          `json:"event"`
	EventID int64           `json:"event_id"`
	Payload json.RawMessage `json:"payload"`
}
