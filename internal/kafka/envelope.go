package kafka

import (
	"encoding/json"
	"time"
)

// Envelope wraps every message this service publishes.
type Envelope struct {
	MessageID  string          `json:"messageId"`
	Type       string          `json:"type"`
	Source     string          `json:"source"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}
