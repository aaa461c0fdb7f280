package models

import "time"

// DeliveryEvent is a raw provider delivery event, persisted
// unconditionally for forensic replay even when the rest of webhook
// processing no-ops.
type DeliveryEvent struct {
	ID            string    `json:"id"`
	MessageID     string    `json:"message_id"`
	Email         string    `json:"email,omitempty"`
	EventType     string    `json:"event_type"`
	BounceType    string    `json:"bounce_type,omitempty"`
	BounceSubtype string    `json:"bounce_subtype,omitempty"`
	RawPayload    string    `json:"raw_payload"`
	CreatedAt     time.Time `json:"created_at"`
}
