package event

import "time"

const (
	IncomingOrdersTopic = "orders.incoming"
	VoiceOrdersTopic    = "orders.voice"

	EventOrderPlaced     = "order.placed"
	EventOrderVoided     = "order.voided"
	EventVoiceOrderAudio = "order.voice.audio"
)

// IncomingOrderEvent is published by a point of sale when an order is fired
// to the kitchen. OrderID doubles as the idempotency key.
type IncomingOrderEvent struct {
	EventType  string              `json:"event_type"`
	OccurredAt time.Time           `json:"occurred_at"`
	OrderID    string              `json:"order_id"`
	TableRef   string              `json:"table_ref,omitempty"`
	Items      []IncomingOrderItem `json:"items,omitempty"`
}

type IncomingOrderItem struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name,omitempty"`
	Category  string   `json:"category"`
	Quantity  int      `json:"quantity"`
	Modifiers []string `json:"modifiers,omitempty"`
}

// VoiceOrderEvent carries captured audio for an order taken by voice.
// Audio is base64 encoded on the wire.
type VoiceOrderEvent struct {
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	OrderID    string    `json:"order_id"`
	TableRef   string    `json:"table_ref,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Priority   string    `json:"priority,omitempty"`
	Audio      []byte    `json:"audio"`
}
