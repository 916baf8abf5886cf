package event

import "time"

const (
	KitchenTicketsTopic     = "kitchen.tickets"
	EventTicketCreated      = "kitchen.ticket.created"
	EventTicketStateChanged = "kitchen.ticket.state_changed"
	EventTicketFlagged      = "kitchen.ticket.flagged"
)

// LineItem is the display projection of an order line carried by every
// ticket event and snapshot.
type LineItem struct {
	ID        string   `json:"id" bson:"id"`
	Name      string   `json:"name,omitempty" bson:"name,omitempty"`
	Category  string   `json:"category" bson:"category"`
	Quantity  int      `json:"quantity" bson:"quantity"`
	Modifiers []string `json:"modifiers,omitempty" bson:"modifiers,omitempty"`
}

// TicketEvent is a single entry of a station event log. Sequence is assigned
// by the station log and is strictly increasing per station.
type TicketEvent struct {
	EventType     string     `json:"event_type" bson:"event_type"`
	TicketID      string     `json:"ticket_id" bson:"ticket_id"`
	OrderID       string     `json:"order_id" bson:"order_id"`
	StationID     string     `json:"station_id" bson:"station_id"`
	State         string     `json:"state" bson:"state"`
	PreviousState string     `json:"previous_state,omitempty" bson:"previous_state,omitempty"`
	Sequence      uint64     `json:"sequence" bson:"sequence"`
	Timestamp     time.Time  `json:"timestamp" bson:"timestamp"`
	LineItems     []LineItem `json:"line_items" bson:"line_items"`

	// Denormalized data for displays and metrics
	TableRef       string    `json:"table_ref,omitempty" bson:"table_ref,omitempty"`
	Expo           bool      `json:"expo,omitempty" bson:"expo,omitempty"`
	RecallCount    int       `json:"recall_count" bson:"recall_count"`
	NeedsAttention bool      `json:"needs_attention,omitempty" bson:"needs_attention,omitempty"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}

// TicketView is a ticket as shown on a station display.
type TicketView struct {
	TicketID       string     `json:"ticket_id"`
	OrderID        string     `json:"order_id"`
	StationID      string     `json:"station_id"`
	State          string     `json:"state"`
	TableRef       string     `json:"table_ref,omitempty"`
	Expo           bool       `json:"expo,omitempty"`
	RecallCount    int        `json:"recall_count"`
	NeedsAttention bool       `json:"needs_attention,omitempty"`
	LineItems      []LineItem `json:"line_items"`
	CreatedAt      time.Time  `json:"created_at"`
	StateChangedAt time.Time  `json:"state_changed_at"`
}

// StationSnapshot replaces everything a display knows about a station.
// Sequence is the cursor the display resumes from.
type StationSnapshot struct {
	StationID string       `json:"station_id"`
	Sequence  uint64       `json:"sequence"`
	TakenAt   time.Time    `json:"taken_at"`
	Tickets   []TicketView `json:"tickets"`
}
