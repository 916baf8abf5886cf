package kitchen

import (
	"time"

	"github.com/appetiteclub/kds/pkg/enums/ticketstate"
	"github.com/appetiteclub/kds/pkg/event"
	"github.com/google/uuid"
)

type TicketID = uuid.UUID
type OrderID = uuid.UUID
type LineItemID = uuid.UUID

type Origin string

const (
	OriginPOS   Origin = "pos"
	OriginVoice Origin = "voice"
)

type Order struct {
	ID        OrderID    `bson:"_id" json:"id"`
	Origin    Origin     `bson:"origin" json:"origin"`
	TableRef  string     `bson:"table_ref,omitempty" json:"table_ref,omitempty"`
	Items     []LineItem `bson:"items" json:"items"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	VoidedAt  *time.Time `bson:"voided_at,omitempty" json:"voided_at,omitempty"`
}

// LineItem is an order line. Stations is resolved once at ingest and never
// empty afterwards.
type LineItem struct {
	ID        LineItemID `bson:"id" json:"id"`
	OrderID   OrderID    `bson:"order_id" json:"order_id"`
	Name      string     `bson:"name,omitempty" json:"name,omitempty"`
	Category  string     `bson:"category" json:"category"`
	Quantity  int        `bson:"quantity" json:"quantity"`
	Modifiers []string   `bson:"modifiers,omitempty" json:"modifiers,omitempty"`
	Stations  []string   `bson:"stations,omitempty" json:"stations,omitempty"`
}

// TicketItem references a line item on a ticket and carries what the display
// needs to render it.
type TicketItem struct {
	LineItemID LineItemID `bson:"line_item_id" json:"line_item_id"`
	Name       string     `bson:"name,omitempty" json:"name,omitempty"`
	Category   string     `bson:"category" json:"category"`
	Quantity   int        `bson:"quantity" json:"quantity"`
	Modifiers  []string   `bson:"modifiers,omitempty" json:"modifiers,omitempty"`
}

type Ticket struct {
	ID        TicketID     `bson:"_id" json:"id"`
	OrderID   OrderID      `bson:"order_id" json:"order_id"`
	StationID string       `bson:"station_id" json:"station_id"`
	Expo      bool         `bson:"expo" json:"expo"`
	Items     []TicketItem `bson:"items" json:"items"`
	State     string       `bson:"state" json:"state"`

	RecallCount    int  `bson:"recall_count" json:"recall_count"`
	NeedsAttention bool `bson:"needs_attention" json:"needs_attention"`
	// Sequence of the station event that announced the ticket; 0 until the
	// created event has been appended.
	Sequence uint64 `bson:"sequence" json:"sequence"`

	// Denormalized data for display purposes
	TableRef string `bson:"table_ref,omitempty" json:"table_ref,omitempty"`

	CreatedAt      time.Time  `bson:"created_at" json:"created_at"`
	StateChangedAt time.Time  `bson:"state_changed_at" json:"state_changed_at"`
	UpdatedAt      time.Time  `bson:"updated_at" json:"updated_at"`
	StartedAt      *time.Time `bson:"started_at,omitempty" json:"started_at,omitempty"`
	ReadyAt        *time.Time `bson:"ready_at,omitempty" json:"ready_at,omitempty"`
	BumpedAt       *time.Time `bson:"bumped_at,omitempty" json:"bumped_at,omitempty"`
	VoidedAt       *time.Time `bson:"voided_at,omitempty" json:"voided_at,omitempty"`

	ModelVersion int `bson:"model_version" json:"model_version"`
}

// Station is a physical prep station as listed by the API.
type Station struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Expo bool   `json:"expo"`
}

// Status returns the lifecycle state. Unknown codes read as queued.
func (t *Ticket) Status() ticketstate.State {
	if s := ticketstate.ByName(t.State); s != nil {
		return *s
	}
	return ticketstate.States.Queued
}

func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.Items = make([]TicketItem, len(t.Items))
	for i, it := range t.Items {
		it.Modifiers = append([]string(nil), it.Modifiers...)
		c.Items[i] = it
	}
	c.StartedAt = cloneTime(t.StartedAt)
	c.ReadyAt = cloneTime(t.ReadyAt)
	c.BumpedAt = cloneTime(t.BumpedAt)
	c.VoidedAt = cloneTime(t.VoidedAt)
	return &c
}

func (t *Ticket) lineItems() []event.LineItem {
	items := make([]event.LineItem, 0, len(t.Items))
	for _, it := range t.Items {
		items = append(items, event.LineItem{
			ID:        it.LineItemID.String(),
			Name:      it.Name,
			Category:  it.Category,
			Quantity:  it.Quantity,
			Modifiers: append([]string(nil), it.Modifiers...),
		})
	}
	return items
}

// View projects the ticket for a station display.
func (t *Ticket) View() event.TicketView {
	return event.TicketView{
		TicketID:       t.ID.String(),
		OrderID:        t.OrderID.String(),
		StationID:      t.StationID,
		State:          t.State,
		TableRef:       t.TableRef,
		Expo:           t.Expo,
		RecallCount:    t.RecallCount,
		NeedsAttention: t.NeedsAttention,
		LineItems:      t.lineItems(),
		CreatedAt:      t.CreatedAt,
		StateChangedAt: t.StateChangedAt,
	}
}

// Event builds an unsequenced station event describing the ticket's current
// state, stamped with its last update.
func (t *Ticket) Event(eventType, previousState string) event.TicketEvent {
	return event.TicketEvent{
		EventType:      eventType,
		TicketID:       t.ID.String(),
		OrderID:        t.OrderID.String(),
		StationID:      t.StationID,
		State:          t.State,
		PreviousState:  previousState,
		Timestamp:      t.UpdatedAt,
		LineItems:      t.lineItems(),
		TableRef:       t.TableRef,
		Expo:           t.Expo,
		RecallCount:    t.RecallCount,
		NeedsAttention: t.NeedsAttention,
		CreatedAt:      t.CreatedAt,
	}
}

// moveTo enters state s at now and keeps the per-state stamps consistent
// with it. Moving back clears the stamps of the stages being undone.
func (t *Ticket) moveTo(s ticketstate.State, now time.Time) {
	t.State = s.Code()
	t.StateChangedAt = now
	t.UpdatedAt = now

	switch s {
	case ticketstate.States.InProgress:
		if t.StartedAt == nil {
			t.StartedAt = stamp(now)
		}
		t.ReadyAt = nil
		t.BumpedAt = nil
	case ticketstate.States.Ready:
		if t.StartedAt == nil {
			t.StartedAt = stamp(now)
		}
		t.ReadyAt = stamp(now)
		t.BumpedAt = nil
	case ticketstate.States.Bumped:
		t.BumpedAt = stamp(now)
	case ticketstate.States.Voided:
		t.VoidedAt = stamp(now)
	}
}

func (o *Order) Voided() bool {
	return o.VoidedAt != nil
}

func stamp(t time.Time) *time.Time {
	return &t
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
