package kitchen

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/kds/pkg/event"
)

// announcer appends ticket events to the station journal and mirrors them on
// the kitchen.tickets topic for other services.
type announcer struct {
	journal   Journal
	publisher events.Publisher
	logger    apt.Logger
}

// announce appends the ticket's event. apply runs once the event has its
// sequence, before any display receives it.
func (a *announcer) announce(ctx context.Context, t *Ticket, eventType, previousState string, apply func(event.TicketEvent)) (event.TicketEvent, error) {
	evt, err := a.journal.Commit(ctx, t.Event(eventType, previousState), apply)
	if err != nil {
		return evt, fmt.Errorf("cannot append %s event: %w", eventType, err)
	}
	a.mirror(ctx, evt)
	return evt, nil
}

// mirror is best effort; a failure never undoes the transition.
func (a *announcer) mirror(ctx context.Context, evt event.TicketEvent) {
	if a.publisher == nil {
		return
	}

	data, err := json.Marshal(evt)
	if err != nil {
		a.logger.Error("cannot marshal ticket event", "ticket_id", evt.TicketID, "error", err)
		return
	}

	if err := a.publisher.Publish(ctx, event.KitchenTicketsTopic, data); err != nil {
		a.logger.Error("failed to publish ticket event",
			"event_type", evt.EventType,
			"ticket_id", evt.TicketID,
			"error", err,
		)
	}
}
