package kitchen

import (
	"context"

	"github.com/appetiteclub/kds/pkg/event"
)

// Store persists orders and their tickets.
type Store interface {
	// SaveOrderWithTickets writes the order and all its tickets atomically.
	// It returns ErrOrderExists when the order id is already taken.
	SaveOrderWithTickets(ctx context.Context, order *Order, tickets []*Ticket) error
	SaveOrder(ctx context.Context, order *Order) error
	// SaveOrderTickets replaces the order and the given tickets atomically.
	SaveOrderTickets(ctx context.Context, order *Order, tickets []*Ticket) error
	// FindOrder returns nil, nil when the order does not exist.
	FindOrder(ctx context.Context, id OrderID) (*Order, error)
	SaveTicket(ctx context.Context, t *Ticket) error
	// FindTicket returns ErrTicketNotFound when the ticket does not exist.
	FindTicket(ctx context.Context, id TicketID) (*Ticket, error)
	ListTicketsByOrder(ctx context.Context, orderID OrderID) ([]*Ticket, error)
	ListActiveTickets(ctx context.Context) ([]*Ticket, error)
	LoadStationQueue(ctx context.Context, stationID string) ([]*Ticket, error)
}

// Journal sequences ticket events per station and delivers them to
// displays. Commit returns the event with its assigned sequence and runs
// apply while no snapshot of the station can be taken.
type Journal interface {
	Commit(ctx context.Context, evt event.TicketEvent, apply func(event.TicketEvent)) (event.TicketEvent, error)
}
