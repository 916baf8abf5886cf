package kitchen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/kds/pkg/enums/ticketstate"
	"github.com/appetiteclub/kds/pkg/routing"
	"github.com/google/uuid"
)

type IngestResult struct {
	OrderID   OrderID    `json:"order_id"`
	TicketIDs []TicketID `json:"ticket_ids"`
	// Existing is set when the order had already been routed.
	Existing bool `json:"existing"`
}

// Ingestor turns orders into station tickets. Ingesting the same order id
// again returns the tickets created the first time.
type Ingestor struct {
	store  Store
	router *routing.Router
	engine *Engine
	logger apt.Logger
	now    func() time.Time
}

func NewIngestor(store Store, router *routing.Router, engine *Engine, logger apt.Logger) *Ingestor {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if router == nil {
		router = routing.NewRouter(nil)
	}
	return &Ingestor{
		store:  store,
		router: router,
		engine: engine,
		logger: logger.With("component", "ingest"),
		now:    time.Now,
	}
}

func (in *Ingestor) Ingest(ctx context.Context, order Order) (IngestResult, error) {
	order.Items = append([]LineItem(nil), order.Items...)
	if err := validateOrder(&order); err != nil {
		return IngestResult{}, err
	}

	existing, err := in.store.FindOrder(ctx, order.ID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("cannot find order: %w", err)
	}
	if existing != nil {
		return in.resume(ctx, order.ID)
	}

	now := in.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.Origin == "" {
		order.Origin = OriginPOS
	}

	tickets := in.route(&order, in.router.Current(), now)

	if err := in.store.SaveOrderWithTickets(ctx, &order, tickets); err != nil {
		if errors.Is(err, ErrOrderExists) {
			return in.resume(ctx, order.ID)
		}
		return IngestResult{}, fmt.Errorf("cannot save order: %w", err)
	}

	in.engine.board.Restore(tickets)

	result := IngestResult{OrderID: order.ID}
	for _, t := range tickets {
		result.TicketIDs = append(result.TicketIDs, t.ID)
		if err := in.engine.announceCreated(ctx, t); err != nil {
			return result, err
		}
	}

	in.logger.Info("order routed",
		"order_id", order.ID,
		"origin", order.Origin,
		"items", len(order.Items),
		"tickets", len(tickets),
	)
	return result, nil
}

// resume handles an order that was already stored. Tickets whose created
// event never went out are announced now.
func (in *Ingestor) resume(ctx context.Context, orderID OrderID) (IngestResult, error) {
	tickets, err := in.store.ListTicketsByOrder(ctx, orderID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("cannot list order tickets: %w", err)
	}

	result := IngestResult{OrderID: orderID, Existing: true}
	for _, t := range tickets {
		result.TicketIDs = append(result.TicketIDs, t.ID)
		if t.Sequence != 0 {
			continue
		}
		if !t.Status().Terminal() {
			in.engine.board.Restore([]*Ticket{t})
		}
		if err := in.engine.announceCreated(ctx, t); err != nil {
			return result, err
		}
		in.logger.Info("re-announced ticket", "order_id", orderID, "ticket_id", t.ID)
	}
	return result, nil
}

// route resolves every line item against one table and groups the items by
// station, keeping order position. The order always gets one expo ticket
// listing all its items.
func (in *Ingestor) route(order *Order, table *routing.Table, now time.Time) []*Ticket {
	expo := table.ExpoStation()

	byStation := make(map[string]*Ticket)
	var tickets []*Ticket
	newTicket := func(stationID string, isExpo bool) *Ticket {
		return &Ticket{
			ID:             uuid.New(),
			OrderID:        order.ID,
			StationID:      stationID,
			Expo:           isExpo,
			State:          ticketstate.States.Queued.Code(),
			TableRef:       order.TableRef,
			CreatedAt:      now,
			StateChangedAt: now,
			UpdatedAt:      now,
			ModelVersion:   1,
		}
	}

	expoTicket := newTicket(expo, true)

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		item.Stations = table.Resolve(item.Category)

		ref := TicketItem{
			LineItemID: item.ID,
			Name:       item.Name,
			Category:   item.Category,
			Quantity:   item.Quantity,
			Modifiers:  item.Modifiers,
		}
		expoTicket.Items = append(expoTicket.Items, ref)

		for _, stationID := range item.Stations {
			if stationID == expo {
				continue
			}
			t, ok := byStation[stationID]
			if !ok {
				t = newTicket(stationID, false)
				byStation[stationID] = t
				tickets = append(tickets, t)
			}
			t.Items = append(t.Items, ref)
		}
	}

	return append(tickets, expoTicket)
}

func validateOrder(order *Order) error {
	if order.ID == uuid.Nil {
		return fmt.Errorf("%w: missing order id", ErrInvalidOrder)
	}
	if len(order.Items) == 0 {
		return fmt.Errorf("%w: order has no line items", ErrInvalidOrder)
	}
	for i := range order.Items {
		item := &order.Items[i]
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: line item %d has quantity %d", ErrInvalidOrder, i, item.Quantity)
		}
		item.Category = strings.TrimSpace(item.Category)
		if item.Category == "" {
			return fmt.Errorf("%w: line item %d has no category", ErrInvalidOrder, i)
		}
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
	}
	return nil
}
