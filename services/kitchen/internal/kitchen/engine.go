package kitchen

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/kds/pkg/enums/ticketstate"
	"github.com/appetiteclub/kds/pkg/event"
	"github.com/google/uuid"
)

type RecallPolicy string

const (
	// RecallPolicyFlag marks the ticket for manual handling when the limit
	// is hit.
	RecallPolicyFlag RecallPolicy = "flag"
	// RecallPolicyBlock refuses the recall and leaves the ticket untouched.
	RecallPolicyBlock RecallPolicy = "block"

	DefaultRecallLimit = 3
)

type EngineConfig struct {
	RecallLimit  int
	RecallPolicy RecallPolicy
}

type EngineDeps struct {
	Store     Store
	Board     *Board
	Journal   Journal
	Publisher events.Publisher
}

// Engine owns ticket lifecycles. Transitions within one order are
// serialized, so the expo ticket is always judged against settled
// contributors; different orders progress in parallel.
type Engine struct {
	store     Store
	board     *Board
	announcer *announcer
	locks     *keyedMutex
	cfg       EngineConfig
	logger    apt.Logger
	now       func() time.Time
}

var errNoChange = errors.New("no change")

// mutation edits a ticket copy and names the event to emit. It may return
// an event type together with an error: the change is committed and the
// error still reported.
type mutation func(t *Ticket, now time.Time) (string, error)

func NewEngine(deps EngineDeps, cfg EngineConfig, logger apt.Logger) *Engine {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if cfg.RecallLimit <= 0 {
		cfg.RecallLimit = DefaultRecallLimit
	}
	if cfg.RecallPolicy != RecallPolicyBlock {
		cfg.RecallPolicy = RecallPolicyFlag
	}
	board := deps.Board
	if board == nil {
		board = NewBoard(deps.Store, logger)
	}
	logger = logger.With("component", "engine")
	return &Engine{
		store: deps.Store,
		board: board,
		announcer: &announcer{
			journal:   deps.Journal,
			publisher: deps.Publisher,
			logger:    logger,
		},
		locks:  newKeyedMutex(),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (e *Engine) Board() *Board {
	return e.board
}

// Advance moves the ticket to its next forward stage. An expo ticket only
// becomes ready once every non-voided contributing ticket is ready or bumped.
func (e *Engine) Advance(ctx context.Context, id TicketID) (ticketstate.State, error) {
	t, err := e.transition(ctx, id, func(t *Ticket, now time.Time) (string, error) {
		current := t.Status()
		next, ok := current.Next()
		if !ok || current.Terminal() {
			return "", fmt.Errorf("%w: cannot advance from %s", ErrInvalidTransition, current.Code())
		}
		if t.Expo && next == ticketstate.States.Ready && !e.expoEligible(t.OrderID) {
			return "", ErrExpoNotReady
		}
		t.moveTo(next, now)
		return event.EventTicketStateChanged, nil
	})
	return stateOf(t), err
}

// Recall sends a ready or bumped ticket back to in progress. Past the
// recall limit the ticket is not moved; under the flag policy it is marked
// as needing attention.
func (e *Engine) Recall(ctx context.Context, id TicketID) (ticketstate.State, error) {
	t, err := e.transition(ctx, id, func(t *Ticket, now time.Time) (string, error) {
		current := t.Status()
		if current != ticketstate.States.Ready && current != ticketstate.States.Bumped {
			return "", fmt.Errorf("%w: cannot recall from %s", ErrInvalidTransition, current.Code())
		}
		if t.RecallCount >= e.cfg.RecallLimit {
			if e.cfg.RecallPolicy == RecallPolicyFlag && !t.NeedsAttention {
				t.NeedsAttention = true
				t.UpdatedAt = now
				return event.EventTicketFlagged, ErrRecallLimitExceeded
			}
			return "", ErrRecallLimitExceeded
		}
		t.RecallCount++
		t.moveTo(ticketstate.States.InProgress, now)
		return event.EventTicketStateChanged, nil
	})
	return stateOf(t), err
}

// Void cancels a single ticket.
func (e *Engine) Void(ctx context.Context, id TicketID) (ticketstate.State, error) {
	t, err := e.transition(ctx, id, voidTicket)
	return stateOf(t), err
}

// VoidOrder cancels every non-terminal ticket of the order, expo first, and
// stamps the order as voided. The order and its tickets are written in one
// store call; if an event cannot be appended afterwards the void is rolled
// back. Voiding an already voided order is a no-op.
func (e *Engine) VoidOrder(ctx context.Context, id OrderID) (*Order, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	order, err := e.store.FindOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cannot find order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	tickets, err := e.OrderTickets(ctx, id)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tickets, func(i, j int) bool {
		return tickets[i].Expo && !tickets[j].Expo
	})

	now := e.now()
	var current, voided []*Ticket
	for _, t := range tickets {
		next := t.Clone()
		if _, err := voidTicket(next, now); err != nil {
			continue
		}
		current = append(current, t)
		voided = append(voided, next)
	}
	if len(voided) == 0 && order.VoidedAt != nil {
		return order, nil
	}

	before := *order
	if order.VoidedAt == nil {
		order.VoidedAt = stamp(now)
	}
	if err := e.store.SaveOrderTickets(ctx, order, voided); err != nil {
		return nil, fmt.Errorf("cannot void order: %w", err)
	}

	for i, next := range voided {
		if err := e.publish(ctx, current[i], next, event.EventTicketStateChanged); err != nil {
			e.rollbackVoid(ctx, &before, current, i)
			return nil, fmt.Errorf("cannot void ticket %s: %w", next.ID, err)
		}
	}

	e.logger.Info("order voided", "order_id", id, "tickets", len(voided))
	return order, nil
}

// rollbackVoid restores the order and its tickets. The first announced
// tickets already went out as voided and get a second event with their
// restored state.
func (e *Engine) rollbackVoid(ctx context.Context, order *Order, previous []*Ticket, announced int) {
	now := e.now()
	restored := make([]*Ticket, len(previous))
	for i, t := range previous {
		restored[i] = t.Clone()
		if i < announced {
			restored[i].UpdatedAt = now
		}
	}
	if err := e.store.SaveOrderTickets(ctx, order, restored); err != nil {
		e.logger.Error("cannot restore order after failed void", "order_id", order.ID, "error", err)
	}
	for i := 0; i < announced; i++ {
		voided := restored[i].Clone()
		voided.State = ticketstate.States.Voided.Code()
		if err := e.publish(ctx, voided, restored[i], event.EventTicketStateChanged); err != nil {
			e.logger.Error("cannot announce restored ticket", "ticket_id", restored[i].ID, "error", err)
		}
	}
}

// Ticket returns the current state of a ticket.
func (e *Engine) Ticket(ctx context.Context, id TicketID) (*Ticket, error) {
	if t := e.board.Get(id); t != nil {
		return t, nil
	}
	return e.store.FindTicket(ctx, id)
}

// OrderTickets returns every ticket of an order.
func (e *Engine) OrderTickets(ctx context.Context, id OrderID) ([]*Ticket, error) {
	if tickets := e.board.ByOrder(id); len(tickets) > 0 {
		return tickets, nil
	}
	tickets, err := e.store.ListTicketsByOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cannot list order tickets: %w", err)
	}
	return tickets, nil
}

func voidTicket(t *Ticket, now time.Time) (string, error) {
	if t.Status().Terminal() {
		return "", fmt.Errorf("%w: %s", ErrTicketTerminal, t.State)
	}
	t.moveTo(ticketstate.States.Voided, now)
	return event.EventTicketStateChanged, nil
}

func (e *Engine) transition(ctx context.Context, id TicketID, mutate mutation) (*Ticket, error) {
	t, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(t.OrderID)
	defer unlock()
	return e.transitionLocked(ctx, id, mutate)
}

// transitionLocked runs with the ticket's order locked. A contributor that
// changed state has the expo ticket reconciled before the lock is released.
func (e *Engine) transitionLocked(ctx context.Context, id TicketID, mutate mutation) (*Ticket, error) {
	current, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	eventType, mutErr := mutate(next, e.now())
	if eventType == "" {
		e.board.Prune(current.OrderID)
		return current, mutErr
	}

	if err := e.commit(ctx, current, next, eventType); err != nil {
		return current, err
	}

	if !next.Expo && next.State != current.State {
		e.reconcileExpo(ctx, next.OrderID)
	}
	return next, mutErr
}

// commit persists next and announces it. When the append fails the stored
// ticket is restored; the board only changes once the event is appended.
func (e *Engine) commit(ctx context.Context, current, next *Ticket, eventType string) error {
	if err := e.store.SaveTicket(ctx, next); err != nil {
		return fmt.Errorf("cannot save ticket: %w", err)
	}

	if err := e.publish(ctx, current, next, eventType); err != nil {
		if rerr := e.store.SaveTicket(ctx, current); rerr != nil {
			e.logger.Error("cannot restore ticket after failed append", "ticket_id", current.ID, "error", rerr)
		}
		return err
	}

	e.logger.Debug("ticket transitioned",
		"ticket_id", next.ID,
		"station_id", next.StationID,
		"from", current.State,
		"to", next.State,
	)
	return nil
}

// publish appends the event for next and puts next on the board under the
// station's journal lock.
func (e *Engine) publish(ctx context.Context, current, next *Ticket, eventType string) error {
	_, err := e.announcer.announce(ctx, next, eventType, current.State, func(event.TicketEvent) {
		e.board.Set(next)
	})
	return err
}

// announceCreated appends the created event of a ticket that has not been
// announced yet and records the sequence it got.
func (e *Engine) announceCreated(ctx context.Context, t *Ticket) error {
	unlock := e.locks.Lock(t.OrderID)
	defer unlock()

	current := e.board.Get(t.ID)
	if current == nil {
		current = t.Clone()
	}
	if current.Sequence != 0 {
		return nil
	}

	evt, err := e.announcer.announce(ctx, current, event.EventTicketCreated, "", func(evt event.TicketEvent) {
		current.Sequence = evt.Sequence
		e.board.Set(current)
	})
	if err != nil {
		return err
	}

	current.Sequence = evt.Sequence
	if err := e.store.SaveTicket(ctx, current); err != nil {
		return fmt.Errorf("cannot record ticket sequence: %w", err)
	}
	return nil
}

// load reads a ticket from the board, falling back to the store. A ticket
// loaded from the store brings its siblings onto the board.
func (e *Engine) load(ctx context.Context, id TicketID) (*Ticket, error) {
	if t := e.board.Get(id); t != nil {
		return t, nil
	}

	t, err := e.store.FindTicket(ctx, id)
	if err != nil {
		return nil, err
	}

	siblings, err := e.store.ListTicketsByOrder(ctx, t.OrderID)
	if err != nil {
		return nil, fmt.Errorf("cannot list order tickets: %w", err)
	}
	e.board.Restore(siblings)

	if bt := e.board.Get(id); bt != nil {
		return bt, nil
	}
	return t, nil
}

// expoEligible reports whether every non-voided contributing ticket of the
// order is ready or bumped. An order without contributors is eligible.
func (e *Engine) expoEligible(orderID OrderID) bool {
	for _, t := range e.board.ByOrder(orderID) {
		if t.Expo || t.Status() == ticketstate.States.Voided {
			continue
		}
		if !t.Status().Done() {
			return false
		}
	}
	return true
}

// reconcileExpo aligns the order's expo ticket with its contributors:
// promoted to ready once they are all done, demoted to in progress when one
// of them is recalled while expo is ready. The caller holds the order lock.
func (e *Engine) reconcileExpo(ctx context.Context, orderID OrderID) {
	var expoID uuid.UUID
	for _, t := range e.board.ByOrder(orderID) {
		if t.Expo {
			expoID = t.ID
			break
		}
	}
	if expoID == uuid.Nil {
		return
	}

	_, err := e.transitionLocked(ctx, expoID, func(t *Ticket, now time.Time) (string, error) {
		current := t.Status()
		if current.Terminal() {
			return "", errNoChange
		}
		eligible := e.expoEligible(orderID)
		switch {
		case eligible && current.Stage < ticketstate.States.Ready.Stage:
			t.moveTo(ticketstate.States.Ready, now)
		case !eligible && current == ticketstate.States.Ready:
			t.moveTo(ticketstate.States.InProgress, now)
		default:
			return "", errNoChange
		}
		return event.EventTicketStateChanged, nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		e.logger.Error("cannot reconcile expo ticket", "order_id", orderID, "ticket_id", expoID, "error", err)
	}
}

func stateOf(t *Ticket) ticketstate.State {
	if t == nil {
		return ticketstate.State{}
	}
	return t.Status()
}
