package kitchen

import (
	"context"
	"sort"
	"sync"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/kds/pkg/event"
	"github.com/google/uuid"
)

// Board keeps the tickets of every live order in memory, indexed by station
// and by order. An order leaves the board once all its tickets are terminal.
// Station queues and display snapshots are read from here.
type Board struct {
	mu sync.RWMutex
	// tickets indexed by ticket id
	tickets map[uuid.UUID]*Ticket
	// index by station id -> ticket ids
	byStation map[string][]uuid.UUID
	// index by order id -> ticket ids
	byOrder map[uuid.UUID][]uuid.UUID

	store  Store
	logger apt.Logger
}

func NewBoard(store Store, logger apt.Logger) *Board {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Board{
		tickets:   make(map[uuid.UUID]*Ticket),
		byStation: make(map[string][]uuid.UUID),
		byOrder:   make(map[uuid.UUID][]uuid.UUID),
		store:     store,
		logger:    logger.With("component", "board"),
	}
}

// Warm loads every order that still has an active ticket. Terminal siblings
// are loaded too so expo readiness can be evaluated.
func (b *Board) Warm(ctx context.Context) error {
	if b.store == nil {
		b.logger.Info("store not configured, board remains empty")
		return nil
	}

	active, err := b.store.ListActiveTickets(ctx)
	if err != nil {
		return err
	}

	orders := make(map[uuid.UUID]struct{})
	for _, t := range active {
		orders[t.OrderID] = struct{}{}
	}

	for orderID := range orders {
		tickets, err := b.store.ListTicketsByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		b.Restore(tickets)
	}

	b.logger.Info("board warmed from store", "orders", len(orders), "tickets", b.Count())
	return nil
}

// Restore adds tickets that are not on the board yet. Tickets already
// present are newer than any stored copy and are kept.
func (b *Board) Restore(tickets []*Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range tickets {
		if t == nil {
			continue
		}
		if _, ok := b.tickets[t.ID]; ok {
			continue
		}
		b.insertLocked(t.Clone())
	}
}

// Set updates or adds a ticket.
func (b *Board) Set(t *Ticket) {
	if t == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLocked(t.Clone())
	b.pruneLocked(t.OrderID)
}

func (b *Board) setLocked(t *Ticket) {
	if _, exists := b.tickets[t.ID]; exists {
		b.tickets[t.ID] = t
		return
	}
	b.insertLocked(t)
}

func (b *Board) insertLocked(t *Ticket) {
	b.tickets[t.ID] = t
	b.byStation[t.StationID] = append(b.byStation[t.StationID], t.ID)
	b.byOrder[t.OrderID] = append(b.byOrder[t.OrderID], t.ID)
}

// Prune drops the order when all its tickets are terminal.
func (b *Board) Prune(orderID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(orderID)
}

func (b *Board) pruneLocked(orderID uuid.UUID) {
	ids := b.byOrder[orderID]
	for _, id := range ids {
		if t := b.tickets[id]; t != nil && !t.Status().Terminal() {
			return
		}
	}
	for _, id := range ids {
		if t := b.tickets[id]; t != nil {
			removeFromIndex(b.byStation, t.StationID, id)
			delete(b.tickets, id)
		}
	}
	delete(b.byOrder, orderID)
}

// Get returns a copy of the ticket, or nil.
func (b *Board) Get(id uuid.UUID) *Ticket {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tickets[id].Clone()
}

// ByOrder returns copies of every ticket of the order on the board.
func (b *Board) ByOrder(orderID uuid.UUID) []*Ticket {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := b.byOrder[orderID]
	out := make([]*Ticket, 0, len(ids))
	for _, id := range ids {
		if t := b.tickets[id]; t != nil {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Queue returns the active tickets of a station in FIFO order: creation
// time, then order id, then ticket id.
func (b *Board) Queue(stationID string) []*Ticket {
	b.mu.RLock()
	ids := b.byStation[stationID]
	out := make([]*Ticket, 0, len(ids))
	for _, id := range ids {
		if t := b.tickets[id]; t != nil && t.Status().Active() {
			out = append(out, t.Clone())
		}
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if !a.CreatedAt.Equal(c.CreatedAt) {
			return a.CreatedAt.Before(c.CreatedAt)
		}
		if a.OrderID != c.OrderID {
			return a.OrderID.String() < c.OrderID.String()
		}
		return a.ID.String() < c.ID.String()
	})
	return out
}

// StationSnapshot returns the display view of a station queue.
func (b *Board) StationSnapshot(stationID string) []event.TicketView {
	queue := b.Queue(stationID)
	views := make([]event.TicketView, 0, len(queue))
	for _, t := range queue {
		views = append(views, t.View())
	}
	return views
}

// Load returns the number of active tickets at a station.
func (b *Board) Load(stationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var n int
	for _, id := range b.byStation[stationID] {
		if t := b.tickets[id]; t != nil && t.Status().Active() {
			n++
		}
	}
	return n
}

// Count returns the number of tickets on the board.
func (b *Board) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tickets)
}

func removeFromIndex[K comparable](index map[K][]uuid.UUID, key K, ticketID uuid.UUID) {
	ids := index[key]
	for i, id := range ids {
		if id == ticketID {
			index[key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(index[key]) == 0 {
		delete(index, key)
	}
}
