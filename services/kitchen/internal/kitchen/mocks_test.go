package kitchen

import (
	"context"
	"sync"

	"github.com/appetiteclub/kds/pkg/event"
	"github.com/appetiteclub/kds/pkg/routing"
	"github.com/google/uuid"
)

// MockStore is an in-memory Store.
type MockStore struct {
	mu      sync.Mutex
	orders  map[uuid.UUID]*Order
	tickets map[uuid.UUID]*Ticket

	SaveOrderWithTicketsFunc func(ctx context.Context, order *Order, tickets []*Ticket) error
	SaveOrderTicketsFunc     func(ctx context.Context, order *Order, tickets []*Ticket) error
	SaveTicketFunc           func(ctx context.Context, t *Ticket) error
	FindOrderFunc            func(ctx context.Context, id OrderID) (*Order, error)

	SaveTicketCalls int
}

func NewMockStore() *MockStore {
	return &MockStore{
		orders:  make(map[uuid.UUID]*Order),
		tickets: make(map[uuid.UUID]*Ticket),
	}
}

func (m *MockStore) SaveOrderWithTickets(ctx context.Context, order *Order, tickets []*Ticket) error {
	if m.SaveOrderWithTicketsFunc != nil {
		return m.SaveOrderWithTicketsFunc(ctx, order, tickets)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[order.ID]; exists {
		return ErrOrderExists
	}
	o := *order
	m.orders[order.ID] = &o
	for _, t := range tickets {
		m.tickets[t.ID] = t.Clone()
	}
	return nil
}

func (m *MockStore) SaveOrder(ctx context.Context, order *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := *order
	m.orders[order.ID] = &o
	return nil
}

func (m *MockStore) SaveOrderTickets(ctx context.Context, order *Order, tickets []*Ticket) error {
	if m.SaveOrderTicketsFunc != nil {
		return m.SaveOrderTicketsFunc(ctx, order, tickets)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o := *order
	m.orders[order.ID] = &o
	for _, t := range tickets {
		m.tickets[t.ID] = t.Clone()
	}
	return nil
}

// put stores a ticket copy; SaveTicketFunc overrides use it to keep
// persisting.
func (m *MockStore) put(t *Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets[t.ID] = t.Clone()
}

func (m *MockStore) FindOrder(ctx context.Context, id OrderID) (*Order, error) {
	if m.FindOrderFunc != nil {
		return m.FindOrderFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	c := *o
	return &c, nil
}

func (m *MockStore) SaveTicket(ctx context.Context, t *Ticket) error {
	m.mu.Lock()
	m.SaveTicketCalls++
	m.mu.Unlock()
	if m.SaveTicketFunc != nil {
		return m.SaveTicketFunc(ctx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets[t.ID] = t.Clone()
	return nil
}

func (m *MockStore) FindTicket(ctx context.Context, id TicketID) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	return t.Clone(), nil
}

func (m *MockStore) ListTicketsByOrder(ctx context.Context, orderID OrderID) ([]*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Ticket
	for _, t := range m.tickets {
		if t.OrderID == orderID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (m *MockStore) ListActiveTickets(ctx context.Context) ([]*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Ticket
	for _, t := range m.tickets {
		if t.Status().Active() {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (m *MockStore) LoadStationQueue(ctx context.Context, stationID string) ([]*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Ticket
	for _, t := range m.tickets {
		if t.StationID == stationID && t.Status().Active() {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// Stored returns the persisted copy of a ticket.
func (m *MockStore) Stored(id uuid.UUID) *Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tickets[id].Clone()
}

// MockJournal sequences events per station like the display hub.
type MockJournal struct {
	mu     sync.Mutex
	seq    map[string]uint64
	Events []event.TicketEvent

	AppendFunc func(ctx context.Context, evt event.TicketEvent) (event.TicketEvent, error)
}

func NewMockJournal() *MockJournal {
	return &MockJournal{seq: make(map[string]uint64)}
}

func (m *MockJournal) Commit(ctx context.Context, evt event.TicketEvent, apply func(event.TicketEvent)) (event.TicketEvent, error) {
	if m.AppendFunc != nil {
		out, err := m.AppendFunc(ctx, evt)
		if err == nil && apply != nil {
			apply(out)
		}
		return out, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[evt.StationID]++
	evt.Sequence = m.seq[evt.StationID]
	m.Events = append(m.Events, evt)
	if apply != nil {
		apply(evt)
	}
	return evt, nil
}

// Snapshot returns the events appended so far.
func (m *MockJournal) Snapshot() []event.TicketEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]event.TicketEvent(nil), m.Events...)
}

// ForTicket returns the events appended for a ticket.
func (m *MockJournal) ForTicket(id uuid.UUID) []event.TicketEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.TicketEvent
	for _, e := range m.Events {
		if e.TicketID == id.String() {
			out = append(out, e)
		}
	}
	return out
}

func (m *MockJournal) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Events)
}

// MockPublisher is a test mock for events.Publisher
type MockPublisher struct {
	mu              sync.Mutex
	PublishedEvents []PublishedEvent
	PublishFunc     func(ctx context.Context, topic string, data []byte) error
}

type PublishedEvent struct {
	Topic string
	Data  []byte
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		PublishedEvents: make([]PublishedEvent, 0),
	}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, data)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishedEvents = append(m.PublishedEvents, PublishedEvent{Topic: topic, Data: data})
	return nil
}

// testKitchen wires an engine and ingestor over mocks.
type testKitchen struct {
	store     *MockStore
	journal   *MockJournal
	publisher *MockPublisher
	board     *Board
	engine    *Engine
	ingestor  *Ingestor
}

// scenarioTable routes grill to station A, fry to station B and soda to the
// expo station C.
func scenarioTable() *routing.Table {
	table, err := routing.NewTable(routing.File{
		Expo: "C",
		Stations: []routing.StationDef{
			{ID: "A", Name: "Grill", Type: "grill"},
			{ID: "B", Name: "Fry", Type: "fry"},
			{ID: "C", Name: "Expo", Type: "expo"},
		},
		Routes: map[string][]string{
			"grill":       {"A"},
			"fry":         {"B"},
			"soda":        {"C"},
			"mixed-grill": {"A", "B"},
		},
	})
	if err != nil {
		panic(err)
	}
	return table
}

func newTestKitchen(cfg EngineConfig) *testKitchen {
	k := &testKitchen{
		store:     NewMockStore(),
		journal:   NewMockJournal(),
		publisher: NewMockPublisher(),
	}
	k.board = NewBoard(k.store, nil)
	k.engine = NewEngine(EngineDeps{
		Store:     k.store,
		Board:     k.board,
		Journal:   k.journal,
		Publisher: k.publisher,
	}, cfg, nil)
	k.ingestor = NewIngestor(k.store, routing.NewRouter(scenarioTable()), k.engine, nil)
	return k
}

// scenarioOrder has a grill item, a fry item and a soda.
func scenarioOrder() Order {
	return Order{
		ID:       uuid.New(),
		TableRef: "T1",
		Items: []LineItem{
			{Name: "Steak", Category: "grill", Quantity: 1},
			{Name: "Fry basket", Category: "fry", Quantity: 1},
			{Name: "Soda", Category: "soda", Quantity: 2},
		},
	}
}

// ticketAt returns the order's ticket at a station.
func (k *testKitchen) ticketAt(orderID uuid.UUID, stationID string) *Ticket {
	tickets, _ := k.engine.OrderTickets(context.Background(), orderID)
	for _, t := range tickets {
		if t.StationID == stationID {
			return t
		}
	}
	return nil
}
