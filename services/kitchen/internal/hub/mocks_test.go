package hub

import (
	"context"
	"sync"
	"time"

	"github.com/appetiteclub/kds/pkg/event"
)

// MockEventStore keeps station events in memory.
type MockEventStore struct {
	mu     sync.Mutex
	events map[string][]event.TicketEvent

	AppendEventFunc func(ctx context.Context, evt event.TicketEvent) error
}

func NewMockEventStore() *MockEventStore {
	return &MockEventStore{events: make(map[string][]event.TicketEvent)}
}

func (m *MockEventStore) AppendEvent(ctx context.Context, evt event.TicketEvent) error {
	if m.AppendEventFunc != nil {
		return m.AppendEventFunc(ctx, evt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[evt.StationID] = append(m.events[evt.StationID], evt)
	return nil
}

func (m *MockEventStore) LoadEventsSince(ctx context.Context, stationID string, seq uint64) ([]event.TicketEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.TicketEvent
	for _, evt := range m.events[stationID] {
		if evt.Sequence > seq {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (m *MockEventStore) Count(station string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events[station])
}

// MockSnapshots serves fixed station queues.
type MockSnapshots struct {
	mu    sync.Mutex
	views map[string][]event.TicketView
}

func NewMockSnapshots() *MockSnapshots {
	return &MockSnapshots{views: make(map[string][]event.TicketView)}
}

func (m *MockSnapshots) Set(station string, views ...event.TicketView) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views[station] = views
}

func (m *MockSnapshots) StationSnapshot(stationID string) []event.TicketView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]event.TicketView(nil), m.views[stationID]...)
}

// fakeClock is advanced by hand.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func ticketEvent(station, ticketID, state string) event.TicketEvent {
	return event.TicketEvent{
		EventType: event.EventTicketStateChanged,
		TicketID:  ticketID,
		OrderID:   "order-" + ticketID,
		StationID: station,
		State:     state,
	}
}

func newTestHub(cfg Config) (*Hub, *MockEventStore, *MockSnapshots, *fakeClock) {
	store := NewMockEventStore()
	snaps := NewMockSnapshots()
	clock := newFakeClock()
	h := New(Deps{
		Store:     store,
		Snapshots: snaps,
		Stations:  func() []string { return []string{"grill", "fry", "expo"} },
	}, cfg, nil)
	h.now = clock.Now
	return h, store, snaps, clock
}
