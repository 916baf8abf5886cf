package metrics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/kds/pkg/event"
	"github.com/appetiteclub/kds/services/kitchen/internal/hub"
)

var testStations = []string{"expo", "fry", "grill"}

// MockTimingSink records saved timings. SaveFunc overrides the default.
type MockTimingSink struct {
	mu       sync.Mutex
	saved    []Timing
	SaveFunc func(ctx context.Context, t Timing) error
}

func (m *MockTimingSink) SaveTiming(ctx context.Context, t Timing) error {
	if m.SaveFunc != nil {
		if err := m.SaveFunc(ctx, t); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, t)
	return nil
}

func (m *MockTimingSink) Saved() []Timing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Timing(nil), m.saved...)
}

// MockStreamConsumer is a test mock for events.StreamConsumer.
type MockStreamConsumer struct {
	messages  []events.StreamMessage
	FetchFunc func(ctx context.Context, maxMessages int) ([]events.StreamMessage, error)
}

func (m *MockStreamConsumer) Fetch(ctx context.Context, maxMessages int) ([]events.StreamMessage, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, maxMessages)
	}
	return m.messages, nil
}

func (m *MockStreamConsumer) SubscribeStream(ctx context.Context, handler events.HandlerFunc) error {
	return nil
}

func (m *MockStreamConsumer) AddEvent(evt event.TicketEvent) {
	data, _ := json.Marshal(evt)
	m.messages = append(m.messages, events.StreamMessage{Data: data, Sequence: uint64(len(m.messages) + 1)})
}

// MockEventLog serves fixed per-station histories.
type MockEventLog struct {
	events map[string][]event.TicketEvent
}

func (m *MockEventLog) LoadEventsSince(ctx context.Context, stationID string, seq uint64) ([]event.TicketEvent, error) {
	return m.events[stationID], nil
}

var baseTime = time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

// lifecycle builds the events of a ticket that moves through the line,
// one state per offset from creation.
func lifecycle(station, ticketID string, recalls int, offsets map[string]time.Duration) []event.TicketEvent {
	created := baseTime
	order := []string{"queued", "in_progress", "ready", "bumped"}

	var evts []event.TicketEvent
	for _, st := range order {
		off, ok := offsets[st]
		if !ok {
			continue
		}
		evts = append(evts, event.TicketEvent{
			EventType:   event.EventTicketStateChanged,
			TicketID:    ticketID,
			OrderID:     "order-" + ticketID,
			StationID:   station,
			State:       st,
			Timestamp:   created.Add(off),
			RecallCount: recalls,
			CreatedAt:   created,
		})
	}
	return evts
}

func newTestAggregator(deps Deps) *Aggregator {
	if deps.Stations == nil {
		deps.Stations = func() []string { return testStations }
	}
	a := NewAggregator(deps, Config{Window: 15 * time.Minute, RetryInterval: 10 * time.Millisecond}, nil)
	a.now = func() time.Time { return baseTime.Add(20 * time.Minute) }
	return a
}

func newTestHub() *hub.Hub {
	return hub.New(hub.Deps{Stations: func() []string { return testStations }},
		hub.Config{KeepAlive: 20 * time.Millisecond}, nil)
}
