package transcription

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/appetiteclub/kds/services/kitchen/internal/kitchen"
)

// MockProvider counts calls. TranscribeFunc overrides the default
// transcript, Gate blocks calls until closed.
type MockProvider struct {
	calls          atomic.Int64
	TranscribeFunc func(ctx context.Context, audio []byte) (Transcript, error)
	Gate           chan struct{}
}

func (m *MockProvider) Transcribe(ctx context.Context, audio []byte) (Transcript, error) {
	m.calls.Add(1)
	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-ctx.Done():
			return Transcript{}, ctx.Err()
		}
	}
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, audio)
	}
	return sampleTranscript(string(audio)), nil
}

func (m *MockProvider) Calls() int {
	return int(m.calls.Load())
}

// MockBatchProvider also records the size of every batch call.
type MockBatchProvider struct {
	MockProvider
	mu      sync.Mutex
	batches []int
}

func (m *MockBatchProvider) TranscribeBatch(ctx context.Context, audio [][]byte) ([]Transcript, error) {
	m.mu.Lock()
	m.batches = append(m.batches, len(audio))
	m.mu.Unlock()

	out := make([]Transcript, len(audio))
	for i, a := range audio {
		out[i] = sampleTranscript(string(a))
	}
	return out, nil
}

func (m *MockBatchProvider) Batches() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.batches...)
}

// MockIngestor records ingested orders.
type MockIngestor struct {
	mu         sync.Mutex
	orders     []kitchen.Order
	IngestFunc func(ctx context.Context, order kitchen.Order) (kitchen.IngestResult, error)
}

func (m *MockIngestor) Ingest(ctx context.Context, order kitchen.Order) (kitchen.IngestResult, error) {
	if m.IngestFunc != nil {
		return m.IngestFunc(ctx, order)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID == order.ID {
			return kitchen.IngestResult{OrderID: order.ID, Existing: true}, nil
		}
	}
	m.orders = append(m.orders, order)
	return kitchen.IngestResult{OrderID: order.ID}, nil
}

func (m *MockIngestor) Orders() []kitchen.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kitchen.Order(nil), m.orders...)
}

// fakeClock is shared by the ledger and caches under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func sampleTranscript(text string) Transcript {
	return Transcript{
		Text:     text,
		TableRef: "T4",
		Items: []Item{
			{Name: "Burger", Category: "grill", Quantity: 2},
			{Name: "Fries", Category: "fry", Quantity: 1, Modifiers: []string{"no salt"}},
		},
	}
}

// newTestGuard wires a guard with a memory cache and a ledger on clock.
func newTestGuard(p Provider, ceiling int64, clock *fakeClock, batcher *Batcher) (*Guard, *MemoryCache, *Ledger) {
	cache := NewMemoryCache()
	cache.now = clock.Now
	ledger := NewLedger(ceiling, 24*time.Hour)
	ledger.now = clock.Now

	g := NewGuard(GuardDeps{
		Provider: p,
		Cache:    cache,
		Ledger:   ledger,
		Batcher:  batcher,
	}, GuardConfig{CacheTTL: time.Hour, Estimate: 25, NearRatio: 0.8}, nil)
	g.now = clock.Now
	return g, cache, ledger
}
