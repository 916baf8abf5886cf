package events

import (
	"context"
	"sync"

	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/kds/services/kitchen/internal/kitchen"
	"github.com/appetiteclub/kds/services/kitchen/internal/transcription"
)

// MockSubscriber records the handler registered per topic.
type MockSubscriber struct {
	SubscribeFunc func(ctx context.Context, topic string, handler events.HandlerFunc) error

	mu       sync.Mutex
	handlers map[string]events.HandlerFunc
}

func (m *MockSubscriber) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	if m.SubscribeFunc != nil {
		return m.SubscribeFunc(ctx, topic, handler)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = make(map[string]events.HandlerFunc)
	}
	m.handlers[topic] = handler
	return nil
}

func (m *MockSubscriber) Deliver(ctx context.Context, topic string, msg []byte) error {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return handler(ctx, msg)
}

func (m *MockSubscriber) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var topics []string
	for t := range m.handlers {
		topics = append(topics, t)
	}
	return topics
}

type MockIngestor struct {
	IngestFunc func(ctx context.Context, order kitchen.Order) (kitchen.IngestResult, error)
	Orders     []kitchen.Order
}

func (m *MockIngestor) Ingest(ctx context.Context, order kitchen.Order) (kitchen.IngestResult, error) {
	m.Orders = append(m.Orders, order)
	if m.IngestFunc != nil {
		return m.IngestFunc(ctx, order)
	}
	return kitchen.IngestResult{OrderID: order.ID}, nil
}

type MockVoider struct {
	VoidFunc func(ctx context.Context, id kitchen.OrderID) (*kitchen.Order, error)
	Voided   []kitchen.OrderID
}

func (m *MockVoider) VoidOrder(ctx context.Context, id kitchen.OrderID) (*kitchen.Order, error) {
	m.Voided = append(m.Voided, id)
	if m.VoidFunc != nil {
		return m.VoidFunc(ctx, id)
	}
	return &kitchen.Order{ID: id}, nil
}

type MockVoiceSubmitter struct {
	SubmitFunc func(ctx context.Context, vo transcription.VoiceOrder) (transcription.SubmitResult, error)

	mu        sync.Mutex
	submitted []transcription.VoiceOrder
}

func (m *MockVoiceSubmitter) Submit(ctx context.Context, vo transcription.VoiceOrder) (transcription.SubmitResult, error) {
	m.mu.Lock()
	m.submitted = append(m.submitted, vo)
	m.mu.Unlock()
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, vo)
	}
	return transcription.SubmitResult{IngestResult: kitchen.IngestResult{OrderID: vo.OrderID}}, nil
}

func (m *MockVoiceSubmitter) Submitted() []transcription.VoiceOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transcription.VoiceOrder(nil), m.submitted...)
}

// MockBatchProvider transcribes audio as its own text and records the size
// of every batch call.
type MockBatchProvider struct {
	mu      sync.Mutex
	batches []int
	singles int
}

func (m *MockBatchProvider) Transcribe(ctx context.Context, audio []byte) (transcription.Transcript, error) {
	m.mu.Lock()
	m.singles++
	m.mu.Unlock()
	return transcription.Transcript{Text: string(audio)}, nil
}

func (m *MockBatchProvider) TranscribeBatch(ctx context.Context, audio [][]byte) ([]transcription.Transcript, error) {
	m.mu.Lock()
	m.batches = append(m.batches, len(audio))
	m.mu.Unlock()
	out := make([]transcription.Transcript, len(audio))
	for i, a := range audio {
		out[i] = transcription.Transcript{Text: string(a)}
	}
	return out, nil
}

func (m *MockBatchProvider) Batches() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.batches...)
}
