package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/kds/pkg/event"
	"github.com/appetiteclub/kds/services/kitchen/internal/kitchen"
	"github.com/appetiteclub/kds/services/kitchen/internal/transcription"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultVoiceWorkers bounds the voice orders submitted at once. It should
// stay above the transcription batch size so a batch can fill.
const DefaultVoiceWorkers = 16

type Config struct {
	VoiceWorkers int
}

type OrderIngestor interface {
	Ingest(ctx context.Context, order kitchen.Order) (kitchen.IngestResult, error)
}

type OrderVoider interface {
	VoidOrder(ctx context.Context, id kitchen.OrderID) (*kitchen.Order, error)
}

type VoiceSubmitter interface {
	Submit(ctx context.Context, vo transcription.VoiceOrder) (transcription.SubmitResult, error)
}

// OrderSubscriber feeds orders published by points of sale and voice
// capture devices into the kitchen.
type OrderSubscriber struct {
	subscriber events.Subscriber
	ingestor   OrderIngestor
	voider     OrderVoider
	voice      VoiceSubmitter
	// Voice submissions wait on transcription, possibly for a whole batch
	// window, so they run off the delivery goroutine.
	voiceJobs *errgroup.Group
	logger    apt.Logger
}

func NewOrderSubscriber(
	subscriber events.Subscriber,
	ingestor OrderIngestor,
	voider OrderVoider,
	voice VoiceSubmitter,
	cfg Config,
	logger apt.Logger,
) *OrderSubscriber {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if cfg.VoiceWorkers <= 0 {
		cfg.VoiceWorkers = DefaultVoiceWorkers
	}
	jobs := &errgroup.Group{}
	jobs.SetLimit(cfg.VoiceWorkers)
	return &OrderSubscriber{
		subscriber: subscriber,
		ingestor:   ingestor,
		voider:     voider,
		voice:      voice,
		voiceJobs:  jobs,
		logger:     logger.With("component", "order-subscriber"),
	}
}

func (s *OrderSubscriber) Start(ctx context.Context) error {
	if err := s.subscriber.Subscribe(ctx, event.IncomingOrdersTopic, s.handleIncoming); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", event.IncomingOrdersTopic, err)
	}
	if s.voice != nil {
		if err := s.subscriber.Subscribe(ctx, event.VoiceOrdersTopic, s.handleVoice); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", event.VoiceOrdersTopic, err)
		}
	}
	s.logger.Info("order subscriber started", "voice", s.voice != nil)
	return nil
}

// Stop waits for voice orders already handed to a worker.
func (s *OrderSubscriber) Stop(ctx context.Context) error {
	return s.voiceJobs.Wait()
}

// handleIncoming drops malformed messages and rejected orders; only
// infrastructure failures are returned so the transport can report them.
func (s *OrderSubscriber) handleIncoming(ctx context.Context, msg []byte) error {
	var evt event.IncomingOrderEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		s.logger.Errorf("Failed to unmarshal incoming order: %v", err)
		return nil
	}

	orderID, err := uuid.Parse(evt.OrderID)
	if err != nil {
		s.logger.Error("invalid order id", "order_id", evt.OrderID, "error", err)
		return nil
	}

	switch evt.EventType {
	case event.EventOrderPlaced, "":
		return s.placeOrder(ctx, orderID, evt)
	case event.EventOrderVoided:
		return s.voidOrder(ctx, orderID)
	default:
		s.logger.Infof("Unknown order event type: %s", evt.EventType)
		return nil
	}
}

func (s *OrderSubscriber) placeOrder(ctx context.Context, orderID uuid.UUID, evt event.IncomingOrderEvent) error {
	order, err := toOrder(orderID, evt)
	if err != nil {
		s.logger.Error("rejected incoming order", "order_id", orderID, "error", err)
		return nil
	}

	result, err := s.ingestor.Ingest(ctx, order)
	switch {
	case errors.Is(err, kitchen.ErrInvalidOrder):
		s.logger.Error("rejected incoming order", "order_id", orderID, "error", err)
		return nil
	case err != nil:
		return fmt.Errorf("cannot ingest order %s: %w", orderID, err)
	}

	s.logger.Info("order ingested",
		"order_id", orderID,
		"tickets", len(result.TicketIDs),
		"existing", result.Existing,
	)
	return nil
}

func (s *OrderSubscriber) voidOrder(ctx context.Context, orderID uuid.UUID) error {
	if s.voider == nil {
		return nil
	}
	_, err := s.voider.VoidOrder(ctx, orderID)
	if errors.Is(err, kitchen.ErrOrderNotFound) {
		s.logger.Info("void for unknown order ignored", "order_id", orderID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot void order %s: %w", orderID, err)
	}
	return nil
}

func toOrder(orderID uuid.UUID, evt event.IncomingOrderEvent) (kitchen.Order, error) {
	order := kitchen.Order{
		ID:       orderID,
		Origin:   kitchen.OriginPOS,
		TableRef: evt.TableRef,
	}
	for i, it := range evt.Items {
		item := kitchen.LineItem{
			Name:      it.Name,
			Category:  it.Category,
			Quantity:  it.Quantity,
			Modifiers: it.Modifiers,
		}
		if it.ID != "" {
			id, err := uuid.Parse(it.ID)
			if err != nil {
				return kitchen.Order{}, fmt.Errorf("invalid line item %d id: %w", i, err)
			}
			item.ID = id
		}
		order.Items = append(order.Items, item)
	}
	return order, nil
}

func (s *OrderSubscriber) handleVoice(ctx context.Context, msg []byte) error {
	var evt event.VoiceOrderEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		s.logger.Errorf("Failed to unmarshal voice order: %v", err)
		return nil
	}

	vo := transcription.VoiceOrder{
		SessionID: evt.SessionID,
		TableRef:  evt.TableRef,
		Priority:  transcription.ParsePriority(evt.Priority),
		Audio:     evt.Audio,
	}
	if evt.OrderID != "" {
		id, err := uuid.Parse(evt.OrderID)
		if err != nil {
			s.logger.Error("invalid voice order id", "order_id", evt.OrderID, "error", err)
			return nil
		}
		vo.OrderID = id
	}

	// Go blocks while every worker is busy, which holds back delivery.
	s.voiceJobs.Go(func() error {
		s.submitVoice(ctx, vo)
		return nil
	})
	return nil
}

func (s *OrderSubscriber) submitVoice(ctx context.Context, vo transcription.VoiceOrder) {
	result, err := s.voice.Submit(ctx, vo)
	switch {
	case errors.Is(err, transcription.ErrManualEntryRequired), errors.Is(err, kitchen.ErrInvalidOrder):
		s.logger.Error("voice order needs manual entry",
			"session_id", vo.SessionID,
			"error", err,
		)
		return
	case err != nil:
		s.logger.Error("cannot submit voice order",
			"session_id", vo.SessionID,
			"order_id", vo.OrderID,
			"error", err,
		)
		return
	}

	s.logger.Info("voice order ingested",
		"order_id", result.OrderID,
		"tickets", len(result.TicketIDs),
		"cached", result.Cached,
	)
}
