package transcription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/kds/services/kitchen/internal/kitchen"
	"github.com/google/uuid"
)

// Ingestor is the order intake the bridge feeds.
type Ingestor interface {
	Ingest(ctx context.Context, order kitchen.Order) (kitchen.IngestResult, error)
}

// VoiceOrder is a recorded order waiting to be transcribed. OrderID may be
// empty; a stable id is then derived from the session and the audio.
type VoiceOrder struct {
	OrderID   uuid.UUID `json:"order_id"`
	SessionID string    `json:"session_id"`
	TableRef  string    `json:"table_ref,omitempty"`
	Priority  Priority  `json:"priority,omitempty"`
	Audio     []byte    `json:"audio"`
}

type SubmitResult struct {
	kitchen.IngestResult
	Fingerprint string `json:"fingerprint"`
	Cached      bool   `json:"cached"`
}

// Bridge turns voice orders into kitchen orders.
type Bridge struct {
	guard    *Guard
	ingestor Ingestor
	logger   apt.Logger
}

func NewBridge(guard *Guard, ingestor Ingestor, logger apt.Logger) *Bridge {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Bridge{
		guard:    guard,
		ingestor: ingestor,
		logger:   logger.With("component", "voice-bridge"),
	}
}

// Submit transcribes and ingests a voice order. Budget and provider
// failures come back wrapped in ErrManualEntryRequired.
func (b *Bridge) Submit(ctx context.Context, vo VoiceOrder) (SubmitResult, error) {
	if len(vo.Audio) == 0 {
		return SubmitResult{}, fmt.Errorf("%w: %w", kitchen.ErrInvalidOrder, ErrEmptyAudio)
	}

	res, err := b.guard.Resolve(ctx, Request{
		Audio:     vo.Audio,
		Priority:  vo.Priority,
		SessionID: vo.SessionID,
	})
	if err != nil {
		var perr *ProviderError
		if errors.Is(err, ErrBudgetExceeded) || errors.As(err, &perr) {
			b.logger.Info("voice order needs manual entry", "session_id", vo.SessionID, "reason", err.Error())
			return SubmitResult{}, fmt.Errorf("%w: %w", ErrManualEntryRequired, err)
		}
		return SubmitResult{}, err
	}

	order, err := toOrder(vo, res)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %w", ErrManualEntryRequired, err)
	}

	ingested, err := b.ingestor.Ingest(ctx, order)
	if err != nil {
		// A transcript the kitchen cannot route is still a transcription
		// failure from the caller's point of view.
		if errors.Is(err, kitchen.ErrInvalidOrder) {
			return SubmitResult{}, fmt.Errorf("%w: %w", ErrManualEntryRequired, err)
		}
		return SubmitResult{}, err
	}

	b.logger.Info("voice order ingested",
		"order_id", ingested.OrderID,
		"session_id", vo.SessionID,
		"cached", res.Cached,
	)
	return SubmitResult{IngestResult: ingested, Fingerprint: res.Fingerprint, Cached: res.Cached}, nil
}

func toOrder(vo VoiceOrder, res Result) (kitchen.Order, error) {
	if len(res.Transcript.Items) == 0 {
		return kitchen.Order{}, ErrEmptyTranscript
	}

	id := vo.OrderID
	if id == uuid.Nil {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(vo.SessionID+":"+res.Fingerprint))
	}
	tableRef := vo.TableRef
	if tableRef == "" {
		tableRef = res.Transcript.TableRef
	}

	order := kitchen.Order{
		ID:       id,
		Origin:   kitchen.OriginVoice,
		TableRef: tableRef,
	}
	for i, it := range res.Transcript.Items {
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		order.Items = append(order.Items, kitchen.LineItem{
			// Stable ids keep a resubmitted order identical.
			ID:        uuid.NewSHA1(id, []byte(strconv.Itoa(i))),
			OrderID:   id,
			Name:      strings.TrimSpace(it.Name),
			Category:  it.Category,
			Quantity:  qty,
			Modifiers: it.Modifiers,
		})
	}
	return order, nil
}
