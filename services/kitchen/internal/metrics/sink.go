package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
)

// Timing is the measured lifecycle of a bumped ticket.
type Timing struct {
	TicketID     string        `json:"ticket_id" bson:"ticket_id"`
	OrderID      string        `json:"order_id" bson:"order_id"`
	StationID    string        `json:"station_id" bson:"station_id"`
	Expo         bool          `json:"expo" bson:"expo"`
	RecallCount  int           `json:"recall_count" bson:"recall_count"`
	CreatedAt    time.Time     `json:"created_at" bson:"created_at"`
	BumpedAt     time.Time     `json:"bumped_at" bson:"bumped_at"`
	ToInProgress time.Duration `json:"to_in_progress" bson:"to_in_progress"`
	ToReady      time.Duration `json:"to_ready" bson:"to_ready"`
	ToBump       time.Duration `json:"to_bump" bson:"to_bump"`
}

// TimingSink persists completed ticket timings.
type TimingSink interface {
	SaveTiming(ctx context.Context, t Timing) error
}

// sinkWorker persists timings off the event path. Failed saves are kept
// and retried on a ticker; the oldest are dropped past MaxPending.
type sinkWorker struct {
	sink       TimingSink
	retryEvery time.Duration
	maxPending int
	instr      *instruments
	logger     apt.Logger

	in chan Timing

	mu      sync.Mutex
	pending []Timing
}

func newSinkWorker(sink TimingSink, cfg Config, instr *instruments, logger apt.Logger) *sinkWorker {
	return &sinkWorker{
		sink:       sink,
		retryEvery: cfg.RetryInterval,
		maxPending: cfg.MaxPending,
		instr:      instr,
		logger:     logger,
		in:         make(chan Timing, sinkQueueSize),
	}
}

// submit never blocks the caller. A full channel parks the timing on the
// retry queue.
func (w *sinkWorker) submit(t Timing) {
	if w.sink == nil {
		return
	}
	select {
	case w.in <- t:
	default:
		w.park(t)
	}
}

func (w *sinkWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.retryEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case t := <-w.in:
			if !w.save(ctx, t) {
				w.park(t)
			}
		case <-ticker.C:
			w.retry(ctx)
		}
	}
}

func (w *sinkWorker) save(ctx context.Context, t Timing) bool {
	sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	if err := w.sink.SaveTiming(sctx, t); err != nil {
		w.instr.sinkFailures.Inc()
		w.logger.Debug("cannot save ticket timing", "ticket_id", t.TicketID, "error", err)
		return false
	}
	return true
}

func (w *sinkWorker) retry(ctx context.Context) {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	for i, t := range batch {
		if ctx.Err() != nil || !w.save(ctx, t) {
			w.park(batch[i:]...)
			return
		}
	}
}

func (w *sinkWorker) park(ts ...Timing) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, ts...)
	if over := len(w.pending) - w.maxPending; over > 0 {
		w.pending = w.pending[over:]
		w.logger.Error("dropping unsaved ticket timings", "dropped", over)
	}
}

// drain moves buffered timings to the pending queue on shutdown.
func (w *sinkWorker) drain() {
	for {
		select {
		case t := <-w.in:
			w.park(t)
		default:
			return
		}
	}
}

func (w *sinkWorker) pendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
