package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/kds/pkg/enums/role"
	"github.com/appetiteclub/kds/pkg/enums/ticketstate"
	"github.com/appetiteclub/kds/pkg/event"
	"github.com/appetiteclub/kds/services/kitchen/internal/hub"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultWindow        = 15 * time.Minute
	DefaultRetryInterval = 10 * time.Second
	DefaultMaxPending    = 10000
	DefaultWarmLimit     = 5000
	sinkQueueSize        = 256
	sinkTimeout          = 5 * time.Second
)

// Source is the display hub as seen by the aggregator.
type Source interface {
	Subscribe(ctx context.Context, req hub.SubscribeRequest) (*hub.Subscription, error)
	Stats() hub.Stats
	Head(station string) (oldest, latest uint64)
	Config() hub.Config
}

// EventLog replays a station's durable events.
type EventLog interface {
	LoadEventsSince(ctx context.Context, stationID string, seq uint64) ([]event.TicketEvent, error)
}

type Config struct {
	Window        time.Duration
	RetryInterval time.Duration
	MaxPending    int
	WarmLimit     int
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.MaxPending <= 0 {
		c.MaxPending = DefaultMaxPending
	}
	if c.WarmLimit <= 0 {
		c.WarmLimit = DefaultWarmLimit
	}
	return c
}

type Deps struct {
	Source Source
	Sink   TimingSink
	// Stream, when set, is replayed on Warm. EventLog is the fallback.
	Stream   events.StreamConsumer
	EventLog EventLog
	Stations func() []string
}

type tracked struct {
	orderID   string
	station   string
	expo      bool
	state     string
	recalls   int
	createdAt time.Time
	startedAt time.Time
	readyAt   time.Time
}

type stationTotals struct {
	completed    int64
	sumStart     time.Duration
	startSamples int64
	sumReady     time.Duration
	readySamples int64
	sumBump      time.Duration
	bumpSamples  int64
}

// StationStats is the JSON view of one station.
type StationStats struct {
	StationID           string  `json:"station_id"`
	Load                int     `json:"load"`
	Throughput          int     `json:"throughput"`
	Window              string  `json:"window"`
	Completed           int64   `json:"completed"`
	AvgToInProgressSecs float64 `json:"avg_time_to_in_progress_seconds"`
	AvgToReadySecs      float64 `json:"avg_time_to_ready_seconds"`
	AvgToBumpSecs       float64 `json:"avg_time_to_bump_seconds"`
	Sequence            uint64  `json:"sequence"`
}

// Aggregator derives ticket timings and station load from the station
// event stream. It is never the source of truth for ticket state.
type Aggregator struct {
	cfg      Config
	source   Source
	stream   events.StreamConsumer
	eventLog EventLog
	stations func() []string
	logger   apt.Logger
	now      func() time.Time

	mu      sync.RWMutex
	tickets map[string]*tracked
	bumps   map[string][]time.Time
	totals  map[string]*stationTotals

	registry *prometheus.Registry
	collect  *instruments
	sink     *sinkWorker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAggregator(deps Deps, cfg Config, logger apt.Logger) *Aggregator {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	stations := deps.Stations
	if stations == nil {
		stations = func() []string { return nil }
	}
	cfg = cfg.withDefaults()

	a := &Aggregator{
		cfg:      cfg,
		source:   deps.Source,
		stream:   deps.Stream,
		eventLog: deps.EventLog,
		stations: stations,
		logger:   logger.With("component", "metrics"),
		now:      time.Now,
		tickets:  make(map[string]*tracked),
		bumps:    make(map[string][]time.Time),
		totals:   make(map[string]*stationTotals),
		registry: prometheus.NewRegistry(),
	}
	a.collect = newInstruments(a)
	a.collect.register(a.registry)
	a.sink = newSinkWorker(deps.Sink, cfg, a.collect, a.logger)
	return a
}

// Registry holds every kitchen collector; serve it with promhttp.
func (a *Aggregator) Registry() *prometheus.Registry {
	return a.registry
}

// Start warms the aggregator and follows every station of the hub.
func (a *Aggregator) Start(ctx context.Context) error {
	if a.source == nil {
		return errors.New("metrics aggregator needs an event source")
	}

	if err := a.Warm(ctx); err != nil {
		a.logger.Error("metrics warm-up failed, starting empty", "error", err)
	}

	sub, err := a.source.Subscribe(ctx, hub.SubscribeRequest{
		Identity: hub.Identity{UserID: "metrics-aggregator", Role: role.Roles.Admin.Code()},
		All:      true,
	})
	if err != nil {
		return fmt.Errorf("cannot subscribe metrics aggregator: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.sink.run(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		defer sub.Close()
		a.follow(runCtx, sub)
	}()

	a.logger.Info("metrics aggregator started", "window", a.cfg.Window.String())
	return nil
}

func (a *Aggregator) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.logger.Info("metrics aggregator stopped", "pending_timings", a.sink.pendingCount())
	return nil
}

// follow applies deliveries until ctx ends or the hub closes the
// subscription. Idle waits heartbeat so the hub does not reap it.
func (a *Aggregator) follow(ctx context.Context, sub *hub.Subscription) {
	keepAlive := a.source.Config().KeepAlive
	if keepAlive <= 0 {
		keepAlive = hub.DefaultKeepAlive
	}
	for {
		nctx, cancel := context.WithTimeout(ctx, keepAlive)
		d, err := sub.Next(nctx)
		cancel()

		switch {
		case err == nil:
			if d.Event != nil {
				a.apply(*d.Event, true)
			} else if d.Snapshot != nil {
				a.applySnapshot(*d.Snapshot)
			}
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		default:
			if ctx.Err() == nil {
				a.logger.Error("metrics subscription ended", "error", err)
			}
			return
		}
		sub.Heartbeat()
	}
}

// Warm replays retained history from the JetStream stream, or from the
// durable event log when streaming is off. Replayed timings are not
// persisted again.
func (a *Aggregator) Warm(ctx context.Context) error {
	var history []event.TicketEvent

	switch {
	case a.stream != nil:
		msgs, err := a.stream.Fetch(ctx, a.cfg.WarmLimit)
		if err != nil {
			return fmt.Errorf("cannot fetch ticket stream: %w", err)
		}
		for _, msg := range msgs {
			var evt event.TicketEvent
			if err := json.Unmarshal(msg.Data, &evt); err != nil {
				a.logger.Debug("skipping undecodable stream message", "sequence", msg.Sequence, "error", err)
				continue
			}
			history = append(history, evt)
		}

	case a.eventLog != nil:
		for _, st := range a.stations() {
			evts, err := a.eventLog.LoadEventsSince(ctx, st, 0)
			if err != nil {
				return fmt.Errorf("cannot load %s events: %w", st, err)
			}
			history = append(history, evts...)
		}
		sort.SliceStable(history, func(i, j int) bool {
			return history[i].Timestamp.Before(history[j].Timestamp)
		})

	default:
		return nil
	}

	a.Replay(history)
	a.logger.Info("metrics warmed", "events", len(history))
	return nil
}

// Replay rebuilds state from past events without persisting timings.
func (a *Aggregator) Replay(history []event.TicketEvent) {
	for _, evt := range history {
		a.apply(evt, false)
	}
}

func (a *Aggregator) apply(evt event.TicketEvent, persist bool) {
	if evt.TicketID == "" || evt.StationID == "" {
		return
	}
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = a.now()
	}

	a.mu.Lock()
	timing, done := a.applyLocked(evt, ts)
	a.mu.Unlock()

	if done && persist {
		a.sink.submit(timing)
	}
}

// applyLocked reports a completed timing when the event bumps the ticket.
// Histograms only sample the first pass through the line; recalls count
// toward throughput but not toward prep times.
func (a *Aggregator) applyLocked(evt event.TicketEvent, ts time.Time) (Timing, bool) {
	tk, ok := a.tickets[evt.TicketID]
	if !ok {
		tk = &tracked{
			orderID:   evt.OrderID,
			station:   evt.StationID,
			expo:      evt.Expo,
			createdAt: evt.CreatedAt,
		}
		if tk.createdAt.IsZero() {
			tk.createdAt = ts
		}
		a.tickets[evt.TicketID] = tk
	}
	tk.state = evt.State
	tk.recalls = evt.RecallCount
	firstPass := evt.RecallCount == 0
	totals := a.totalsFor(evt.StationID)

	switch evt.State {
	case ticketstate.States.InProgress.Code():
		if tk.startedAt.IsZero() {
			tk.startedAt = ts
			if firstPass {
				d := ts.Sub(tk.createdAt)
				a.collect.observe(a.collect.toInProgress, evt.StationID, d)
				totals.sumStart += d
				totals.startSamples++
			}
		}

	case ticketstate.States.Ready.Code():
		if tk.startedAt.IsZero() {
			tk.startedAt = ts
		}
		if tk.readyAt.IsZero() {
			tk.readyAt = ts
			if firstPass {
				d := ts.Sub(tk.createdAt)
				a.collect.observe(a.collect.toReady, evt.StationID, d)
				totals.sumReady += d
				totals.readySamples++
			}
		}

	case ticketstate.States.Bumped.Code():
		d := ts.Sub(tk.createdAt)
		if firstPass {
			a.collect.observe(a.collect.toBump, evt.StationID, d)
			totals.sumBump += d
			totals.bumpSamples++
		}
		totals.completed++
		a.collect.bumps.WithLabelValues(evt.StationID).Inc()
		a.bumps[evt.StationID] = append(a.pruneBumps(evt.StationID, ts), ts)

		timing := Timing{
			TicketID:    evt.TicketID,
			OrderID:     tk.orderID,
			StationID:   evt.StationID,
			Expo:        tk.expo,
			RecallCount: evt.RecallCount,
			CreatedAt:   tk.createdAt,
			BumpedAt:    ts,
			ToBump:      d,
		}
		if !tk.startedAt.IsZero() {
			timing.ToInProgress = tk.startedAt.Sub(tk.createdAt)
		}
		if !tk.readyAt.IsZero() {
			timing.ToReady = tk.readyAt.Sub(tk.createdAt)
		}
		delete(a.tickets, evt.TicketID)
		return timing, true

	case ticketstate.States.Voided.Code():
		delete(a.tickets, evt.TicketID)
	}

	return Timing{}, false
}

// applySnapshot replaces what is known about a station's active tickets.
// Snapshot tickets are never sampled for timings.
func (a *Aggregator) applySnapshot(snap event.StationSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	present := make(map[string]bool, len(snap.Tickets))
	for _, v := range snap.Tickets {
		present[v.TicketID] = true
		tk, ok := a.tickets[v.TicketID]
		if !ok {
			tk = &tracked{
				orderID:   v.OrderID,
				station:   snap.StationID,
				expo:      v.Expo,
				createdAt: v.CreatedAt,
			}
			a.tickets[v.TicketID] = tk
		}
		tk.state = v.State
		tk.recalls = v.RecallCount

		switch v.State {
		case ticketstate.States.InProgress.Code():
			if tk.startedAt.IsZero() {
				tk.startedAt = v.StateChangedAt
			}
		case ticketstate.States.Ready.Code():
			if tk.startedAt.IsZero() {
				tk.startedAt = v.StateChangedAt
			}
			if tk.readyAt.IsZero() {
				tk.readyAt = v.StateChangedAt
			}
		}
	}

	for id, tk := range a.tickets {
		if tk.station == snap.StationID && !present[id] {
			delete(a.tickets, id)
		}
	}
}

func (a *Aggregator) totalsFor(station string) *stationTotals {
	t, ok := a.totals[station]
	if !ok {
		t = &stationTotals{}
		a.totals[station] = t
	}
	return t
}

// pruneBumps drops bumps that left the throughput window.
func (a *Aggregator) pruneBumps(station string, now time.Time) []time.Time {
	cutoff := now.Add(-a.cfg.Window)
	times := a.bumps[station]
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}

// Station returns the current view of one station.
func (a *Aggregator) Station(id string) StationStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stationLocked(id, a.now())
}

// Stations returns every station the aggregator has seen or knows of.
func (a *Aggregator) Stations() []StationStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make(map[string]bool)
	for _, st := range a.stations() {
		ids[st] = true
	}
	for st := range a.totals {
		ids[st] = true
	}
	for _, tk := range a.tickets {
		ids[tk.station] = true
	}

	sorted := make([]string, 0, len(ids))
	for st := range ids {
		sorted = append(sorted, st)
	}
	sort.Strings(sorted)

	now := a.now()
	out := make([]StationStats, 0, len(sorted))
	for _, st := range sorted {
		out = append(out, a.stationLocked(st, now))
	}
	return out
}

func (a *Aggregator) stationLocked(id string, now time.Time) StationStats {
	a.bumps[id] = a.pruneBumps(id, now)

	stats := StationStats{
		StationID:  id,
		Throughput: len(a.bumps[id]),
		Window:     a.cfg.Window.String(),
	}
	for _, tk := range a.tickets {
		if tk.station != id {
			continue
		}
		if s := ticketstate.ByName(tk.state); s == nil || s.Active() {
			stats.Load++
		}
	}
	if t, ok := a.totals[id]; ok {
		stats.Completed = t.completed
		stats.AvgToInProgressSecs = average(t.sumStart, t.startSamples)
		stats.AvgToReadySecs = average(t.sumReady, t.readySamples)
		stats.AvgToBumpSecs = average(t.sumBump, t.bumpSamples)
	}
	if a.source != nil {
		_, stats.Sequence = a.source.Head(id)
	}
	return stats
}

func average(sum time.Duration, n int64) float64 {
	if n == 0 {
		return 0
	}
	return sum.Seconds() / float64(n)
}

// Known reports whether the station is declared in the routing table.
func (a *Aggregator) Known(id string) bool {
	for _, st := range a.stations() {
		if st == id {
			return true
		}
	}
	return false
}
