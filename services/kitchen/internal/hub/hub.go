package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/kds/pkg/event"
	"github.com/google/uuid"
)

const (
	DefaultRetentionEvents  = 500
	DefaultRetentionAge     = 30 * time.Minute
	DefaultQueueDepth       = 256
	DefaultHeartbeatTimeout = 45 * time.Second
	DefaultKeepAlive        = 15 * time.Second
)

// EventStore is the durable side of the station logs.
type EventStore interface {
	AppendEvent(ctx context.Context, evt event.TicketEvent) error
	LoadEventsSince(ctx context.Context, stationID string, seq uint64) ([]event.TicketEvent, error)
}

// SnapshotSource returns a station's current queue, oldest first.
type SnapshotSource interface {
	StationSnapshot(stationID string) []event.TicketView
}

// Authorizer decides which stations an identity may follow.
type Authorizer interface {
	Authorize(identity Identity, stations []string, all bool) error
}

// Identity is supplied by the gateway; the hub only uses it for
// authorization.
type Identity struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type SubscribeRequest struct {
	Identity Identity
	Stations []string
	All      bool
	// Cursors holds the last sequence the display saw per station.
	Cursors map[string]uint64
}

type Config struct {
	RetentionEvents  int
	RetentionAge     time.Duration
	QueueDepth       int
	HeartbeatTimeout time.Duration
	ReapInterval     time.Duration
	KeepAlive        time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetentionEvents <= 0 {
		c.RetentionEvents = DefaultRetentionEvents
	}
	if c.RetentionAge <= 0 {
		c.RetentionAge = DefaultRetentionAge
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = c.HeartbeatTimeout / 3
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	return c
}

type Deps struct {
	Store      EventStore
	Snapshots  SnapshotSource
	Authorizer Authorizer
	// Stations lists the declared stations; "all" subscriptions start with
	// these.
	Stations func() []string
}

type Stats struct {
	Subscribers int    `json:"subscribers"`
	Appended    uint64 `json:"appended"`
	Overflows   uint64 `json:"overflows"`
	Resyncs     uint64 `json:"resyncs"`
	Reaped      uint64 `json:"reaped"`
}

// Hub sequences station events and fans them out to display
// subscriptions.
type Hub struct {
	cfg       Config
	store     EventStore
	snapshots SnapshotSource
	auth      Authorizer
	stations  func() []string
	logger    apt.Logger
	now       func() time.Time

	mu       sync.RWMutex
	logs     map[string]*stationLog
	subs     map[string]*Subscription
	wildcard map[string]*Subscription

	appended  atomic.Uint64
	overflows atomic.Uint64
	resyncs   atomic.Uint64
	reaped    atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(deps Deps, cfg Config, logger apt.Logger) *Hub {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	stations := deps.Stations
	if stations == nil {
		stations = func() []string { return nil }
	}
	return &Hub{
		cfg:       cfg.withDefaults(),
		store:     deps.Store,
		snapshots: deps.Snapshots,
		auth:      deps.Authorizer,
		stations:  stations,
		logger:    logger.With("component", "display-hub"),
		now:       time.Now,
		logs:      make(map[string]*stationLog),
		subs:      make(map[string]*Subscription),
		wildcard:  make(map[string]*Subscription),
	}
}

func (h *Hub) Config() Config {
	return h.cfg
}

// Append assigns the next station sequence, persists the event and pushes
// it to every following subscription.
func (h *Hub) Append(ctx context.Context, evt event.TicketEvent) (event.TicketEvent, error) {
	return h.Commit(ctx, evt, nil)
}

// Commit appends evt like Append. Once the event is persisted, apply runs
// while the station is still locked, so a snapshot of the station sees
// both the event's sequence and apply's effect or neither of them.
func (h *Hub) Commit(ctx context.Context, evt event.TicketEvent, apply func(event.TicketEvent)) (event.TicketEvent, error) {
	if evt.StationID == "" {
		return event.TicketEvent{}, errors.New("event has no station")
	}

	l := h.logFor(evt.StationID)
	l.mu.Lock()
	defer l.mu.Unlock()

	evt.Sequence = l.seq + 1
	if h.store != nil {
		if err := h.store.AppendEvent(ctx, evt); err != nil {
			return event.TicketEvent{}, fmt.Errorf("cannot append %s event: %w", evt.StationID, err)
		}
	}

	if apply != nil {
		apply(evt)
	}

	now := h.now()
	l.push(evt, now)
	l.trim(h.cfg.RetentionEvents, h.cfg.RetentionAge, now)

	delivered := evt
	for _, s := range l.subs {
		s.enqueue(Delivery{Event: &delivered})
	}
	h.appended.Add(1)

	return evt, nil
}

// Subscribe registers a display. Each station either replays the retained
// events after its cursor or starts from a snapshot.
func (h *Hub) Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error) {
	stations := uniqueStations(req.Stations)
	if !req.All && len(stations) == 0 {
		return nil, ErrNoStations
	}
	if h.auth != nil {
		if err := h.auth.Authorize(req.Identity, stations, req.All); err != nil {
			return nil, err
		}
	}

	s := newSubscription(h, uuid.NewString(), req.Identity, stations, req.All, req.Cursors)

	h.mu.Lock()
	targets := stations
	if req.All {
		targets = h.knownStationsLocked(stations)
	}
	logs := make([]*stationLog, 0, len(targets))
	for _, st := range targets {
		logs = append(logs, h.ensureLogLocked(st))
	}
	h.subs[s.ID] = s
	if req.All {
		h.wildcard[s.ID] = s
	}
	h.mu.Unlock()

	for _, l := range logs {
		h.attach(s, l)
	}

	h.logger.Info("display subscribed",
		"subscription_id", s.ID,
		"user_id", req.Identity.UserID,
		"role", req.Identity.Role,
		"all", req.All,
		"stations", len(logs),
	)
	return s, nil
}

// attach replays or schedules a snapshot, then registers the subscription
// on the log. The log lock covers both so no event falls in between.
func (h *Hub) attach(s *Subscription, l *stationLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.mu.Lock()
	cursor := s.cursors[l.station]
	s.mu.Unlock()

	events, err := l.since(cursor)
	switch {
	case err != nil:
		if cursor != 0 {
			h.logger.Debug("replay not possible, sending snapshot",
				"subscription_id", s.ID, "station_id", l.station, "cursor", cursor, "head", l.seq, "error", err)
		}
		s.requestResync(l.station)
	case len(events) > s.depth:
		s.requestResync(l.station)
	default:
		for i := range events {
			s.enqueue(Delivery{Event: &events[i]})
		}
	}

	l.subs[s.ID] = s
}

// resync builds the snapshot a subscription asked for and moves its
// cursor to the snapshot's sequence.
func (h *Hub) resync(s *Subscription, station string) (Delivery, error) {
	l := h.logFor(station)
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := h.snapshotLocked(l)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Delivery{}, ErrSubscriptionClosed
	}
	if !s.resync[station] {
		return Delivery{}, nil
	}
	delete(s.resync, station)
	s.cursors[station] = snap.Sequence
	h.resyncs.Add(1)

	return Delivery{Snapshot: &snap}, nil
}

// Snapshot returns the station's current queue stamped with its head
// sequence.
func (h *Hub) Snapshot(station string) event.StationSnapshot {
	l := h.logFor(station)
	l.mu.Lock()
	defer l.mu.Unlock()
	return h.snapshotLocked(l)
}

func (h *Hub) snapshotLocked(l *stationLog) event.StationSnapshot {
	tickets := []event.TicketView{}
	if h.snapshots != nil {
		if views := h.snapshots.StationSnapshot(l.station); views != nil {
			tickets = views
		}
	}
	return event.StationSnapshot{
		StationID: l.station,
		Sequence:  l.seq,
		TakenAt:   h.now(),
		Tickets:   tickets,
	}
}

// Head returns the oldest retained and the latest sequence of a station.
func (h *Hub) Head(station string) (oldest, latest uint64) {
	h.mu.RLock()
	l := h.logs[station]
	h.mu.RUnlock()
	if l == nil {
		return 0, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.oldest(), l.seq
}

// Warm rebuilds the station logs from the event store.
func (h *Hub) Warm(ctx context.Context, stations []string) error {
	if h.store == nil {
		return nil
	}

	for _, st := range uniqueStations(stations) {
		events, err := h.store.LoadEventsSince(ctx, st, 0)
		if err != nil {
			return fmt.Errorf("cannot load %s events: %w", st, err)
		}

		l := h.logFor(st)
		l.mu.Lock()
		for _, evt := range events {
			if evt.Sequence <= l.seq {
				continue
			}
			if len(l.entries) > 0 && evt.Sequence != l.seq+1 {
				// Gap in the stored log: keep only the tail after it.
				l.entries = nil
			}
			at := evt.Timestamp
			if at.IsZero() {
				at = h.now()
			}
			l.push(evt, at)
		}
		l.trim(h.cfg.RetentionEvents, h.cfg.RetentionAge, h.now())
		head := l.seq
		l.mu.Unlock()

		h.logger.Info("station log warmed", "station_id", st, "events", len(events), "head", head)
	}
	return nil
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	subscribers := len(h.subs)
	h.mu.RUnlock()
	return Stats{
		Subscribers: subscribers,
		Appended:    h.appended.Load(),
		Overflows:   h.overflows.Load(),
		Resyncs:     h.resyncs.Load(),
		Reaped:      h.reaped.Load(),
	}
}

// Start runs the reaper until Stop.
func (h *Hub) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.cfg.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.reap()
			}
		}
	}()

	h.logger.Info("display hub started", "heartbeat_timeout", h.cfg.HeartbeatTimeout.String())
	return nil
}

// Stop ends the reaper and closes every subscription.
func (h *Hub) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()

	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	for _, s := range subs {
		h.unsubscribe(s)
	}

	h.logger.Info("display hub stopped")
	return nil
}

// reap closes subscriptions without a heartbeat within the timeout and
// ages out old log entries.
func (h *Hub) reap() {
	now := h.now()

	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	logs := make([]*stationLog, 0, len(h.logs))
	for _, l := range h.logs {
		logs = append(logs, l)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		if now.Sub(s.idleSince()) > h.cfg.HeartbeatTimeout {
			h.unsubscribe(s)
			h.reaped.Add(1)
			h.logger.Info("display reaped", "subscription_id", s.ID, "user_id", s.Identity.UserID)
		}
	}

	for _, l := range logs {
		l.mu.Lock()
		l.trim(h.cfg.RetentionEvents, h.cfg.RetentionAge, now)
		l.mu.Unlock()
	}
}

func (h *Hub) unsubscribe(s *Subscription) {
	if !s.release() {
		return
	}

	h.mu.Lock()
	delete(h.subs, s.ID)
	delete(h.wildcard, s.ID)
	logs := make([]*stationLog, 0, len(h.logs))
	for _, l := range h.logs {
		logs = append(logs, l)
	}
	h.mu.Unlock()

	for _, l := range logs {
		l.mu.Lock()
		delete(l.subs, s.ID)
		l.mu.Unlock()
	}
}

func (h *Hub) overflowed(s *Subscription, err error) {
	h.overflows.Add(1)
	h.logger.Info("display queue overflow, switching to snapshot", "subscription_id", s.ID, "error", err)
}

func (h *Hub) logFor(station string) *stationLog {
	h.mu.RLock()
	l := h.logs[station]
	h.mu.RUnlock()
	if l != nil {
		return l
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ensureLogLocked(station)
}

// ensureLogLocked must be called with h.mu held for writing. New logs are
// followed by every "all" subscription.
func (h *Hub) ensureLogLocked(station string) *stationLog {
	if l, ok := h.logs[station]; ok {
		return l
	}
	l := newStationLog(station)
	for id, s := range h.wildcard {
		l.subs[id] = s
	}
	h.logs[station] = l
	return l
}

func (h *Hub) knownStationsLocked(extra []string) []string {
	all := append([]string(nil), extra...)
	all = append(all, h.stations()...)
	for st := range h.logs {
		all = append(all, st)
	}
	return uniqueStations(all)
}

func uniqueStations(stations []string) []string {
	seen := make(map[string]bool, len(stations))
	out := make([]string, 0, len(stations))
	for _, st := range stations {
		if st == "" || seen[st] {
			continue
		}
		seen[st] = true
		out = append(out, st)
	}
	sort.Strings(out)
	return out
}
