package hub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/appetiteclub/kds/pkg/event"
)

// Delivery carries exactly one of Event or Snapshot.
type Delivery struct {
	Event    *event.TicketEvent
	Snapshot *event.StationSnapshot
}

func (d Delivery) station() string {
	if d.Event != nil {
		return d.Event.StationID
	}
	if d.Snapshot != nil {
		return d.Snapshot.StationID
	}
	return ""
}

// Subscription is one connected display. It owns no ticket data, only a
// cursor per station and a bounded queue of pending deliveries.
type Subscription struct {
	ID       string
	Identity Identity

	hub      *Hub
	all      bool
	stations map[string]bool
	depth    int

	mu       sync.Mutex
	cursors  map[string]uint64
	queue    []Delivery
	resync   map[string]bool
	lastBeat time.Time
	closed   bool

	notify chan struct{}
	done   chan struct{}
}

func newSubscription(h *Hub, id string, identity Identity, stations []string, all bool, cursors map[string]uint64) *Subscription {
	s := &Subscription{
		ID:       id,
		Identity: identity,
		hub:      h,
		all:      all,
		stations: make(map[string]bool, len(stations)),
		depth:    h.cfg.QueueDepth,
		cursors:  make(map[string]uint64),
		resync:   make(map[string]bool),
		lastBeat: h.now(),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, st := range stations {
		s.stations[st] = true
	}
	for st, c := range cursors {
		s.cursors[st] = c
	}
	return s
}

func (s *Subscription) follows(station string) bool {
	return s.all || s.stations[station]
}

// Cursors returns the last delivered sequence per station.
func (s *Subscription) Cursors() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64, len(s.cursors))
	for st, c := range s.cursors {
		out[st] = c
	}
	return out
}

// Heartbeat marks the display as alive.
func (s *Subscription) Heartbeat() {
	s.mu.Lock()
	s.lastBeat = s.hub.now()
	s.mu.Unlock()
}

// Done is closed when the subscription is closed or reaped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Next blocks until a delivery is available, the subscription closes or ctx
// ends. Events at or below the station cursor are skipped.
func (s *Subscription) Next(ctx context.Context) (Delivery, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Delivery{}, ErrSubscriptionClosed
		}

		if station := s.pendingResync(); station != "" {
			s.mu.Unlock()
			d, err := s.hub.resync(s, station)
			if err != nil {
				return Delivery{}, err
			}
			if d.Snapshot != nil {
				return d, nil
			}
			continue
		}

		if len(s.queue) > 0 {
			d := s.queue[0]
			s.queue[0] = Delivery{}
			s.queue = s.queue[1:]

			if d.Event != nil {
				if d.Event.Sequence <= s.cursors[d.Event.StationID] {
					s.mu.Unlock()
					continue
				}
				s.cursors[d.Event.StationID] = d.Event.Sequence
			} else if d.Snapshot != nil {
				s.cursors[d.Snapshot.StationID] = d.Snapshot.Sequence
			}
			s.mu.Unlock()
			return d, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-s.done:
			return Delivery{}, ErrSubscriptionClosed
		case <-s.notify:
		}
	}
}

// enqueue is called with the station log locked. It never blocks; a full
// queue is dropped and every station it covered is switched to resync.
func (s *Subscription) enqueue(d Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	station := d.station()
	if s.resync[station] {
		return
	}

	if len(s.queue) >= s.depth {
		for _, pending := range s.queue {
			s.resync[pending.station()] = true
		}
		s.resync[station] = true
		s.queue = nil
		s.hub.overflowed(s, ErrSubscriberOverflow)
	} else {
		s.queue = append(s.queue, d)
	}
	s.signal()
}

// requestResync switches a station to snapshot mode. The station log must
// be locked.
func (s *Subscription) requestResync(station string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.resync[station] = true
	s.signal()
}

func (s *Subscription) pendingResync() string {
	if len(s.resync) == 0 {
		return ""
	}
	stations := make([]string, 0, len(s.resync))
	for st := range s.resync {
		stations = append(stations, st)
	}
	sort.Strings(stations)
	return stations[0]
}

func (s *Subscription) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBeat
}

// release marks the subscription closed and drops its queue. It reports
// whether this call closed it.
func (s *Subscription) release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.queue = nil
	s.resync = nil
	close(s.done)
	return true
}
