package hub

import (
	"sync"
	"time"

	"github.com/appetiteclub/kds/pkg/event"
)

type entry struct {
	evt event.TicketEvent
	at  time.Time
}

// stationLog is the retained tail of one station's event log. Entries are
// contiguous: entries[i].evt.Sequence == entries[0].evt.Sequence + i.
type stationLog struct {
	mu      sync.Mutex
	station string
	seq     uint64
	entries []entry
	subs    map[string]*Subscription
}

func newStationLog(station string) *stationLog {
	return &stationLog{
		station: station,
		subs:    make(map[string]*Subscription),
	}
}

func (l *stationLog) push(evt event.TicketEvent, at time.Time) {
	l.seq = evt.Sequence
	l.entries = append(l.entries, entry{evt: evt, at: at})
}

// trim drops entries beyond maxEvents or older than maxAge. The sequence
// counter is kept.
func (l *stationLog) trim(maxEvents int, maxAge time.Duration, now time.Time) {
	drop := 0
	if maxEvents > 0 && len(l.entries) > maxEvents {
		drop = len(l.entries) - maxEvents
	}
	if maxAge > 0 {
		cutoff := now.Add(-maxAge)
		for drop < len(l.entries) && l.entries[drop].at.Before(cutoff) {
			drop++
		}
	}
	if drop == 0 {
		return
	}
	kept := make([]entry, len(l.entries)-drop)
	copy(kept, l.entries[drop:])
	l.entries = kept
}

// since returns the retained events after cursor. A zero cursor, a cursor
// ahead of the log or one older than the retained tail cannot be replayed.
func (l *stationLog) since(cursor uint64) ([]event.TicketEvent, error) {
	if cursor == 0 || cursor > l.seq {
		return nil, ErrReplayWindowExpired
	}
	if cursor == l.seq {
		return nil, nil
	}
	if len(l.entries) == 0 || cursor+1 < l.entries[0].evt.Sequence {
		return nil, ErrReplayWindowExpired
	}

	start := int(cursor + 1 - l.entries[0].evt.Sequence)
	out := make([]event.TicketEvent, 0, len(l.entries)-start)
	for _, e := range l.entries[start:] {
		out = append(out, e.evt)
	}
	return out, nil
}

func (l *stationLog) oldest() uint64 {
	if len(l.entries) == 0 {
		return l.seq
	}
	return l.entries[0].evt.Sequence
}
