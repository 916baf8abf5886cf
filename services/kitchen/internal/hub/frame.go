package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/appetiteclub/kds/pkg/event"
)

const (
	FrameEvent     = "ticket"
	FrameSnapshot  = "snapshot"
	FrameHeartbeat = "heartbeat"
)

// Frame is what a display transport writes for each delivery. Cursors lets
// the display resume from where it stopped.
type Frame struct {
	Type     string                 `json:"type"`
	Event    *event.TicketEvent     `json:"event,omitempty"`
	Snapshot *event.StationSnapshot `json:"snapshot,omitempty"`
	Cursors  map[string]uint64      `json:"cursors,omitempty"`
}

func frameFor(d Delivery, cursors map[string]uint64) Frame {
	if d.Snapshot != nil {
		return Frame{Type: FrameSnapshot, Snapshot: d.Snapshot, Cursors: cursors}
	}
	return Frame{Type: FrameEvent, Event: d.Event, Cursors: cursors}
}

// pump sends deliveries until the subscription closes, ctx ends or send
// fails. A heartbeat frame goes out whenever keepAlive passes without one.
func pump(ctx context.Context, sub *Subscription, keepAlive time.Duration, send func(Frame) error) error {
	for {
		nctx, cancel := context.WithTimeout(ctx, keepAlive)
		d, err := sub.Next(nctx)
		cancel()

		var f Frame
		switch {
		case err == nil:
			f = frameFor(d, sub.Cursors())
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			f = Frame{Type: FrameHeartbeat, Cursors: sub.Cursors()}
		case errors.Is(err, ErrSubscriptionClosed):
			return err
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if err := send(f); err != nil {
			return err
		}
		sub.Heartbeat()
	}
}

// EncodeCursors renders cursors as "station:seq" pairs, sorted by station.
func EncodeCursors(cursors map[string]uint64) string {
	stations := make([]string, 0, len(cursors))
	for st := range cursors {
		stations = append(stations, st)
	}
	sort.Strings(stations)

	parts := make([]string, 0, len(stations))
	for _, st := range stations {
		parts = append(parts, st+":"+strconv.FormatUint(cursors[st], 10))
	}
	return strings.Join(parts, ",")
}

// DecodeCursors parses the EncodeCursors format.
func DecodeCursors(s string) (map[string]uint64, error) {
	out := make(map[string]uint64)
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ",") {
		station, seq, ok := strings.Cut(part, ":")
		if !ok || station == "" {
			return nil, fmt.Errorf("malformed cursor %q", part)
		}
		n, err := strconv.ParseUint(seq, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed cursor %q: %w", part, err)
		}
		out[station] = n
	}
	return out, nil
}
