package hub

import "errors"

var (
	ErrForbidden          = errors.New("display is not allowed to follow station")
	ErrUnknownStation     = errors.New("unknown station")
	ErrNoStations         = errors.New("subscription needs at least one station")
	ErrSubscriptionClosed = errors.New("subscription closed")

	// ErrSubscriberOverflow and ErrReplayWindowExpired never reach callers;
	// both resolve to a station snapshot.
	ErrSubscriberOverflow  = errors.New("subscriber queue overflow")
	ErrReplayWindowExpired = errors.New("replay window expired")
)
