package kitchen

import "errors"

var (
	ErrInvalidOrder        = errors.New("invalid order")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderExists         = errors.New("order already exists")
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrInvalidTransition   = errors.New("invalid ticket transition")
	ErrTicketTerminal      = errors.New("ticket is in a terminal state")
	ErrExpoNotReady        = errors.New("contributing stations are not ready")
	ErrRecallLimitExceeded = errors.New("recall limit exceeded")
)
