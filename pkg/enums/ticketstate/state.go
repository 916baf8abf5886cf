package ticketstate

import (
	"strings"
)

// State is a stage of the ticket lifecycle. Stage orders the forward path;
// voided sits outside it.
type State struct {
	Name  string
	Stage int
}

func (s State) Code() string {
	return s.Name
}

func (s State) Label() string {
	parts := strings.Split(s.Name, "_")
	for i := range parts {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, " ")
}

// Terminal reports whether the state accepts no further forward moves.
// Bumped tickets can still be recalled.
func (s State) Terminal() bool {
	return s == States.Bumped || s == States.Voided
}

// Active reports whether a ticket in this state belongs on a station queue.
func (s State) Active() bool {
	return s == States.Queued || s == States.InProgress || s == States.Ready
}

// Done reports whether the state satisfies expo readiness for a contributor.
func (s State) Done() bool {
	return s == States.Ready || s == States.Bumped
}

// Next returns the following forward stage.
func (s State) Next() (State, bool) {
	if s == States.Voided {
		return State{}, false
	}
	for _, st := range Forward {
		if st.Stage == s.Stage+1 {
			return st, true
		}
	}
	return State{}, false
}

// Previous returns the stage one step back on the forward path.
func (s State) Previous() (State, bool) {
	if s == States.Voided {
		return State{}, false
	}
	for _, st := range Forward {
		if st.Stage == s.Stage-1 {
			return st, true
		}
	}
	return State{}, false
}

type Enum struct {
	Queued     State
	InProgress State
	Ready      State
	Bumped     State
	Voided     State
}

var States = Enum{
	Queued:     State{Name: "queued", Stage: 0},
	InProgress: State{Name: "in_progress", Stage: 1},
	Ready:      State{Name: "ready", Stage: 2},
	Bumped:     State{Name: "bumped", Stage: 3},
	Voided:     State{Name: "voided", Stage: -1},
}

// Forward lists the lifecycle in stage order.
var Forward = []State{
	States.Queued,
	States.InProgress,
	States.Ready,
	States.Bumped,
}

var All = []State{
	States.Queued,
	States.InProgress,
	States.Ready,
	States.Bumped,
	States.Voided,
}

// ByName returns the state for a given name, or nil if not found
func ByName(name string) *State {
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}

// ActiveCodes lists the codes of states shown on a station queue.
func ActiveCodes() []string {
	return []string{States.Queued.Code(), States.InProgress.Code(), States.Ready.Code()}
}
