package sessions

import "fmt"

// SessionState is a step in a session's lifecycle.
type SessionState string

const (
	StateUninitialized SessionState = "uninitialized"
	StateNegotiating   SessionState = "negotiating"
	StateActive        SessionState = "active"
	StateClosing       SessionState = "closing"
	StateClosed        SessionState = "closed"
)

// transitions lists the allowed next states for each state. Any state may
// move to closing or closed directly since a peer can vanish at any point.
var transitions = map[SessionState][]SessionState{
	StateUninitialized: {StateNegotiating, StateClosing, StateClosed},
	StateNegotiating:   {StateActive, StateClosing, StateClosed},
	StateActive:        {StateClosing, StateClosed},
	StateClosing:       {StateClosed},
}

// CanTransition reports whether a session may move from one state to another.
func CanTransition(from, to SessionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AcceptsRequests reports whether requests may still be dispatched.
func (s SessionState) AcceptsRequests() bool {
	return s != StateClosing && s != StateClosed
}

// TransitionError is returned when a lifecycle move is not allowed.
type TransitionError struct {
	From, To SessionState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s", e.From, e.To)
}
