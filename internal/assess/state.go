package assess

import (
	"errors"
	"fmt"
	"time"
)

// State is a lifecycle stage of one assessment request.
type State string

const (
	StatePending     State = "pending"
	StateCollecting  State = "collecting"
	StateNormalizing State = "normalizing"
	StateScoring     State = "scoring"
	StateFinalized   State = "finalized"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateFailed
}

var forward = map[State]State{
	StatePending:     StateCollecting,
	StateCollecting:  StateNormalizing,
	StateNormalizing: StateScoring,
	StateScoring:     StateFinalized,
}

// ErrInvalidTransition is returned for a transition the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid state transition")

// CanTransition reports whether from → to is allowed: one step forward, or
// to failed from any non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return forward[from] == to
}

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// lifecycle tracks the state of one request. It is owned by a single
// goroutine and never shared.
type lifecycle struct {
	state       State
	transitions []Transition
	now         func() time.Time
}

func newLifecycle(now func() time.Time) *lifecycle {
	return &lifecycle{state: StatePending, now: now}
}

func (l *lifecycle) advance(to State) error {
	if !CanTransition(l.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, to)
	}
	l.transitions = append(l.transitions, Transition{From: l.state, To: to, At: l.now()})
	l.state = to
	return nil
}
