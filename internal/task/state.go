package task

import (
	"errors"
	"fmt"
)

// State is the local lifecycle state of a task:
// draft -> pending -> running -> {complete | failed}.
type State string

const (
	StateDraft    State = "draft"
	StatePending  State = "pending"
	StateRunning  State = "running"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

var AllStates = []State{StateDraft, StatePending, StateRunning, StateComplete, StateFailed}

func (s State) Valid() bool {
	switch s {
	case StateDraft, StatePending, StateRunning, StateComplete, StateFailed:
		return true
	}
	return false
}

// Terminal states are never polled again.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Trigger names what causes a state change.
type Trigger string

const (
	// TriggerStart is a new remote job submitted by the run orchestrator.
	TriggerStart Trigger = "start"
	// TriggerObserve is a remote status observed by the poller.
	TriggerObserve Trigger = "observe"
	// TriggerReset is a manual reset of a draft or failed task.
	TriggerReset Trigger = "reset"
)

var ErrIllegalTransition = errors.New("illegal state transition")

// transitions is the exhaustive table of allowed (trigger, from) -> to moves.
var transitions = map[Trigger]map[State][]State{
	TriggerStart: {
		StateDraft:   {StatePending},
		StatePending: {StatePending},
		StateRunning: {StatePending},
		StateFailed:  {StatePending},
	},
	TriggerObserve: {
		StatePending: {StatePending, StateRunning, StateComplete, StateFailed},
		StateRunning: {StateRunning, StateComplete, StateFailed},
	},
	TriggerReset: {
		StateDraft:  {StateDraft},
		StateFailed: {StateDraft},
	},
}

// Transition validates moving from -> to under trigger. It returns an error
// wrapping ErrIllegalTransition when the table has no such edge.
func Transition(trigger Trigger, from, to State) error {
	for _, allowed := range transitions[trigger][from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, trigger, from, to)
}

// CanStart reports whether a new run may be started from s.
func (s State) CanStart() bool {
	return Transition(TriggerStart, s, StatePending) == nil
}
