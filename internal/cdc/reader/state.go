// Package reader implements the partition reader: it drives an embedded
// change-event engine to completion for a bounded slice of change history and
// produces a resumable checkpoint.
package reader

import (
	"fmt"
	"sync"
)

// State represents the reader lifecycle state.
type State int

const (
	// StateUnacquired indicates the reader holds no execution slot.
	StateUnacquired State = iota
	// StateAcquired indicates a slot and scratch area are provisioned.
	StateAcquired
	// StateRunning indicates the embedded engine is streaming.
	StateRunning
	// StateHalted indicates the engine has stopped and the checkpoint can be built.
	StateHalted
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnacquired:
		return "unacquired"
	case StateAcquired:
		return "acquired"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	StateUnacquired: {StateAcquired},
	StateAcquired:   {StateRunning, StateUnacquired},
	StateRunning:    {StateHalted},
	StateHalted:     {StateUnacquired},
}

// stateMachine guards reader lifecycle transitions.
type stateMachine struct {
	mu    sync.RWMutex
	state State
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: StateUnacquired}
}

// State returns the current state.
func (sm *stateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// Transition attempts to transition to the target state.
// Returns an error if the transition is not valid.
func (sm *stateMachine) Transition(target State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, allowed := range validTransitions[sm.state] {
		if allowed == target {
			sm.state = target
			return nil
		}
	}
	return fmt.Errorf("invalid state transition from %s to %s", sm.state, target)
}
