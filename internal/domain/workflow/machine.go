package workflow

import "context"

// StateMachine is an immutable transition table shared by every workflow of one type.
// It never mutates the workflow it is given; callers apply the returned state.
type StateMachine interface {
	// CanFire returns true if the event is permitted from the state, ignoring guards
	CanFire(state State, event EventType) bool

	// Fire evaluates guards against the workflow and returns the target state
	Fire(ctx context.Context, wf *Workflow, event EventType) (State, error)

	// PermittedEvents returns all events configured for the state
	PermittedEvents(state State) []EventType

	// InitialState returns the state new workflows start in
	InitialState() State
}
