package workflow

// State represents a workflow state in the human interaction lifecycle
type State string

const (
	StateRequested            State = "REQUESTED"
	StateHumanActionCompleted State = "HUMAN_ACTION_COMPLETED"
	StateTimedOut             State = "HUMAN_INTERACTION_TIMED_OUT"
)

var validStates = map[State]bool{
	StateRequested:            true,
	StateHumanActionCompleted: true,
	StateTimedOut:             true,
}

// HUMAN_ACTION_COMPLETED is left out on purpose: a rollback reopens it.
var terminalStates = map[State]bool{
	StateTimedOut: true,
}

// IsTerminal returns true if no transition leaves the state
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid workflow state
func (s State) IsValid() bool {
	return validStates[s]
}
