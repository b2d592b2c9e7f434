package workflow

// EventType identifies an event that can advance a workflow
type EventType string

const (
	EventInteractionRequested EventType = "HUMAN_INTERACTION_REQUESTED"
	EventActionSubmitted      EventType = "HUMAN_ACTION_SUBMITTED"
	EventActionRolledBack     EventType = "HUMAN_ACTION_ROLLED_BACK"
	EventInteractionTimedOut  EventType = "HUMAN_INTERACTION_TIMED_OUT"
)

// String returns the string representation of the event type
func (t EventType) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t EventType) IsValid() bool {
	switch t {
	case EventInteractionRequested,
		EventActionSubmitted,
		EventActionRolledBack,
		EventInteractionTimedOut:
		return true
	default:
		return false
	}
}
