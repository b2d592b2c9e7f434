package workflow

import "errors"

var (
	// ErrNotFound is returned when no workflow exists for an id
	ErrNotFound = errors.New("workflow not found")

	// ErrInvalidTransition is returned when an event is not legal from the current state or decision
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrUnknownEventType is returned when no handler is registered for an event type
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrConflict is returned when a concurrent writer updated the workflow first
	ErrConflict = errors.New("workflow modified concurrently")

	// ErrExtractionUnavailable is returned when the extraction service fails or answers garbage
	ErrExtractionUnavailable = errors.New("extraction service unavailable")

	// ErrNotificationFailed is returned when the notification sink rejects a message
	ErrNotificationFailed = errors.New("notification failed")

	// ErrInvalidCommand is returned when a command is malformed
	ErrInvalidCommand = errors.New("invalid command")

	// ErrInvalidContext is returned when a workflow fails validation at the store boundary
	ErrInvalidContext = errors.New("invalid workflow context")

	// ErrUnknownWorkflowType is returned when no state machine is defined for a workflow type
	ErrUnknownWorkflowType = errors.New("unknown workflow type")

	// ErrChannelUnsupported is returned by notification channels that are declared but not implemented
	ErrChannelUnsupported = errors.New("notification channel not supported")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when every guard of a permitted event fails
	ErrGuardFailed = errors.New("guard condition failed")
)

// IsRetryable reports whether a command that failed with err may succeed on redelivery
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrUnknownEventType),
		errors.Is(err, ErrInvalidCommand),
		errors.Is(err, ErrInvalidContext),
		errors.Is(err, ErrUnknownWorkflowType):
		return false
	default:
		return true
	}
}
