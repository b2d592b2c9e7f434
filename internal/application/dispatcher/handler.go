package dispatcher

import (
	"context"

	"github.com/garyjia/hitl-workflow/internal/domain/event"
	domainwf "github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

// Handler runs the side effect of an event that the engine has already applied.
// wf is the workflow as written by that transition.
type Handler func(ctx context.Context, cmd *event.Command, wf *domainwf.Workflow) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name        string
	EventType   domainwf.EventType
	Handler     Handler
	Description string
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
