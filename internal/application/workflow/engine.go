package workflow

import (
	"context"
	"time"

	"github.com/garyjia/hitl-workflow/internal/application/port"
	domainwf "github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

// Engine creates workflows and advances them through their state machine
type Engine interface {
	// CreateWorkflow persists a new workflow in its initial state with a PENDING decision
	CreateWorkflow(ctx context.Context, req CreateRequest) (*domainwf.Workflow, error)

	// ApplyEvent validates and applies one event, appending exactly one log entry when applied
	ApplyEvent(ctx context.Context, id string, eventType domainwf.EventType, details EventDetails) (*Outcome, error)

	// GetWorkflow returns a workflow by id
	GetWorkflow(ctx context.Context, id string) (*domainwf.Workflow, error)

	// ListWorkflows returns workflows matching the filter
	ListWorkflows(ctx context.Context, filter port.WorkflowFilter) ([]*domainwf.Workflow, error)

	// CompleteEffect clears the pending side effect of eventType; other pending effects are left alone
	CompleteEffect(ctx context.Context, id string, eventType domainwf.EventType) error

	// AvailableEvents returns the events the workflow would accept now, guards included
	AvailableEvents(ctx context.Context, wf *domainwf.Workflow) []domainwf.EventType
}

// CreateRequest carries everything needed to open a workflow
type CreateRequest struct {
	WorkflowType string
	Initiator    domainwf.Initiator
	UISchema     map[string]interface{}
	UIData       map[string]interface{}
	Recipient    domainwf.Recipient
	Deadline     time.Time
}

// EventDetails carries the optional data of an event. Zero values mean "not specified".
type EventDetails struct {
	InitiatedBy string
	Decision    domainwf.Decision
	Comments    *string
	SubmittedAt *time.Time
}

// Outcome reports the result of ApplyEvent.
// Applied is false when the event was a redelivery of one already applied;
// EffectPending is then true if that earlier delivery never finished its side effect.
type Outcome struct {
	Workflow      *domainwf.Workflow
	PreviousState domainwf.State
	NewState      domainwf.State
	Applied       bool
	EffectPending bool
}
