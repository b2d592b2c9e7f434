package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/hitl-workflow/internal/application/port"
	domainwf "github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	repo        port.WorkflowRepository
	definitions Definitions
	now         func() time.Time
	newID       func() string
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDefinitions replaces the default workflow definitions
func WithDefinitions(defs Definitions) EngineOption {
	return func(e *engineImpl) {
		e.definitions = defs
	}
}

// WithClock sets the time source used for timestamps
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// WithIDGenerator sets the workflow id generator
func WithIDGenerator(newID func() string) EngineOption {
	return func(e *engineImpl) {
		e.newID = newID
	}
}

// NewEngine creates a new workflow engine
func NewEngine(repo port.WorkflowRepository, opts ...EngineOption) Engine {
	e := &engineImpl{
		repo:        repo,
		definitions: DefaultDefinitions(),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// AvailableEvents lists the events that would change the workflow now.
// Redeliveries of already recorded events are left out.
func (e *engineImpl) AvailableEvents(ctx context.Context, wf *domainwf.Workflow) []domainwf.EventType {
	events := []domainwf.EventType{}

	machine, ok := e.definitions.Lookup(wf.Context.Metadata.WorkflowType)
	if !ok || wf.CurrentState.IsTerminal() {
		return events
	}

	for _, ev := range machine.PermittedEvents(wf.CurrentState) {
		if isReplay(wf, ev, EventDetails{}) {
			continue
		}
		if _, err := machine.Fire(ctx, wf, ev); err == nil {
			events = append(events, ev)
		}
	}
	return events
}

// CreateWorkflow persists a new workflow in its initial state
func (e *engineImpl) CreateWorkflow(ctx context.Context, req CreateRequest) (*domainwf.Workflow, error) {
	machine, ok := e.definitions.Lookup(req.WorkflowType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domainwf.ErrUnknownWorkflowType, req.WorkflowType)
	}

	now := e.now()
	wf := &domainwf.Workflow{
		ID:           e.newID(),
		CurrentState: machine.InitialState(),
		Context: domainwf.Context{
			SchemaVersion: domainwf.ContextSchemaVersion,
			Metadata: domainwf.Metadata{
				WorkflowType: req.WorkflowType,
				Initiator:    req.Initiator,
			},
			Payload: domainwf.Payload{
				UISchema: req.UISchema,
				UIData:   req.UIData,
			},
			HumanInteraction: domainwf.HumanInteraction{
				Recipient: req.Recipient,
				Deadline:  req.Deadline.UTC(),
				Response: domainwf.Response{
					Decision: domainwf.DecisionPending,
				},
			},
			EventLog: []domainwf.LogEntry{},
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Copy so later changes to the request maps cannot reach the stored value
	wf = wf.Clone()

	if err := e.repo.Create(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return wf, nil
}

// GetWorkflow returns a workflow by id
func (e *engineImpl) GetWorkflow(ctx context.Context, id string) (*domainwf.Workflow, error) {
	return e.repo.GetByID(ctx, id)
}

// ListWorkflows returns workflows matching the filter
func (e *engineImpl) ListWorkflows(ctx context.Context, filter port.WorkflowFilter) ([]*domainwf.Workflow, error) {
	return e.repo.List(ctx, filter)
}

// ApplyEvent loads the workflow, checks the transition and writes the result
// with a compare-and-set on the version read. A concurrent writer makes this
// call fail with ErrConflict and leaves the stored workflow untouched.
func (e *engineImpl) ApplyEvent(ctx context.Context, id string, eventType domainwf.EventType, details EventDetails) (*Outcome, error) {
	if !eventType.IsValid() {
		return nil, fmt.Errorf("%w: %q", domainwf.ErrUnknownEventType, eventType)
	}

	wf, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	machine, ok := e.definitions.Lookup(wf.Context.Metadata.WorkflowType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domainwf.ErrUnknownWorkflowType, wf.Context.Metadata.WorkflowType)
	}

	if isReplay(wf, eventType, details) {
		return &Outcome{
			Workflow:      wf,
			PreviousState: wf.CurrentState,
			NewState:      wf.CurrentState,
			Applied:       false,
			EffectPending: wf.Context.PendingEffect == eventType,
		}, nil
	}

	if eventType == domainwf.EventActionSubmitted && !details.Decision.IsFinal() {
		return nil, fmt.Errorf("%w: %s requires APPROVED or REJECTED, got %q",
			domainwf.ErrInvalidCommand, eventType, details.Decision)
	}

	if !machine.CanFire(wf.CurrentState, eventType) {
		if wf.CurrentState.IsTerminal() {
			return nil, fmt.Errorf("%w: workflow %s is in terminal state %s", domainwf.ErrInvalidTransition, id, wf.CurrentState)
		}
		return nil, fmt.Errorf("%w: %s is not permitted from %s", domainwf.ErrInvalidTransition, eventType, wf.CurrentState)
	}

	nextState, err := machine.Fire(ctx, wf, eventType)
	if err != nil {
		return nil, err
	}

	now := e.now()
	previousState := wf.CurrentState
	updated := wf.Clone()
	updated.Context.HumanInteraction.Response = nextResponse(wf.Context.HumanInteraction.Response, eventType, details, now)
	updated.CurrentState = nextState
	updated.UpdatedAt = now
	updated.Context.PendingEffect = eventType

	response := updated.Context.HumanInteraction.Response
	updated.Context.EventLog = append(updated.Context.EventLog, domainwf.LogEntry{
		Timestamp: now,
		EventType: eventType,
		State:     nextState,
		Details: &domainwf.LogDetail{
			InitiatedBy: details.InitiatedBy,
			Decision:    response.Decision,
			Comments:    response.Comments,
		},
	})

	if err := e.repo.Update(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to apply %s to workflow %s: %w", eventType, id, err)
	}

	return &Outcome{
		Workflow:      updated,
		PreviousState: previousState,
		NewState:      nextState,
		Applied:       true,
		EffectPending: true,
	}, nil
}

// CompleteEffect records that the side effect of eventType ran. It is a no-op
// when a later transition already replaced the pending effect.
func (e *engineImpl) CompleteEffect(ctx context.Context, id string, eventType domainwf.EventType) error {
	wf, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if wf.Context.PendingEffect != eventType {
		return nil
	}

	updated := wf.Clone()
	updated.Context.PendingEffect = ""
	updated.UpdatedAt = e.now()
	if err := e.repo.Update(ctx, updated); err != nil {
		return fmt.Errorf("failed to complete %s effect on workflow %s: %w", eventType, id, err)
	}
	return nil
}

// isReplay detects redelivery of an event whose effect is already recorded
func isReplay(wf *domainwf.Workflow, eventType domainwf.EventType, details EventDetails) bool {
	switch eventType {
	case domainwf.EventInteractionRequested:
		return wf.Context.HasEvent(domainwf.EventInteractionRequested)
	case domainwf.EventActionSubmitted:
		return wf.CurrentState == domainwf.StateHumanActionCompleted &&
			details.Decision.IsFinal() &&
			wf.Decision() == details.Decision
	case domainwf.EventInteractionTimedOut:
		return wf.CurrentState == domainwf.StateTimedOut
	default:
		return false
	}
}

// nextResponse computes the response after an event: fields given by the
// event win, everything else is carried over, and rollback clears the verdict.
func nextResponse(current domainwf.Response, eventType domainwf.EventType, details EventDetails, now time.Time) domainwf.Response {
	switch eventType {
	case domainwf.EventActionSubmitted:
		next := current
		next.Decision = details.Decision
		if details.Comments != nil {
			c := *details.Comments
			next.Comments = &c
		}
		submittedAt := now
		if details.SubmittedAt != nil {
			submittedAt = details.SubmittedAt.UTC()
		}
		next.SubmittedAt = &submittedAt
		return next
	case domainwf.EventActionRolledBack:
		return domainwf.Response{Decision: domainwf.DecisionPending}
	default:
		return current
	}
}
