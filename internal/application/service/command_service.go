package service

import (
	"context"
	"fmt"

	"github.com/garyjia/hitl-workflow/internal/application/dispatcher"
	appwf "github.com/garyjia/hitl-workflow/internal/application/workflow"
	"github.com/garyjia/hitl-workflow/internal/domain/event"
	domainwf "github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

// CommandService turns delivered commands into engine transitions and runs
// the registered side effect once the transition is committed.
type CommandService interface {
	Process(ctx context.Context, cmd *event.Command) (*appwf.Outcome, error)
}

type commandServiceImpl struct {
	engine   appwf.Engine
	registry dispatcher.Registry
	logger   Logger
}

// NewCommandService creates a new CommandService
func NewCommandService(engine appwf.Engine, registry dispatcher.Registry, logger Logger) CommandService {
	return &commandServiceImpl{
		engine:   engine,
		registry: registry,
		logger:   logger,
	}
}

// Process applies the command and, if it changed the workflow, runs its handler.
// Errors from the transition are returned unchanged for classification;
// handler failures are logged and never undo the transition.
func (s *commandServiceImpl) Process(ctx context.Context, cmd *event.Command) (*appwf.Outcome, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: nil command", domainwf.ErrInvalidCommand)
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	// Reject before touching the store so an unhandled event never lands in the log
	if !s.registry.Has(cmd.EventType) {
		return nil, fmt.Errorf("%w: %s", domainwf.ErrUnknownEventType, cmd.EventType)
	}

	decision, err := cmd.ParsedDecision()
	if err != nil {
		return nil, err
	}

	outcome, err := s.engine.ApplyEvent(ctx, cmd.WorkflowID, cmd.EventType, appwf.EventDetails{
		InitiatedBy: cmd.InitiatedBy,
		Decision:    decision,
		Comments:    cmd.Notes,
		SubmittedAt: cmd.SubmittedAt,
	})
	if err != nil {
		s.logger.Error("Command rejected",
			"command_id", cmd.ID,
			"workflow_id", cmd.WorkflowID,
			"event_type", cmd.EventType,
			"error", err,
		)
		return nil, err
	}

	switch {
	case outcome.Applied:
		s.logger.Info("Workflow transitioned",
			"workflow_id", cmd.WorkflowID,
			"event_type", cmd.EventType,
			"from", outcome.PreviousState,
			"to", outcome.NewState,
		)
	case outcome.EffectPending:
		s.logger.Info("Command already applied, resuming unfinished side effect",
			"command_id", cmd.ID,
			"workflow_id", cmd.WorkflowID,
			"event_type", cmd.EventType,
		)
	default:
		s.logger.Info("Command already applied, skipping side effects",
			"command_id", cmd.ID,
			"workflow_id", cmd.WorkflowID,
			"event_type", cmd.EventType,
			"state", outcome.NewState,
		)
		return outcome, nil
	}

	if err := s.registry.Handle(ctx, cmd, outcome.Workflow); err != nil {
		// Left pending so a redelivery retries it
		s.logger.Error("Side effect failed after commit",
			"workflow_id", cmd.WorkflowID,
			"event_type", cmd.EventType,
			"error", err,
		)
		return outcome, nil
	}

	if err := s.engine.CompleteEffect(ctx, cmd.WorkflowID, cmd.EventType); err != nil {
		s.logger.Error("Failed to record completed side effect",
			"workflow_id", cmd.WorkflowID,
			"event_type", cmd.EventType,
			"error", err,
		)
	}

	return outcome, nil
}
