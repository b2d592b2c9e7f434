package port

import (
	"context"
	"time"

	"github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

// WorkflowFilter narrows List results; zero values match everything
type WorkflowFilter struct {
	State          workflow.State
	DeadlineBefore *time.Time
	DeadlineAfter  *time.Time
	CreatedBefore  *time.Time
	// WithoutEvent keeps only workflows whose event log has no entry of this type
	WithoutEvent workflow.EventType
	Limit        int
}

// WorkflowRepository is the durable keyed store for workflow aggregates.
// It is the only shared mutable resource in the engine.
type WorkflowRepository interface {
	// Create inserts a new workflow; ID, state and context are written in one statement
	Create(ctx context.Context, wf *workflow.Workflow) error

	// GetByID returns workflow.ErrNotFound when the id is unknown
	GetByID(ctx context.Context, id string) (*workflow.Workflow, error)

	// Update writes state, context and updatedAt if the stored version still equals wf.Version.
	// On success wf.Version is incremented; a stale version yields workflow.ErrConflict.
	Update(ctx context.Context, wf *workflow.Workflow) error

	// List returns workflows ordered by creation time, newest first
	List(ctx context.Context, filter WorkflowFilter) ([]*workflow.Workflow, error)

	// Ping checks that the store is reachable
	Ping(ctx context.Context) error
}
