// Package memory holds an in-process workflow store for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/garyjia/hitl-workflow/internal/application/port"
	"github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

// WorkflowRepository keeps workflows in a map guarded by a mutex.
// Values are cloned on the way in and out so callers never share state.
type WorkflowRepository struct {
	mu        sync.RWMutex
	workflows map[string]*workflow.Workflow
}

// NewWorkflowRepository creates an empty repository
func NewWorkflowRepository() *WorkflowRepository {
	return &WorkflowRepository{
		workflows: make(map[string]*workflow.Workflow),
	}
}

// Create inserts a new workflow
func (r *WorkflowRepository) Create(ctx context.Context, wf *workflow.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workflows[wf.ID]; exists {
		return fmt.Errorf("workflow %s already exists", wf.ID)
	}
	r.workflows[wf.ID] = wf.Clone()
	return nil
}

// GetByID returns a copy of the stored workflow
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*workflow.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wf, exists := r.workflows[id]
	if !exists {
		return nil, fmt.Errorf("workflow %s: %w", id, workflow.ErrNotFound)
	}
	return wf.Clone(), nil
}

// Update replaces the stored workflow when the versions match
func (r *WorkflowRepository) Update(ctx context.Context, wf *workflow.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.workflows[wf.ID]
	if !exists {
		return fmt.Errorf("workflow %s: %w", wf.ID, workflow.ErrNotFound)
	}
	if current.Version != wf.Version {
		return fmt.Errorf("workflow %s at version %d: %w", wf.ID, wf.Version, workflow.ErrConflict)
	}

	wf.Version++
	stored := wf.Clone()
	stored.CreatedAt = current.CreatedAt
	r.workflows[wf.ID] = stored
	return nil
}

// List returns matching workflows, newest first
func (r *WorkflowRepository) List(ctx context.Context, filter port.WorkflowFilter) ([]*workflow.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*workflow.Workflow, 0, len(r.workflows))
	for _, wf := range r.workflows {
		if filter.State != "" && wf.CurrentState != filter.State {
			continue
		}
		if filter.DeadlineBefore != nil && !wf.Context.HumanInteraction.Deadline.Before(*filter.DeadlineBefore) {
			continue
		}
		if filter.DeadlineAfter != nil && !wf.Context.HumanInteraction.Deadline.After(*filter.DeadlineAfter) {
			continue
		}
		if filter.CreatedBefore != nil && !wf.CreatedAt.Before(*filter.CreatedBefore) {
			continue
		}
		if filter.WithoutEvent != "" && wf.Context.HasEvent(filter.WithoutEvent) {
			continue
		}
		result = append(result, wf.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Ping always succeeds
func (r *WorkflowRepository) Ping(ctx context.Context) error {
	return nil
}

var _ port.WorkflowRepository = (*WorkflowRepository)(nil)
