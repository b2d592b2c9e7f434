package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/application/port"
	"github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

// timeLayout is fixed width so stored timestamps compare correctly as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// WorkflowRepository implements port.WorkflowRepository on SQLite
type WorkflowRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sql.DB, logger *zap.Logger) *WorkflowRepository {
	return &WorkflowRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new workflow in a single statement
func (r *WorkflowRepository) Create(ctx context.Context, wf *workflow.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}

	contextData, err := json.Marshal(wf.Context)
	if err != nil {
		return fmt.Errorf("failed to encode workflow context: %w", err)
	}

	query := `
		INSERT INTO workflows (
			workflow_id, workflow_type, current_state, context_data,
			deadline, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		wf.ID,
		wf.Context.Metadata.WorkflowType,
		string(wf.CurrentState),
		string(contextData),
		formatTime(wf.Context.HumanInteraction.Deadline),
		wf.Version,
		formatTime(wf.CreatedAt),
		formatTime(wf.UpdatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create workflow", zap.String("workflow_id", wf.ID), zap.Error(err))
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	return nil
}

// GetByID retrieves a workflow by ID
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*workflow.Workflow, error) {
	query := `
		SELECT workflow_id, current_state, context_data, version, created_at, updated_at
		FROM workflows
		WHERE workflow_id = ?
	`

	wf, err := scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, workflow.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get workflow by ID", zap.String("workflow_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	return wf, nil
}

// Update writes the workflow if nobody else changed it since it was read.
// The version check and the write are one UPDATE statement.
func (r *WorkflowRepository) Update(ctx context.Context, wf *workflow.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}

	contextData, err := json.Marshal(wf.Context)
	if err != nil {
		return fmt.Errorf("failed to encode workflow context: %w", err)
	}

	query := `
		UPDATE workflows
		SET current_state = ?, context_data = ?, deadline = ?,
			version = version + 1, updated_at = ?
		WHERE workflow_id = ? AND version = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		string(wf.CurrentState),
		string(contextData),
		formatTime(wf.Context.HumanInteraction.Deadline),
		formatTime(wf.UpdatedAt),
		wf.ID,
		wf.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update workflow", zap.String("workflow_id", wf.ID), zap.Error(err))
		return fmt.Errorf("failed to update workflow: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		var exists int
		err := r.db.QueryRowContext(ctx, "SELECT 1 FROM workflows WHERE workflow_id = ?", wf.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("workflow %s: %w", wf.ID, workflow.ErrNotFound)
		}
		return fmt.Errorf("workflow %s at version %d: %w", wf.ID, wf.Version, workflow.ErrConflict)
	}

	wf.Version++
	return nil
}

// List returns workflows matching the filter, newest first
func (r *WorkflowRepository) List(ctx context.Context, filter port.WorkflowFilter) ([]*workflow.Workflow, error) {
	var (
		conditions []string
		args       []interface{}
	)

	if filter.State != "" {
		conditions = append(conditions, "current_state = ?")
		args = append(args, string(filter.State))
	}
	if filter.DeadlineBefore != nil {
		conditions = append(conditions, "deadline < ?")
		args = append(args, formatTime(*filter.DeadlineBefore))
	}
	if filter.DeadlineAfter != nil {
		conditions = append(conditions, "deadline > ?")
		args = append(args, formatTime(*filter.DeadlineAfter))
	}
	if filter.CreatedBefore != nil {
		conditions = append(conditions, "created_at < ?")
		args = append(args, formatTime(*filter.CreatedBefore))
	}
	if filter.WithoutEvent != "" {
		conditions = append(conditions, `NOT EXISTS (
			SELECT 1 FROM json_each(context_data, '$.eventLog')
			WHERE json_extract(value, '$.eventType') = ?
		)`)
		args = append(args, string(filter.WithoutEvent))
	}

	query := `
		SELECT workflow_id, current_state, context_data, version, created_at, updated_at
		FROM workflows
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, workflow_id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list workflows", zap.Error(err))
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*workflow.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}

	return workflows, rows.Err()
}

// Ping checks that the database answers
func (r *WorkflowRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkflow(row rowScanner) (*workflow.Workflow, error) {
	var (
		wf                   workflow.Workflow
		state, contextData   string
		createdAt, updatedAt string
	)

	if err := row.Scan(&wf.ID, &state, &contextData, &wf.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	wf.CurrentState = workflow.State(state)
	if err := json.Unmarshal([]byte(contextData), &wf.Context); err != nil {
		return nil, fmt.Errorf("%w: workflow %s: %v", workflow.ErrInvalidContext, wf.ID, err)
	}

	var err error
	if wf.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if wf.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &wf, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

var _ port.WorkflowRepository = (*WorkflowRepository)(nil)
