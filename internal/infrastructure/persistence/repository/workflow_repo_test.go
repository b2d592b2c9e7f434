package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/application/port"
	"github.com/garyjia/hitl-workflow/internal/domain/workflow"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/hitl-workflow/pkg/database"
)

func newTestRepo(t *testing.T) *WorkflowRepository {
	t.Helper()
	db, err := sqlite.Open(context.Background(), database.Config{Path: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWorkflowRepository(db.DB, zap.NewNop())
}

func newWorkflow(id string, created time.Time, deadline time.Time) *workflow.Workflow {
	return &workflow.Workflow{
		ID:           id,
		CurrentState: workflow.StateRequested,
		Context: workflow.Context{
			SchemaVersion: workflow.ContextSchemaVersion,
			Metadata: workflow.Metadata{
				WorkflowType: "EXPENSE_APPROVAL",
				Initiator:    workflow.Initiator{Type: workflow.InitiatorAIAgent, AgentID: "accountant_bot_v1"},
			},
			Payload: workflow.Payload{
				UIData: map[string]interface{}{"employeeName": "Alice", "amount": 5000.0, "reason": "travel"},
			},
			HumanInteraction: workflow.HumanInteraction{
				Recipient: workflow.Recipient{UserID: "manager_ravi", Channel: workflow.ChannelWebPortal},
				Deadline:  deadline,
				Response:  workflow.Response{Decision: workflow.DecisionPending},
			},
			EventLog: []workflow.LogEntry{},
		},
		Version:   1,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestWorkflowRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	created := time.Date(2025, 3, 1, 9, 0, 0, 123, time.UTC)

	wf := newWorkflow("wf-1", created, created.Add(48*time.Hour))
	require.NoError(t, repo.Create(ctx, wf))

	got, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StateRequested, got.CurrentState)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.Equal(t, "Alice", got.Context.UIString("employeeName"))
	assert.Equal(t, 5000.0, got.Context.UIFloat("amount"))
	assert.True(t, wf.Context.HumanInteraction.Deadline.Equal(got.Context.HumanInteraction.Deadline))
	assert.NotNil(t, got.Context.EventLog)

	// Duplicate ids are rejected by the primary key
	assert.Error(t, repo.Create(ctx, newWorkflow("wf-1", created, created)))
}

func TestWorkflowRepository_GetByID_NotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestWorkflowRepository_CreateRejectsInvalidContext(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now()

	wf := newWorkflow("wf-bad", now, now)
	wf.Context.HumanInteraction.Response.Decision = workflow.DecisionApproved

	err := repo.Create(context.Background(), wf)
	assert.ErrorIs(t, err, workflow.ErrInvalidContext)
}

func TestWorkflowRepository_UpdateCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, newWorkflow("wf-1", now, now.Add(time.Hour))))

	first, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	second, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)

	submitted := now.Add(time.Minute)
	first.CurrentState = workflow.StateHumanActionCompleted
	first.Context.HumanInteraction.Response = workflow.Response{Decision: workflow.DecisionApproved, SubmittedAt: &submitted}
	first.Context.EventLog = append(first.Context.EventLog, workflow.LogEntry{
		Timestamp: submitted,
		EventType: workflow.EventActionSubmitted,
		State:     workflow.StateHumanActionCompleted,
		Details:   &workflow.LogDetail{InitiatedBy: "manager_ravi", Decision: workflow.DecisionApproved},
	})
	first.UpdatedAt = submitted
	require.NoError(t, repo.Update(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.CurrentState = workflow.StateHumanActionCompleted
	second.Context.HumanInteraction.Response = workflow.Response{Decision: workflow.DecisionRejected, SubmittedAt: &submitted}
	err = repo.Update(ctx, second)
	assert.ErrorIs(t, err, workflow.ErrConflict)

	stored, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.DecisionApproved, stored.Decision())
	assert.Equal(t, int64(2), stored.Version)
	require.Len(t, stored.Context.EventLog, 1)
	assert.Equal(t, "manager_ravi", stored.Context.EventLog[0].Details.InitiatedBy)
	assert.True(t, submitted.Equal(stored.UpdatedAt))
}

func TestWorkflowRepository_UpdateNotFound(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now()

	err := repo.Update(context.Background(), newWorkflow("ghost", now, now))
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestWorkflowRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, newWorkflow("old-expired", base, base.Add(time.Hour))))
	require.NoError(t, repo.Create(ctx, newWorkflow("mid-open", base.Add(time.Minute), base.Add(72*time.Hour))))
	notified := newWorkflow("new-expired", base.Add(2*time.Minute), base.Add(90*time.Minute))
	notified.Context.EventLog = append(notified.Context.EventLog, workflow.LogEntry{
		Timestamp: base.Add(2 * time.Minute),
		EventType: workflow.EventInteractionRequested,
		State:     workflow.StateRequested,
	})
	require.NoError(t, repo.Create(ctx, notified))

	done := newWorkflow("done", base.Add(3*time.Minute), base.Add(time.Hour))
	done.CurrentState = workflow.StateTimedOut
	require.NoError(t, repo.Create(ctx, done))

	ids := func(wfs []*workflow.Workflow) []string {
		out := make([]string, 0, len(wfs))
		for _, wf := range wfs {
			out = append(out, wf.ID)
		}
		return out
	}

	cutoff := base.Add(2 * time.Hour)
	createdCutoff := base.Add(90 * time.Second)

	tests := []struct {
		name   string
		filter port.WorkflowFilter
		want   []string
	}{
		{"all newest first", port.WorkflowFilter{}, []string{"done", "new-expired", "mid-open", "old-expired"}},
		{"by state", port.WorkflowFilter{State: workflow.StateTimedOut}, []string{"done"}},
		{"expired requests", port.WorkflowFilter{State: workflow.StateRequested, DeadlineBefore: &cutoff}, []string{"new-expired", "old-expired"}},
		{"created before", port.WorkflowFilter{CreatedBefore: &createdCutoff}, []string{"mid-open", "old-expired"}},
		{"limit", port.WorkflowFilter{Limit: 2}, []string{"done", "new-expired"}},
		{"deadline after", port.WorkflowFilter{DeadlineAfter: &cutoff}, []string{"mid-open"}},
		{"without event", port.WorkflowFilter{
			State:        workflow.StateRequested,
			WithoutEvent: workflow.EventInteractionRequested,
		}, []string{"mid-open", "old-expired"}},
		{"without event before limit", port.WorkflowFilter{
			WithoutEvent: workflow.EventInteractionRequested,
			Limit:        2,
		}, []string{"done", "mid-open"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestWorkflowRepository_Ping(t *testing.T) {
	assert.NoError(t, newTestRepo(t).Ping(context.Background()))
}
