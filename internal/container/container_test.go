package container

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appwf "github.com/garyjia/hitl-workflow/internal/application/workflow"
	"github.com/garyjia/hitl-workflow/internal/domain/event"
	domainwf "github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

func testConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "workflows.db")
	cfg.Intake.Approver = domainwf.Recipient{UserID: "manager_1", Channel: domainwf.ChannelWebPortal}
	cfg.Queue.Policy.RetryDelay = 10 * time.Millisecond
	cfg.Queue.Worker.RateLimit = 0
	cfg.Sweeper.Enabled = false
	return cfg
}

func createWorkflow(t *testing.T, engine appwf.Engine) *domainwf.Workflow {
	wf, err := engine.CreateWorkflow(context.Background(), appwf.CreateRequest{
		WorkflowType: appwf.TypeExpenseApproval,
		Initiator:    domainwf.Initiator{Type: domainwf.InitiatorAIAgent, AgentID: "expense_bot"},
		UISchema:     appwf.ExpenseApprovalSchema(),
		UIData:       appwf.ExpenseApprovalData("Asha", 1200, "Team lunch"),
		Recipient:    domainwf.Recipient{UserID: "manager_1", Channel: domainwf.ChannelWebPortal},
		Deadline:     time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return wf
}

func TestNewContainer_Validation(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewContainer(DefaultConfig(), nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Intake.Approver.UserID = "manager_1"
	cfg.Queue.Driver = "kafka"
	_, err = NewContainer(cfg, zap.NewNop())
	assert.ErrorContains(t, err, "unknown queue driver")
}

func TestContainer_StartRequiresOpenAIKeyForIntake(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop(), WithoutWorkers())
	require.NoError(t, err)

	err = c.Start(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "openai api key")
	assert.False(t, c.Ready())
}

func TestContainer_QueuedCommandsReachTheEngine(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop(), WithoutIntake())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	assert.True(t, c.Ready())
	assert.Nil(t, c.Intake())
	assert.Len(t, c.Registry().ListHandlers(), 4)

	health := c.Health(context.Background())
	assert.True(t, health.Overall)
	assert.True(t, health.Components["database"].Healthy)

	wf := createWorkflow(t, c.Engine())
	cmd := event.NewCommand(wf.ID, domainwf.EventInteractionRequested, domainwf.StateRequested, "expense_bot")
	require.NoError(t, c.Publisher().Publish(context.Background(), cmd))

	require.Eventually(t, func() bool {
		got, err := c.Engine().GetWorkflow(context.Background(), wf.ID)
		return err == nil && got.Context.HasEvent(domainwf.EventInteractionRequested)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestContainer_InlineCommands(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop(), WithoutIntake(), WithoutWorkers(), WithInlineCommands())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	wf := createWorkflow(t, c.Engine())
	cmd := event.NewCommand(wf.ID, domainwf.EventActionSubmitted, domainwf.StateHumanActionCompleted, "manager_1").
		WithDecision(domainwf.DecisionApproved, nil)
	require.NoError(t, c.Publisher().Publish(context.Background(), cmd))

	got, err := c.Engine().GetWorkflow(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateHumanActionCompleted, got.CurrentState)
	assert.Equal(t, domainwf.DecisionApproved, got.Decision())

	_, hasWorkers := c.Health(context.Background()).Components["workers"]
	assert.False(t, hasWorkers)
}

func TestContainer_CloseTwice(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop(), WithoutIntake(), WithoutWorkers())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.Close())
	assert.Error(t, c.Close())
	assert.Error(t, c.Start(context.Background()))
}
