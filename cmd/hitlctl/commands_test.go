package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appwf "github.com/garyjia/hitl-workflow/internal/application/workflow"
	domainwf "github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

func setup(t *testing.T) (*Globals, *bytes.Buffer) {
	dir := t.TempDir()
	t.Setenv("HITL_DATABASE_PATH", filepath.Join(dir, "workflows.db"))
	t.Setenv("HITL_QUEUE_DRIVER", "memory")
	t.Setenv("HITL_NOTIFICATION_SINK", "log")

	var out bytes.Buffer
	stdout = &out
	return &Globals{Config: filepath.Join(dir, "missing.yaml"), LogLevel: "error"}, &out
}

func seedWorkflow(t *testing.T, g *Globals, deadline time.Time) string {
	ctx := context.Background()
	s, err := g.open(ctx)
	require.NoError(t, err)
	defer s.close()

	wf, err := s.Engine().CreateWorkflow(ctx, appwf.CreateRequest{
		WorkflowType: appwf.TypeExpenseApproval,
		Initiator:    domainwf.Initiator{Type: domainwf.InitiatorAIAgent, AgentID: "expense_bot"},
		UISchema:     appwf.ExpenseApprovalSchema(),
		UIData:       appwf.ExpenseApprovalData("Ravi", 2500, "Client dinner"),
		Recipient:    domainwf.Recipient{UserID: "manager_1", Channel: domainwf.ChannelWebPortal},
		Deadline:     deadline,
	})
	require.NoError(t, err)
	return wf.ID
}

func TestParse(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("hitlctl"), kong.Exit(func(int) {}))
	require.NoError(t, err)

	kctx, err := parser.Parse([]string{"submit", "wf-1", "--decision", "DENY", "--notes", "over budget"})
	require.NoError(t, err)
	assert.Equal(t, "submit <id>", kctx.Command())
	assert.Equal(t, "wf-1", cli.Submit.ID)
	assert.Equal(t, "cli_user", cli.Submit.By)

	_, err = parser.Parse([]string{"submit", "wf-1", "--decision", "MAYBE"})
	assert.Error(t, err)
}

func TestMigrate(t *testing.T) {
	g, out := setup(t)

	require.NoError(t, (&MigrateCmd{}).Run(g))
	assert.Contains(t, out.String(), "applied 1 migrations")

	out.Reset()
	require.NoError(t, (&MigrateCmd{}).Run(g))
	assert.Contains(t, out.String(), "applied 0 migrations")
}

func TestSubmitDenyRequiresNotes(t *testing.T) {
	g, _ := setup(t)

	err := (&SubmitCmd{ID: "wf-1", Decision: "DENY", By: "cli_user"}).Run(g)
	assert.ErrorContains(t, err, "--notes is required")
}

func TestDecisionLifecycle(t *testing.T) {
	g, out := setup(t)
	id := seedWorkflow(t, g, time.Now().Add(time.Hour))

	require.NoError(t, (&ListCmd{Limit: 10}).Run(g))
	assert.Contains(t, out.String(), id)
	assert.Contains(t, out.String(), "Ravi")

	out.Reset()
	require.NoError(t, (&SubmitCmd{ID: id, Decision: "APPROVE", By: "manager_1"}).Run(g))
	assert.Contains(t, out.String(), "REQUESTED -> HUMAN_ACTION_COMPLETED")

	out.Reset()
	require.NoError(t, (&ShowCmd{ID: id}).Run(g))
	var shown domainwf.Workflow
	require.NoError(t, json.Unmarshal(out.Bytes(), &shown))
	assert.Equal(t, domainwf.DecisionApproved, shown.Decision())

	out.Reset()
	require.NoError(t, (&RollbackCmd{ID: id, By: "manager_1"}).Run(g))
	assert.Contains(t, out.String(), "HUMAN_ACTION_COMPLETED -> REQUESTED")

	err := (&RollbackCmd{ID: id, By: "manager_1"}).Run(g)
	assert.ErrorIs(t, err, domainwf.ErrInvalidTransition)
}

func TestListRendersTable(t *testing.T) {
	g, out := setup(t)
	id := seedWorkflow(t, g, time.Now().Add(time.Hour))

	require.NoError(t, (&ListCmd{State: string(domainwf.StateRequested), Limit: 10}).Run(g))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 5)
	assert.Contains(t, lines[1], "STATE")
	assert.Contains(t, lines[1], "EMPLOYEE")
	assert.Contains(t, out.String(), "│")
	assert.Contains(t, out.String(), id)
	assert.Contains(t, out.String(), "2500.00")
}

func TestSweepTimesOutExpired(t *testing.T) {
	g, out := setup(t)
	id := seedWorkflow(t, g, time.Now().Add(-time.Minute))

	require.NoError(t, (&SweepCmd{}).Run(g))
	assert.Contains(t, out.String(), "timed out: 1")

	out.Reset()
	require.NoError(t, (&ShowCmd{ID: id}).Run(g))
	var shown domainwf.Workflow
	require.NoError(t, json.Unmarshal(out.Bytes(), &shown))
	assert.Equal(t, domainwf.StateTimedOut, shown.CurrentState)
}

func TestExport(t *testing.T) {
	g, out := setup(t)
	seedWorkflow(t, g, time.Now().Add(time.Hour))

	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, (&ExportCmd{Out: path}).Run(g))
	assert.Contains(t, out.String(), "wrote 1 workflows")
	assert.FileExists(t, path)
}
