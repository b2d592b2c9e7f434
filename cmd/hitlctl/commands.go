package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/garyjia/hitl-workflow/internal/application/port"
	appwf "github.com/garyjia/hitl-workflow/internal/application/workflow"
	"github.com/garyjia/hitl-workflow/internal/domain/event"
	domainwf "github.com/garyjia/hitl-workflow/internal/domain/workflow"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/hitl-workflow/pkg/database"
)

// stdout is swapped in tests
var stdout io.Writer = os.Stdout

// ListCmd prints a table of workflows
type ListCmd struct {
	State string `help:"Only workflows in this state."`
	Limit int    `help:"Maximum rows." default:"50"`
}

func (c *ListCmd) Run(g *Globals) error {
	ctx := context.Background()
	s, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	workflows, err := s.Engine().ListWorkflows(ctx, port.WorkflowFilter{
		State: domainwf.State(c.State),
		Limit: c.Limit,
	})
	if err != nil {
		return err
	}

	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		}).
		Headers("ID", "STATE", "DECISION", "EMPLOYEE", "AMOUNT", "DEADLINE")
	for _, wf := range workflows {
		tbl.Row(
			wf.ID,
			string(wf.CurrentState),
			string(wf.Decision()),
			wf.Context.UIString("employeeName"),
			fmt.Sprintf("%.2f", wf.Context.UIFloat("amount")),
			wf.Context.HumanInteraction.Deadline.Format(time.RFC3339),
		)
	}

	_, err = fmt.Fprintln(stdout, tbl.Render())
	return err
}

// ShowCmd prints one workflow
type ShowCmd struct {
	ID string `arg:"" help:"Workflow id."`
}

func (c *ShowCmd) Run(g *Globals) error {
	ctx := context.Background()
	s, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	wf, err := s.Engine().GetWorkflow(ctx, c.ID)
	if err != nil {
		return err
	}
	return writeJSON(wf)
}

// SweepCmd runs the timeout sweep once
type SweepCmd struct{}

func (c *SweepCmd) Run(g *Globals) error {
	ctx := context.Background()
	s, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	result, err := s.Sweeper().Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "timed out: %d, republished: %d\n", result.TimedOut, result.Republished)
	return nil
}

// SubmitCmd records a decision
type SubmitCmd struct {
	ID       string `arg:"" help:"Workflow id."`
	Decision string `required:"" enum:"APPROVE,DENY" help:"APPROVE or DENY."`
	Notes    string `help:"Reviewer notes; required with DENY."`
	By       string `help:"Who decided." default:"cli_user"`
}

func (c *SubmitCmd) Run(g *Globals) error {
	if c.Decision == "DENY" && strings.TrimSpace(c.Notes) == "" {
		return fmt.Errorf("--notes is required when denying a request")
	}
	decision, err := event.ParseDecision(c.Decision)
	if err != nil {
		return err
	}

	var notes *string
	if c.Notes != "" {
		notes = &c.Notes
	}
	cmd := event.NewCommand(c.ID, domainwf.EventActionSubmitted, domainwf.StateHumanActionCompleted, c.By).
		WithDecision(decision, notes)
	submittedAt := cmd.IssuedAt
	cmd.SubmittedAt = &submittedAt

	return process(g, cmd)
}

// RollbackCmd withdraws a recorded decision
type RollbackCmd struct {
	ID string `arg:"" help:"Workflow id."`
	By string `help:"Who rolled back." default:"cli_user"`
}

func (c *RollbackCmd) Run(g *Globals) error {
	return process(g, event.NewCommand(c.ID, domainwf.EventActionRolledBack, domainwf.StateRequested, c.By))
}

func process(g *Globals, cmd *event.Command) error {
	ctx := context.Background()
	s, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	outcome, err := s.Commands().Process(ctx, cmd)
	if err != nil {
		return err
	}
	printOutcome(outcome)
	return nil
}

func printOutcome(o *appwf.Outcome) {
	if !o.Applied {
		fmt.Fprintf(stdout, "%s already in %s, nothing changed\n", o.Workflow.ID, o.NewState)
		return
	}
	fmt.Fprintf(stdout, "%s: %s -> %s\n", o.Workflow.ID, o.PreviousState, o.NewState)
}

// ExportCmd writes the spreadsheet report
type ExportCmd struct {
	Out   string `short:"o" help:"Output file." default:"workflows.xlsx" type:"path"`
	State string `help:"Only workflows in this state."`
}

func (c *ExportCmd) Run(g *Globals) error {
	ctx := context.Background()
	s, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	workflows, err := s.Engine().ListWorkflows(ctx, port.WorkflowFilter{State: domainwf.State(c.State)})
	if err != nil {
		return err
	}

	f, err := os.Create(c.Out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", c.Out, err)
	}
	if err := s.Exporter().Export(ctx, f, workflows); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "wrote %d workflows to %s\n", len(workflows), c.Out)
	return nil
}

// MigrateCmd applies migrations without starting anything else
type MigrateCmd struct{}

func (c *MigrateCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	logger, err := g.logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	db, err := database.New(cfg.ToContainerConfig().Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := sqlite.Migrate(ctx, db, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "applied %d migrations to %s\n", applied, cfg.Database.Path)
	return nil
}

func writeJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
