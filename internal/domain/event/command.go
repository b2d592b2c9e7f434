package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

// Command is the instruction carried by the queue to advance one workflow.
// The JSON shape is the wire format shared with the portal and the queue.
type Command struct {
	ID          string             `json:"id,omitempty"`
	WorkflowID  string             `json:"workflowId"`
	EventType   workflow.EventType `json:"eventType"`
	State       workflow.State     `json:"state,omitempty"`
	InitiatedBy string             `json:"initiatedBy,omitempty"`
	Decision    string             `json:"decision,omitempty"`
	Notes       *string            `json:"notes,omitempty"`
	SubmittedAt *time.Time         `json:"submittedAt,omitempty"`
	IssuedAt    time.Time          `json:"issuedAt"`
}

// NewCommand creates a command with a generated message id and issue time
func NewCommand(workflowID string, eventType workflow.EventType, state workflow.State, initiatedBy string) *Command {
	return &Command{
		ID:          uuid.NewString(),
		WorkflowID:  workflowID,
		EventType:   eventType,
		State:       state,
		InitiatedBy: initiatedBy,
		IssuedAt:    time.Now().UTC(),
	}
}

// WithDecision returns a copy of the command carrying a decision and optional notes
func (c *Command) WithDecision(decision workflow.Decision, notes *string) *Command {
	out := *c
	out.Decision = string(decision)
	out.Notes = notes
	return &out
}

// ParsedDecision maps the wire decision to a domain decision.
// Portal verbs (APPROVE, DENY) and stored values (APPROVED, REJECTED) are both accepted.
func (c *Command) ParsedDecision() (workflow.Decision, error) {
	return ParseDecision(c.Decision)
}

// Validate checks the fields every command needs. Unknown event types are left
// to the handler registry so they surface as ErrUnknownEventType.
func (c *Command) Validate() error {
	if strings.TrimSpace(c.WorkflowID) == "" {
		return fmt.Errorf("%w: workflowId is required", workflow.ErrInvalidCommand)
	}
	if c.EventType == "" {
		return fmt.Errorf("%w: eventType is required", workflow.ErrInvalidCommand)
	}

	decision, err := c.ParsedDecision()
	if err != nil {
		return err
	}
	if c.EventType == workflow.EventActionSubmitted && !decision.IsFinal() {
		return fmt.Errorf("%w: %s requires decision APPROVE or DENY", workflow.ErrInvalidCommand, c.EventType)
	}

	return nil
}

// ParseDecision maps a decision string to a domain decision; empty stays empty
func ParseDecision(s string) (workflow.Decision, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "APPROVE", "APPROVED":
		return workflow.DecisionApproved, nil
	case "DENY", "DENIED", "REJECT", "REJECTED":
		return workflow.DecisionRejected, nil
	case "PENDING":
		return workflow.DecisionPending, nil
	default:
		return "", fmt.Errorf("%w: unknown decision %q", workflow.ErrInvalidCommand, s)
	}
}
