package workflow

import (
	"context"

	domainwf "github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

// TypeExpenseApproval is the workflow type created by the expense intake bot
const TypeExpenseApproval = "EXPENSE_APPROVAL"

// Definitions maps a workflow type to the state machine that governs it
type Definitions map[string]domainwf.StateMachine

// DefaultDefinitions returns the workflow types known to the engine
func DefaultDefinitions() Definitions {
	return Definitions{
		TypeExpenseApproval: BuildApprovalStateMachine(),
	}
}

// Lookup returns the machine for a workflow type
func (d Definitions) Lookup(workflowType string) (domainwf.StateMachine, bool) {
	m, ok := d[workflowType]
	return m, ok
}

func decisionPending(_ context.Context, wf *domainwf.Workflow) bool {
	return wf.Decision() == domainwf.DecisionPending
}

func decisionRecorded(_ context.Context, wf *domainwf.Workflow) bool {
	return wf.Decision() != domainwf.DecisionPending
}

// BuildApprovalStateMachine creates the single linear approval machine
func BuildApprovalStateMachine() domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	// REQUESTED: notification, decision and timeout all need an open request
	builder.Configure(domainwf.StateRequested).
		PermitIf(domainwf.EventInteractionRequested, domainwf.StateRequested, decisionPending).
		PermitIf(domainwf.EventActionSubmitted, domainwf.StateHumanActionCompleted, decisionPending).
		PermitIf(domainwf.EventInteractionTimedOut, domainwf.StateTimedOut, decisionPending)

	// HUMAN_ACTION_COMPLETED: a recorded decision can be withdrawn
	builder.Configure(domainwf.StateHumanActionCompleted).
		PermitIf(domainwf.EventActionRolledBack, domainwf.StateRequested, decisionRecorded)

	// HUMAN_INTERACTION_TIMED_OUT is terminal

	return builder.Build(domainwf.StateRequested)
}
