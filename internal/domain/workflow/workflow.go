package workflow

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Workflow is the aggregate root: one approval request with its state, context and audit trail
type Workflow struct {
	ID           string    `json:"workflowId"`
	CurrentState State     `json:"currentState"`
	Context      Context   `json:"contextData"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Decision returns the currently recorded human decision
func (w *Workflow) Decision() Decision {
	return w.Context.HumanInteraction.Response.Decision
}

// Clone returns a deep copy of the workflow
func (w *Workflow) Clone() *Workflow {
	out := *w
	out.Context = w.Context.clone()
	return &out
}

// Validate checks the context shape and the state/decision invariants.
// Stores call it before every write.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidContext)
	}
	if !w.CurrentState.IsValid() {
		return fmt.Errorf("%w: state %q", ErrInvalidState, w.CurrentState)
	}
	if err := validate.Struct(&w.Context); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContext, err)
	}

	decision := w.Decision()
	switch w.CurrentState {
	case StateRequested, StateTimedOut:
		if decision != DecisionPending {
			return fmt.Errorf("%w: state %s requires decision %s, got %s",
				ErrInvalidContext, w.CurrentState, DecisionPending, decision)
		}
	case StateHumanActionCompleted:
		if !decision.IsFinal() {
			return fmt.Errorf("%w: state %s requires a final decision, got %s",
				ErrInvalidContext, w.CurrentState, decision)
		}
	}

	return nil
}
