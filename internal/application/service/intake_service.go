package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/hitl-workflow/internal/application/dispatcher"
	"github.com/garyjia/hitl-workflow/internal/application/port"
	appwf "github.com/garyjia/hitl-workflow/internal/application/workflow"
	"github.com/garyjia/hitl-workflow/internal/domain/event"
	domainwf "github.com/garyjia/hitl-workflow/internal/domain/workflow"
	"github.com/garyjia/hitl-workflow/pkg/utils"
)

const (
	// ReplyExtractionFailed is sent when the extraction service cannot be used
	ReplyExtractionFailed = "I'm sorry, I'm having trouble understanding. Could you please provide the name, amount, and reason for your expense?"

	// ReplyMissingFields is sent when extraction is incomplete and offers no question of its own
	ReplyMissingFields = "Could you please provide the name, amount, and reason for your expense?"
)

// IntakeConfig holds the fixed parameters of workflows opened by the bot
type IntakeConfig struct {
	AgentID        string
	Approver       domainwf.Recipient
	ResponseWindow time.Duration
	// MaxAmount caps a single request in INR; zero means no cap
	MaxAmount float64
}

// IntakeReply is the bot's answer to one user message
type IntakeReply struct {
	Message    string `json:"message"`
	WorkflowID string `json:"workflowId,omitempty"`
}

// IntakeService bridges free-text expense requests to new approval workflows
type IntakeService interface {
	HandleMessage(ctx context.Context, message string, history []port.ChatMessage) (*IntakeReply, error)
}

type intakeServiceImpl struct {
	extractor port.Extractor
	engine    appwf.Engine
	publisher dispatcher.Publisher
	cfg       IntakeConfig
	now       func() time.Time
	logger    Logger
}

// NewIntakeService creates a new IntakeService
func NewIntakeService(
	extractor port.Extractor,
	engine appwf.Engine,
	publisher dispatcher.Publisher,
	cfg IntakeConfig,
	logger Logger,
) IntakeService {
	return &intakeServiceImpl{
		extractor: extractor,
		engine:    engine,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// HandleMessage extracts the request fields and opens a workflow once all are known.
// Extraction problems become a reply to the user, never an error.
func (s *intakeServiceImpl) HandleMessage(ctx context.Context, message string, history []port.ChatMessage) (*IntakeReply, error) {
	result, err := s.extractor.Extract(ctx, message, history)
	if err != nil {
		s.logger.Error("Extraction failed", "error", err)
		return &IntakeReply{Message: ReplyExtractionFailed}, nil
	}

	if result.Status != port.ExtractionComplete || !hasRequiredFields(result) {
		if strings.TrimSpace(result.ReplyMessage) == "" {
			return &IntakeReply{Message: ReplyMissingFields}, nil
		}
		return &IntakeReply{Message: result.ReplyMessage}, nil
	}

	amount, ok := ToINR(result.Amount, result.Currency)
	if !ok {
		s.logger.Info("Unsupported currency in request", "currency", result.Currency)
		return &IntakeReply{
			Message: fmt.Sprintf("I can't convert %s to INR. Could you give the amount in INR or USD?", result.Currency),
		}, nil
	}
	if err := utils.ValidateAmount(amount, s.cfg.MaxAmount); err != nil {
		s.logger.Info("Request amount rejected", "amount_inr", amount, "error", err)
		return &IntakeReply{
			Message: fmt.Sprintf("%s is above the %s limit for a single request. Please split it or contact finance.",
				FormatINR(amount), FormatINR(s.cfg.MaxAmount)),
		}, nil
	}

	name := utils.SanitizeString(result.Name)
	reason := utils.SanitizeString(result.Reason)

	wf, err := s.engine.CreateWorkflow(ctx, appwf.CreateRequest{
		WorkflowType: appwf.TypeExpenseApproval,
		Initiator: domainwf.Initiator{
			Type:    domainwf.InitiatorAIAgent,
			AgentID: s.cfg.AgentID,
		},
		UISchema:  appwf.ExpenseApprovalSchema(),
		UIData:    appwf.ExpenseApprovalData(name, amount, reason),
		Recipient: s.cfg.Approver,
		Deadline:  s.now().Add(s.cfg.ResponseWindow),
	})
	if err != nil {
		s.logger.Error("Failed to create workflow", "error", err)
		return nil, fmt.Errorf("create workflow: %w", err)
	}

	cmd := event.NewCommand(wf.ID, domainwf.EventInteractionRequested, wf.CurrentState, s.cfg.AgentID)
	if err := s.publisher.Publish(ctx, cmd); err != nil {
		// The workflow exists; the sweeper republishes requests whose notification never ran
		s.logger.Error("Failed to publish interaction request", "workflow_id", wf.ID, "error", err)
	}

	s.logger.Info("Expense workflow started",
		"workflow_id", wf.ID,
		"employee", name,
		"amount_inr", amount,
	)

	return &IntakeReply{
		Message: fmt.Sprintf("I've started the expense approval workflow for %s. Amount: %s for %s. Your workflow ID is %s.",
			name, FormatINR(amount), reason, wf.ID),
		WorkflowID: wf.ID,
	}, nil
}

func hasRequiredFields(r *port.ExtractionResult) bool {
	return strings.TrimSpace(r.Name) != "" &&
		utils.ValidateAmount(r.Amount, 0) == nil &&
		strings.TrimSpace(r.Reason) != ""
}
