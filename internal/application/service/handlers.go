package service

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/garyjia/hitl-workflow/internal/application/dispatcher"
	"github.com/garyjia/hitl-workflow/internal/application/port"
	"github.com/garyjia/hitl-workflow/internal/domain/event"
	domainwf "github.com/garyjia/hitl-workflow/internal/domain/workflow"
	"github.com/garyjia/hitl-workflow/pkg/utils"
)

// HandlerDeps holds the collaborators of the built-in event handlers
type HandlerDeps struct {
	Notifiers []port.ChannelNotifier
	Sink      port.NotificationSink
	// DecisionRecipient receives decision emails when the request data has no email address
	DecisionRecipient string
	Logger            Logger
}

type eventHandlers struct {
	notifiers         map[domainwf.Channel]port.ChannelNotifier
	sink              port.NotificationSink
	decisionRecipient string
	logger            Logger
}

// NewHandlers returns one handler per event type, ready for dispatcher.NewRegistry
func NewHandlers(deps HandlerDeps) []dispatcher.HandlerInfo {
	h := &eventHandlers{
		notifiers:         make(map[domainwf.Channel]port.ChannelNotifier, len(deps.Notifiers)),
		sink:              deps.Sink,
		decisionRecipient: deps.DecisionRecipient,
		logger:            deps.Logger,
	}
	for _, n := range deps.Notifiers {
		h.notifiers[n.Channel()] = n
	}

	return []dispatcher.HandlerInfo{
		{
			Name:        "notify-recipient",
			EventType:   domainwf.EventInteractionRequested,
			Handler:     h.handleInteractionRequested,
			Description: "Tells the recipient a decision is needed, on their channel",
		},
		{
			Name:        "decision-email",
			EventType:   domainwf.EventActionSubmitted,
			Handler:     h.handleActionSubmitted,
			Description: "Emails the outcome of the decision",
		},
		{
			Name:        "renotify-recipient",
			EventType:   domainwf.EventActionRolledBack,
			Handler:     h.handleActionRolledBack,
			Description: "Tells the recipient the request awaits a decision again",
		},
		{
			Name:        "timeout-log",
			EventType:   domainwf.EventInteractionTimedOut,
			Handler:     h.handleInteractionTimedOut,
			Description: "Records that the request expired without a decision",
		},
	}
}

func (h *eventHandlers) handleInteractionRequested(ctx context.Context, cmd *event.Command, wf *domainwf.Workflow) error {
	return h.notifyRecipient(ctx, wf, domainwf.EventInteractionRequested)
}

func (h *eventHandlers) handleActionRolledBack(ctx context.Context, cmd *event.Command, wf *domainwf.Workflow) error {
	return h.notifyRecipient(ctx, wf, domainwf.EventActionRolledBack)
}

func (h *eventHandlers) notifyRecipient(ctx context.Context, wf *domainwf.Workflow, reason domainwf.EventType) error {
	recipient := wf.Context.HumanInteraction.Recipient

	notifier, ok := h.notifiers[recipient.Channel]
	if !ok {
		h.logger.Error("No notifier for channel",
			"workflow_id", wf.ID,
			"channel", recipient.Channel,
		)
		return fmt.Errorf("%w: %s", domainwf.ErrChannelUnsupported, recipient.Channel)
	}

	if err := notifier.Notify(ctx, wf, reason); err != nil {
		h.logger.Error("Failed to notify recipient",
			"workflow_id", wf.ID,
			"user_id", recipient.UserID,
			"channel", recipient.Channel,
			"error", err,
		)
		return fmt.Errorf("%w: %w", domainwf.ErrNotificationFailed, err)
	}

	h.logger.Info("Recipient notified",
		"workflow_id", wf.ID,
		"user_id", recipient.UserID,
		"channel", recipient.Channel,
		"reason", reason,
	)
	return nil
}

func (h *eventHandlers) handleActionSubmitted(ctx context.Context, cmd *event.Command, wf *domainwf.Workflow) error {
	to := h.decisionAddress(wf)
	if to == "" {
		h.logger.Error("No address for decision email", "workflow_id", wf.ID)
		return fmt.Errorf("%w: no recipient address for workflow %s", domainwf.ErrNotificationFailed, wf.ID)
	}

	n := BuildDecisionNotification(wf, to)
	if err := h.sink.Send(ctx, n); err != nil {
		h.logger.Error("Failed to send decision email",
			"workflow_id", wf.ID,
			"to", to,
			"error", err,
		)
		return fmt.Errorf("%w: %w", domainwf.ErrNotificationFailed, err)
	}

	h.logger.Info("Decision email sent",
		"workflow_id", wf.ID,
		"to", to,
		"decision", wf.Decision(),
	)
	return nil
}

func (h *eventHandlers) handleInteractionTimedOut(ctx context.Context, cmd *event.Command, wf *domainwf.Workflow) error {
	h.logger.Info("Human interaction timed out",
		"workflow_id", wf.ID,
		"user_id", wf.Context.HumanInteraction.Recipient.UserID,
		"deadline", wf.Context.HumanInteraction.Deadline,
	)
	return nil
}

// decisionAddress prefers an address captured in the request over the configured fallback
func (h *eventHandlers) decisionAddress(wf *domainwf.Workflow) string {
	if name := strings.TrimSpace(wf.Context.UIString("employeeName")); utils.IsEmail(name) {
		return name
	}
	return h.decisionRecipient
}

// BuildDecisionNotification renders the decision outcome message
func BuildDecisionNotification(wf *domainwf.Workflow, to string) *port.Notification {
	verdict := "approved"
	if wf.Decision() == domainwf.DecisionRejected {
		verdict = "denied"
	}

	name := wf.Context.UIString("employeeName")
	amount := FormatINR(wf.Context.UIFloat("amount"))
	reason := wf.Context.UIString("reason")
	approver := wf.Context.HumanInteraction.Recipient.UserID

	notes := ""
	if c := wf.Context.HumanInteraction.Response.Comments; c != nil {
		notes = strings.TrimSpace(*c)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Hello %s,\n\n", name)
	fmt.Fprintf(&text, "Your expense request for %s (%s) was %s by %s.\n", amount, reason, verdict, approver)
	if notes != "" {
		fmt.Fprintf(&text, "Notes: %s\n", notes)
	}
	fmt.Fprintf(&text, "\nWorkflow ID: %s\n", wf.ID)

	var body strings.Builder
	fmt.Fprintf(&body, "<p>Hello %s,</p>", html.EscapeString(name))
	fmt.Fprintf(&body, "<p>Your expense request for <strong>%s</strong> (%s) was <strong>%s</strong> by %s.</p>",
		html.EscapeString(amount), html.EscapeString(reason), verdict, html.EscapeString(approver))
	if notes != "" {
		fmt.Fprintf(&body, "<p>Notes: %s</p>", html.EscapeString(notes))
	}
	fmt.Fprintf(&body, "<p>Workflow ID: %s</p>", html.EscapeString(wf.ID))

	return &port.Notification{
		To:      to,
		Subject: fmt.Sprintf("Expense request %s", verdict),
		Text:    text.String(),
		HTML:    body.String(),
	}
}

// FormatINR renders an amount with the rupee sign and no trailing zeros
func FormatINR(amount float64) string {
	return "₹" + strconv.FormatFloat(amount, 'f', -1, 64)
}
