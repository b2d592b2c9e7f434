package notification

import (
	"context"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/application/port"
	"github.com/garyjia/hitl-workflow/internal/domain/workflow"
	"github.com/garyjia/hitl-workflow/pkg/utils"
)

// PortalNotifier serves the web_portal channel. The portal polls the store
// for pending work, so notifying only records that the item is waiting.
type PortalNotifier struct {
	baseURL string
	logger  *zap.Logger
}

// NewPortalNotifier creates the web_portal notifier
func NewPortalNotifier(baseURL string, logger *zap.Logger) *PortalNotifier {
	return &PortalNotifier{baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// Channel implements port.ChannelNotifier
func (n *PortalNotifier) Channel() workflow.Channel { return workflow.ChannelWebPortal }

// Notify implements port.ChannelNotifier
func (n *PortalNotifier) Notify(ctx context.Context, wf *workflow.Workflow, reason workflow.EventType) error {
	n.logger.Info("Workflow awaiting decision in portal",
		zap.String("workflow_id", wf.ID),
		zap.String("user_id", wf.Context.HumanInteraction.Recipient.UserID),
		zap.String("reason", string(reason)),
		zap.String("url", reviewURL(n.baseURL, wf.ID)),
		zap.Time("deadline", wf.Context.HumanInteraction.Deadline))
	return nil
}

// EmailNotifier serves the email channel: the recipient's user id is their address
type EmailNotifier struct {
	sink    port.NotificationSink
	baseURL string
}

// NewEmailNotifier creates the email notifier
func NewEmailNotifier(sink port.NotificationSink, portalBaseURL string) *EmailNotifier {
	return &EmailNotifier{sink: sink, baseURL: strings.TrimRight(portalBaseURL, "/")}
}

// Channel implements port.ChannelNotifier
func (n *EmailNotifier) Channel() workflow.Channel { return workflow.ChannelEmail }

// Notify implements port.ChannelNotifier
func (n *EmailNotifier) Notify(ctx context.Context, wf *workflow.Workflow, reason workflow.EventType) error {
	to := strings.TrimSpace(wf.Context.HumanInteraction.Recipient.UserID)
	if err := utils.ValidateEmail(to); err != nil {
		return fmt.Errorf("recipient is not an email address: %w", err)
	}
	return n.sink.Send(ctx, BuildReviewRequest(wf, to, reason, n.baseURL))
}

// UnsupportedNotifier stands in for channels that are accepted in a context
// but have no delivery path yet
type UnsupportedNotifier struct {
	channel workflow.Channel
}

// NewUnsupportedNotifier creates a notifier that always fails with ErrChannelUnsupported
func NewUnsupportedNotifier(channel workflow.Channel) *UnsupportedNotifier {
	return &UnsupportedNotifier{channel: channel}
}

// Channel implements port.ChannelNotifier
func (n *UnsupportedNotifier) Channel() workflow.Channel { return n.channel }

// Notify implements port.ChannelNotifier
func (n *UnsupportedNotifier) Notify(ctx context.Context, wf *workflow.Workflow, reason workflow.EventType) error {
	return fmt.Errorf("%w: %s", workflow.ErrChannelUnsupported, n.channel)
}

// BuildReviewRequest renders the "decision needed" message for a recipient
func BuildReviewRequest(wf *workflow.Workflow, to string, reason workflow.EventType, baseURL string) *port.Notification {
	subject := "Action required: expense approval"
	intro := "A new expense request is waiting for your decision."
	if reason == workflow.EventActionRolledBack {
		subject = "Action required again: expense approval"
		intro = "An expense request was reopened and is waiting for your decision."
	}

	name := wf.Context.UIString("employeeName")
	reasonText := wf.Context.UIString("reason")
	amount := wf.Context.UIFloat("amount")
	deadline := wf.Context.HumanInteraction.Deadline.UTC().Format("2006-01-02 15:04 MST")
	url := reviewURL(baseURL, wf.ID)

	text := fmt.Sprintf("%s\n\nEmployee: %s\nAmount: ₹%g\nReason: %s\nDecide before: %s\n\n%s\n",
		intro, name, amount, reasonText, deadline, url)

	body := fmt.Sprintf("<p>%s</p><ul><li>Employee: %s</li><li>Amount: ₹%g</li><li>Reason: %s</li><li>Decide before: %s</li></ul><p><a href=\"%s\">Review request</a></p>",
		html.EscapeString(intro), html.EscapeString(name), amount, html.EscapeString(reasonText),
		deadline, html.EscapeString(url))

	return &port.Notification{To: to, Subject: subject, Text: text, HTML: body}
}

func reviewURL(baseURL, id string) string {
	return baseURL + "/workflows/" + id
}

var (
	_ port.ChannelNotifier = (*PortalNotifier)(nil)
	_ port.ChannelNotifier = (*EmailNotifier)(nil)
	_ port.ChannelNotifier = (*UnsupportedNotifier)(nil)
)
