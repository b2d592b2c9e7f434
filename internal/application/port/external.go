package port

import (
	"context"
	"io"

	"github.com/garyjia/hitl-workflow/internal/domain/event"
	"github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

// ChatMessage is one turn of the conversation handed to the extractor
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExtractionStatus tells whether all required fields were found
type ExtractionStatus string

const (
	ExtractionComplete   ExtractionStatus = "complete"
	ExtractionIncomplete ExtractionStatus = "incomplete"
)

// ExtractionResult is the structured answer of the extraction service
type ExtractionResult struct {
	Status       ExtractionStatus `json:"status"`
	Name         string           `json:"name,omitempty"`
	Amount       float64          `json:"amount,omitempty"`
	Currency     string           `json:"currency,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	ReplyMessage string           `json:"replyMessage,omitempty"`
}

// Extractor turns free text plus history into structured request fields
type Extractor interface {
	Extract(ctx context.Context, message string, history []ChatMessage) (*ExtractionResult, error)
}

// Notification is one message for the notification sink
type Notification struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// NotificationSink delivers notifications; every error is treated as transient
type NotificationSink interface {
	Send(ctx context.Context, n *Notification) error
}

// ChannelNotifier tells a recipient, over one channel, that a workflow needs them
type ChannelNotifier interface {
	Channel() workflow.Channel
	Notify(ctx context.Context, wf *workflow.Workflow, reason workflow.EventType) error
}

// CommandHandler processes one delivered command. Returning a retryable error
// asks the queue to deliver the command again.
type CommandHandler func(ctx context.Context, cmd *event.Command) error

// CommandPublisher puts commands on an at-least-once queue
type CommandPublisher interface {
	Publish(ctx context.Context, cmd *event.Command) error
}

// CommandConsumer delivers queued commands to a handler until ctx is done
type CommandConsumer interface {
	Consume(ctx context.Context, handler CommandHandler) error
}

// CommandQueue is a queue that can both publish and deliver
type CommandQueue interface {
	CommandPublisher
	CommandConsumer
	Close() error
}

// WorkflowExporter writes a report of workflows to w
type WorkflowExporter interface {
	Export(ctx context.Context, w io.Writer, workflows []*workflow.Workflow) error
}
