package dispatcher

import (
	"context"
	"fmt"

	"github.com/garyjia/hitl-workflow/internal/application/port"
	"github.com/garyjia/hitl-workflow/internal/domain/event"
)

// Publisher validates commands and hands them to the queue
type Publisher interface {
	Publish(ctx context.Context, cmd *event.Command) error
}

type publisher struct {
	queue  port.CommandPublisher
	logger Logger
}

// NewPublisher creates a publisher on top of a command queue
func NewPublisher(queue port.CommandPublisher, opts ...Option) Publisher {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return &publisher{queue: queue, logger: o.logger}
}

// Publish puts the command on the queue. Delivery is at least once.
func (p *publisher) Publish(ctx context.Context, cmd *event.Command) error {
	if cmd == nil {
		return fmt.Errorf("command cannot be nil")
	}
	if err := cmd.Validate(); err != nil {
		return err
	}

	if err := p.queue.Publish(ctx, cmd); err != nil {
		if p.logger != nil {
			p.logger.Error("Failed to publish command",
				"command_id", cmd.ID,
				"workflow_id", cmd.WorkflowID,
				"event_type", cmd.EventType,
				"error", err,
			)
		}
		return fmt.Errorf("failed to publish %s for workflow %s: %w", cmd.EventType, cmd.WorkflowID, err)
	}

	if p.logger != nil {
		p.logger.Info("Command published",
			"command_id", cmd.ID,
			"workflow_id", cmd.WorkflowID,
			"event_type", cmd.EventType,
		)
	}
	return nil
}
