package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/application/port"
)

// LogSink writes notifications to the log instead of delivering them.
// It backs the "log" sink used in development.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-only sink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Send implements port.NotificationSink
func (s *LogSink) Send(ctx context.Context, n *port.Notification) error {
	s.logger.Info("Notification",
		zap.String("to", n.To),
		zap.String("subject", n.Subject),
		zap.String("text", n.Text))
	return nil
}

var _ port.NotificationSink = (*LogSink)(nil)
