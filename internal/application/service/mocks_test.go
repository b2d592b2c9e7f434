package service

import (
	"context"
	"sync"

	"github.com/garyjia/hitl-workflow/internal/application/port"
	"github.com/garyjia/hitl-workflow/internal/domain/event"
	domainwf "github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type mockSink struct {
	mu   sync.Mutex
	sent []*port.Notification
	err  error
}

func (m *mockSink) Send(ctx context.Context, n *port.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, n)
	return nil
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type mockNotifier struct {
	mu      sync.Mutex
	channel domainwf.Channel
	reasons []domainwf.EventType
	err     error
}

func (m *mockNotifier) Channel() domainwf.Channel {
	return m.channel
}

func (m *mockNotifier) Notify(ctx context.Context, wf *domainwf.Workflow, reason domainwf.EventType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.reasons = append(m.reasons, reason)
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reasons)
}

type mockPublisher struct {
	mu       sync.Mutex
	commands []*event.Command
	err      error
}

func (m *mockPublisher) Publish(ctx context.Context, cmd *event.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.commands = append(m.commands, cmd)
	return nil
}

type mockExtractor struct {
	result   *port.ExtractionResult
	err      error
	calls    int
	lastText string
}

func (m *mockExtractor) Extract(ctx context.Context, message string, history []port.ChatMessage) (*port.ExtractionResult, error) {
	m.calls++
	m.lastText = message
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}
