package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/hitl-workflow/internal/domain/event"
	domainwf "github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu      sync.Mutex
	infos   []string
	errors  []string
	entries []map[string]interface{}
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)

	entry := map[string]interface{}{"msg": msg}
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			entry[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
		}
	}
	m.entries = append(m.entries, entry)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)

	entry := map[string]interface{}{"msg": msg, "level": "error"}
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			entry[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
		}
	}
	m.entries = append(m.entries, entry)
}

func (m *mockLogger) InfoCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.infos)
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func (m *mockLogger) HasInfo(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range m.infos {
		if info == msg {
			return true
		}
	}
	return false
}

func noopHandler(ctx context.Context, cmd *event.Command, wf *domainwf.Workflow) error {
	return nil
}

func allHandlers(h Handler) []HandlerInfo {
	return []HandlerInfo{
		{Name: "notify-recipient", EventType: domainwf.EventInteractionRequested, Handler: h},
		{Name: "decision-email", EventType: domainwf.EventActionSubmitted, Handler: h},
		{Name: "renotify", EventType: domainwf.EventActionRolledBack, Handler: h},
		{Name: "timeout-log", EventType: domainwf.EventInteractionTimedOut, Handler: h},
	}
}

func TestNewRegistry(t *testing.T) {
	t.Run("builds registry with logger", func(t *testing.T) {
		logger := &mockLogger{}
		r, err := NewRegistry(allHandlers(noopHandler), WithLogger(logger))
		require.NoError(t, err)
		assert.Len(t, r.ListHandlers(), 4)
		assert.Equal(t, 4, logger.InfoCount())
		assert.True(t, logger.HasInfo("Handler registered"))
	})

	t.Run("rejects duplicate event type", func(t *testing.T) {
		handlers := append(allHandlers(noopHandler),
			HandlerInfo{Name: "second", EventType: domainwf.EventActionSubmitted, Handler: noopHandler})
		_, err := NewRegistry(handlers)
		assert.Error(t, err)
	})

	t.Run("rejects invalid event type", func(t *testing.T) {
		_, err := NewRegistry([]HandlerInfo{{Name: "bad", EventType: "ESCALATED", Handler: noopHandler}})
		assert.ErrorIs(t, err, domainwf.ErrUnknownEventType)
	})

	t.Run("rejects nil handler", func(t *testing.T) {
		_, err := NewRegistry([]HandlerInfo{{Name: "nil", EventType: domainwf.EventActionSubmitted}})
		assert.Error(t, err)
	})
}

func TestRegistryHandle(t *testing.T) {
	wf := &domainwf.Workflow{ID: "wf-1", CurrentState: domainwf.StateRequested}

	t.Run("runs the registered handler", func(t *testing.T) {
		var calls atomic.Int32
		var seen *domainwf.Workflow
		r, err := NewRegistry(allHandlers(func(ctx context.Context, cmd *event.Command, w *domainwf.Workflow) error {
			calls.Add(1)
			seen = w
			return nil
		}))
		require.NoError(t, err)

		cmd := event.NewCommand("wf-1", domainwf.EventActionSubmitted, domainwf.StateHumanActionCompleted, "manager")
		require.NoError(t, r.Handle(context.Background(), cmd, wf))
		assert.Equal(t, int32(1), calls.Load())
		assert.Same(t, wf, seen)
	})

	t.Run("unknown event type", func(t *testing.T) {
		r, err := NewRegistry(allHandlers(noopHandler)[:1])
		require.NoError(t, err)

		assert.False(t, r.Has(domainwf.EventActionSubmitted))
		cmd := event.NewCommand("wf-1", domainwf.EventActionSubmitted, "", "manager")
		err = r.Handle(context.Background(), cmd, wf)
		assert.ErrorIs(t, err, domainwf.ErrUnknownEventType)
	})

	t.Run("wraps handler error", func(t *testing.T) {
		logger := &mockLogger{}
		sinkErr := errors.New("sink down")
		r, err := NewRegistry(allHandlers(func(ctx context.Context, cmd *event.Command, w *domainwf.Workflow) error {
			return sinkErr
		}), WithLogger(logger))
		require.NoError(t, err)

		cmd := event.NewCommand("wf-1", domainwf.EventInteractionRequested, "", "bot")
		err = r.Handle(context.Background(), cmd, wf)
		assert.ErrorIs(t, err, sinkErr)
		assert.Equal(t, 1, logger.ErrorCount())
	})

	t.Run("recovers from handler panic", func(t *testing.T) {
		logger := &mockLogger{}
		r, err := NewRegistry(allHandlers(func(ctx context.Context, cmd *event.Command, w *domainwf.Workflow) error {
			panic("boom")
		}), WithLogger(logger))
		require.NoError(t, err)

		cmd := event.NewCommand("wf-1", domainwf.EventInteractionTimedOut, "", "sweeper")
		err = r.Handle(context.Background(), cmd, wf)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "handler panic: boom")
		assert.Equal(t, 2, logger.ErrorCount())
	})

	t.Run("concurrent handling", func(t *testing.T) {
		var calls atomic.Int32
		r, err := NewRegistry(allHandlers(func(ctx context.Context, cmd *event.Command, w *domainwf.Workflow) error {
			calls.Add(1)
			return nil
		}))
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				cmd := event.NewCommand(fmt.Sprintf("wf-%d", i), domainwf.EventActionSubmitted, "", "manager")
				_ = r.Handle(context.Background(), cmd, wf)
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(50), calls.Load())
	})
}

func TestListHandlers(t *testing.T) {
	r, err := NewRegistry(allHandlers(noopHandler))
	require.NoError(t, err)

	infos := r.ListHandlers()
	require.Len(t, infos, 4)
	for i := 1; i < len(infos); i++ {
		assert.Less(t, string(infos[i-1].EventType), string(infos[i].EventType))
	}
	for _, info := range infos {
		assert.Nil(t, info.Handler, "handler function must not be exposed")
	}
}

type recordingQueue struct {
	mu       sync.Mutex
	commands []*event.Command
	err      error
}

func (q *recordingQueue) Publish(ctx context.Context, cmd *event.Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.commands = append(q.commands, cmd)
	return nil
}

func TestPublisher(t *testing.T) {
	t.Run("publishes valid command", func(t *testing.T) {
		q := &recordingQueue{}
		logger := &mockLogger{}
		p := NewPublisher(q, WithLogger(logger))

		cmd := event.NewCommand("wf-1", domainwf.EventInteractionRequested, domainwf.StateRequested, "bot")
		require.NoError(t, p.Publish(context.Background(), cmd))
		require.Len(t, q.commands, 1)
		assert.Equal(t, cmd, q.commands[0])
		assert.True(t, logger.HasInfo("Command published"))
	})

	t.Run("rejects invalid command", func(t *testing.T) {
		q := &recordingQueue{}
		p := NewPublisher(q)

		err := p.Publish(context.Background(), &event.Command{EventType: domainwf.EventActionRolledBack})
		assert.ErrorIs(t, err, domainwf.ErrInvalidCommand)
		assert.Empty(t, q.commands)
	})

	t.Run("wraps queue error", func(t *testing.T) {
		q := &recordingQueue{err: errors.New("redis unavailable")}
		logger := &mockLogger{}
		p := NewPublisher(q, WithLogger(logger))

		cmd := event.NewCommand("wf-1", domainwf.EventInteractionRequested, domainwf.StateRequested, "bot")
		err := p.Publish(context.Background(), cmd)
		assert.ErrorContains(t, err, "redis unavailable")
		assert.Equal(t, 1, logger.ErrorCount())
	})
}
