package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/domain/event"
	"github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

func TestRetryPolicy_Decide(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3}

	tests := []struct {
		name     string
		err      error
		attempts int
		want     action
	}{
		{"success", nil, 1, actionAck},
		{"conflict retried", fmt.Errorf("apply: %w", workflow.ErrConflict), 1, actionRetry},
		{"transient store error retried", fmt.Errorf("database is locked"), 2, actionRetry},
		{"retries exhausted", workflow.ErrConflict, 3, actionDeadLetter},
		{"not found is permanent", workflow.ErrNotFound, 1, actionDeadLetter},
		{"invalid transition is permanent", workflow.ErrInvalidTransition, 1, actionDeadLetter},
		{"unknown event type is permanent", workflow.ErrUnknownEventType, 1, actionDeadLetter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.decide(tt.err, tt.attempts))
		})
	}
}

// collector records deliveries and fails the first failN of them with err
type collector struct {
	mu    sync.Mutex
	seen  []*event.Command
	failN int
	err   error
	got   chan struct{}
}

func newCollector(failN int, err error) *collector {
	return &collector{failN: failN, err: err, got: make(chan struct{}, 100)}
}

func (c *collector) handle(ctx context.Context, cmd *event.Command) error {
	c.mu.Lock()
	c.seen = append(c.seen, cmd)
	n := len(c.seen)
	c.mu.Unlock()
	c.got <- struct{}{}
	if n <= c.failN {
		return c.err
	}
	return nil
}

func (c *collector) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d of %d", i+1, n)
		}
	}
}

func TestMemoryQueue_DeliversCommands(t *testing.T) {
	q := NewMemoryQueue(10, RetryPolicy{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCollector(0, nil)
	go func() { _ = q.Consume(ctx, c.handle) }()

	notes := "ok"
	cmd := event.NewCommand("wf-1", workflow.EventActionSubmitted, workflow.StateHumanActionCompleted, "manager").
		WithDecision(workflow.DecisionApproved, &notes)
	require.NoError(t, q.Publish(ctx, cmd))
	c.wait(t, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.seen, 1)
	assert.Equal(t, cmd.WorkflowID, c.seen[0].WorkflowID)
	assert.NotSame(t, cmd, c.seen[0])
	assert.NotSame(t, cmd.Notes, c.seen[0].Notes)
}

func TestMemoryQueue_RedeliversRetryableErrors(t *testing.T) {
	q := NewMemoryQueue(10, RetryPolicy{MaxAttempts: 5, RetryDelay: time.Millisecond}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCollector(2, workflow.ErrConflict)
	go func() { _ = q.Consume(ctx, c.handle) }()

	require.NoError(t, q.Publish(ctx, event.NewCommand("wf-1", workflow.EventInteractionRequested, "", "bot")))
	c.wait(t, 3)
	assert.Empty(t, q.DeadLetters())
}

func TestMemoryQueue_DeadLettersPermanentErrors(t *testing.T) {
	q := NewMemoryQueue(10, RetryPolicy{MaxAttempts: 5, RetryDelay: time.Millisecond}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCollector(1, workflow.ErrNotFound)
	go func() { _ = q.Consume(ctx, c.handle) }()

	require.NoError(t, q.Publish(ctx, event.NewCommand("missing", workflow.EventInteractionRequested, "", "bot")))
	c.wait(t, 1)

	require.Eventually(t, func() bool { return len(q.DeadLetters()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "missing", q.DeadLetters()[0].WorkflowID)
}

func TestMemoryQueue_Close(t *testing.T) {
	q := NewMemoryQueue(1, RetryPolicy{}, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- q.Consume(context.Background(), func(context.Context, *event.Command) error { return nil }) }()

	require.NoError(t, q.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after close")
	}

	err := q.Publish(context.Background(), event.NewCommand("wf-1", workflow.EventInteractionRequested, "", "bot"))
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.NoError(t, q.Close())
}

func TestMemoryQueue_RetryAfterCloseIsDeadLettered(t *testing.T) {
	q := NewMemoryQueue(1, RetryPolicy{MaxAttempts: 5, RetryDelay: time.Millisecond}, zap.NewNop())

	handler := func(context.Context, *event.Command) error {
		require.NoError(t, q.Close())
		return workflow.ErrConflict
	}

	require.NoError(t, q.Publish(context.Background(), event.NewCommand("wf-1", workflow.EventInteractionRequested, "", "bot")))
	assert.NoError(t, q.Consume(context.Background(), handler))

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "wf-1", dead[0].WorkflowID)
	assert.Zero(t, q.Len())
}

func TestMemoryQueue_PublishRespectsContext(t *testing.T) {
	q := NewMemoryQueue(1, RetryPolicy{}, zap.NewNop())
	defer q.Close()

	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, event.NewCommand("wf-1", workflow.EventInteractionRequested, "", "bot")))

	full, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err := q.Publish(full, event.NewCommand("wf-2", workflow.EventInteractionRequested, "", "bot"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Len())
}
