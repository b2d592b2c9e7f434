package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/application/port"
	"github.com/garyjia/hitl-workflow/internal/domain/event"
)

// ErrQueueClosed is returned when publishing to a closed queue
var ErrQueueClosed = errors.New("queue is closed")

// MemoryQueue is a buffered channel queue for development and tests.
// Commands are lost when the process exits.
type MemoryQueue struct {
	ch     chan envelope
	policy RetryPolicy
	logger *zap.Logger

	mu         sync.RWMutex
	closed     bool
	done       chan struct{}
	pending    sync.WaitGroup
	deadLetter []*event.Command
}

// NewMemoryQueue creates a queue holding up to size undelivered commands
func NewMemoryQueue(size int, policy RetryPolicy, logger *zap.Logger) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{
		ch:     make(chan envelope, size),
		policy: policy.normalized(),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Publish enqueues a copy of the command
func (q *MemoryQueue) Publish(ctx context.Context, cmd *event.Command) error {
	return q.enqueue(ctx, envelope{Command: copyCommand(cmd)})
}

func (q *MemoryQueue) enqueue(ctx context.Context, env envelope) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	}
}

// Consume delivers commands to handler until ctx is done or the queue is closed
func (q *MemoryQueue) Consume(ctx context.Context, handler port.CommandHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return nil
		case env := <-q.ch:
			q.deliver(ctx, handler, env)
		}
	}
}

func (q *MemoryQueue) deliver(ctx context.Context, handler port.CommandHandler, env envelope) {
	env.Attempts++
	err := handler(ctx, env.Command)

	switch act := q.policy.decide(err, env.Attempts); act {
	case actionAck:
		return
	case actionRetry:
		// Add under the lock so it cannot race with Close waiting on pending
		q.mu.Lock()
		if q.closed {
			q.deadLetter = append(q.deadLetter, env.Command)
			q.mu.Unlock()
			q.logger.Error("Queue closed, command dead-lettered instead of redelivered",
				zap.String("command_id", env.Command.ID),
				zap.String("workflow_id", env.Command.WorkflowID),
				zap.Int("attempts", env.Attempts),
				zap.Error(err))
			return
		}
		q.pending.Add(1)
		q.mu.Unlock()

		q.logger.Info("Redelivering command",
			zap.String("command_id", env.Command.ID),
			zap.String("workflow_id", env.Command.WorkflowID),
			zap.Int("attempts", env.Attempts),
			zap.Error(err))
		time.AfterFunc(q.policy.RetryDelay, func() {
			defer q.pending.Done()
			if err := q.enqueue(context.Background(), env); err != nil {
				q.logger.Error("Failed to requeue command",
					zap.String("command_id", env.Command.ID),
					zap.Error(err))
			}
		})
	default:
		q.logger.Error("Command dead-lettered",
			zap.String("command_id", env.Command.ID),
			zap.String("workflow_id", env.Command.WorkflowID),
			zap.String("event_type", string(env.Command.EventType)),
			zap.Int("attempts", env.Attempts),
			zap.Error(err))
		q.mu.Lock()
		q.deadLetter = append(q.deadLetter, env.Command)
		q.mu.Unlock()
	}
}

// DeadLetters returns the commands that were given up on
func (q *MemoryQueue) DeadLetters() []*event.Command {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]*event.Command(nil), q.deadLetter...)
}

// Len returns the number of commands waiting for delivery
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close stops consumers and rejects further publishes
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.pending.Wait()
	return nil
}

func copyCommand(cmd *event.Command) *event.Command {
	out := *cmd
	if cmd.Notes != nil {
		n := *cmd.Notes
		out.Notes = &n
	}
	if cmd.SubmittedAt != nil {
		t := *cmd.SubmittedAt
		out.SubmittedAt = &t
	}
	return &out
}

var _ port.CommandQueue = (*MemoryQueue)(nil)
