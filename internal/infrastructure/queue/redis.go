package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/application/port"
	"github.com/garyjia/hitl-workflow/internal/domain/event"
)

// RedisConfig configures the Redis list queue
type RedisConfig struct {
	KeyPrefix    string
	BlockTimeout time.Duration
	Policy       RetryPolicy
}

// RedisQueue is a reliable queue on Redis lists. A delivered command moves
// atomically from the pending list to the processing list and is removed only
// after the handler finishes, so a crash mid-handling leaves it recoverable.
type RedisQueue struct {
	client        redis.UniversalClient
	pendingKey    string
	processingKey string
	deadKey       string
	blockTimeout  time.Duration
	policy        RetryPolicy
	logger        *zap.Logger
}

// NewRedisQueue creates a queue on an existing client
func NewRedisQueue(client redis.UniversalClient, cfg RedisConfig, logger *zap.Logger) *RedisQueue {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "hitl:commands"
	}
	block := cfg.BlockTimeout
	if block <= 0 {
		block = 5 * time.Second
	}
	return &RedisQueue{
		client:        client,
		pendingKey:    prefix + ":pending",
		processingKey: prefix + ":processing",
		deadKey:       prefix + ":dead",
		blockTimeout:  block,
		policy:        cfg.Policy.normalized(),
		logger:        logger,
	}
}

// Publish pushes the command onto the pending list
func (q *RedisQueue) Publish(ctx context.Context, cmd *event.Command) error {
	payload, err := encodeEnvelope(envelope{Command: cmd})
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.pendingKey, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Recover moves commands left in the processing list by a previous consumer
// back to pending. It returns the number of commands moved.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processingKey, q.pendingKey, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("redis recover: %w", err)
		}
		moved++
	}
}

// Consume delivers commands until ctx is done. Only one consumer per key
// prefix should run Recover, which Consume calls on start.
func (q *RedisQueue) Consume(ctx context.Context, handler port.CommandHandler) error {
	moved, err := q.Recover(ctx)
	if err != nil {
		return err
	}
	if moved > 0 {
		q.logger.Info("Recovered in-flight commands", zap.Int("count", moved))
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		payload, err := q.client.BLMove(ctx, q.pendingKey, q.processingKey, "RIGHT", "LEFT", q.blockTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Error("Failed to receive command", zap.Error(err))
			if !sleepCtx(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}

		q.deliver(ctx, handler, payload)
	}
}

func (q *RedisQueue) deliver(ctx context.Context, handler port.CommandHandler, payload string) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		q.logger.Error("Dropping malformed command", zap.Error(err))
		q.moveToDead(ctx, payload, payload)
		return
	}

	env.Attempts++
	handleErr := handler(ctx, env.Command)

	switch act := q.policy.decide(handleErr, env.Attempts); act {
	case actionAck:
		if err := q.client.LRem(ctx, q.processingKey, 1, payload).Err(); err != nil {
			q.logger.Error("Failed to ack command", zap.String("command_id", env.Command.ID), zap.Error(err))
		}
	case actionRetry:
		q.logger.Info("Redelivering command",
			zap.String("command_id", env.Command.ID),
			zap.String("workflow_id", env.Command.WorkflowID),
			zap.Int("attempts", env.Attempts),
			zap.Error(handleErr))
		sleepCtx(ctx, q.policy.RetryDelay)
		next, err := encodeEnvelope(env)
		if err != nil {
			q.logger.Error("Failed to encode retry", zap.Error(err))
			return
		}
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processingKey, 1, payload)
			pipe.LPush(ctx, q.pendingKey, next)
			return nil
		})
		if err != nil {
			q.logger.Error("Failed to requeue command", zap.String("command_id", env.Command.ID), zap.Error(err))
		}
	default:
		q.logger.Error("Command dead-lettered",
			zap.String("command_id", env.Command.ID),
			zap.String("workflow_id", env.Command.WorkflowID),
			zap.String("event_type", string(env.Command.EventType)),
			zap.Int("attempts", env.Attempts),
			zap.Error(handleErr))
		next, err := encodeEnvelope(env)
		if err != nil {
			next = payload
		}
		q.moveToDead(ctx, payload, next)
	}
}

func (q *RedisQueue) moveToDead(ctx context.Context, payload, stored string) {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey, 1, payload)
		pipe.LPush(ctx, q.deadKey, stored)
		return nil
	})
	if err != nil {
		q.logger.Error("Failed to dead-letter command", zap.Error(err))
	}
}

// Stats returns the length of the pending, processing and dead lists
func (q *RedisQueue) Stats(ctx context.Context) (pending, processing, dead int64, err error) {
	cmds, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LLen(ctx, q.pendingKey)
		pipe.LLen(ctx, q.processingKey)
		pipe.LLen(ctx, q.deadKey)
		return nil
	})
	if err != nil {
		return 0, 0, 0, fmt.Errorf("redis stats: %w", err)
	}
	return cmds[0].(*redis.IntCmd).Val(), cmds[1].(*redis.IntCmd).Val(), cmds[2].(*redis.IntCmd).Val(), nil
}

// Close closes the underlying client
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var _ port.CommandQueue = (*RedisQueue)(nil)
