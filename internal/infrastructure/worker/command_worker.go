package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/garyjia/hitl-workflow/internal/application/port"
	appwf "github.com/garyjia/hitl-workflow/internal/application/workflow"
	"github.com/garyjia/hitl-workflow/internal/domain/event"
)

// CommandProcessor applies one command; service.CommandService satisfies it
type CommandProcessor interface {
	Process(ctx context.Context, cmd *event.Command) (*appwf.Outcome, error)
}

// CommandWorkerConfig holds configuration for the command worker
type CommandWorkerConfig struct {
	// RateLimit caps commands per second; zero means unlimited
	RateLimit      float64
	Burst          int
	ProcessTimeout time.Duration
	// RestartDelay is the pause before reconnecting after the consumer fails
	RestartDelay time.Duration
}

// DefaultCommandWorkerConfig returns default configuration
func DefaultCommandWorkerConfig() CommandWorkerConfig {
	return CommandWorkerConfig{
		RateLimit:      20,
		Burst:          5,
		ProcessTimeout: 30 * time.Second,
		RestartDelay:   2 * time.Second,
	}
}

// CommandWorker drains the command queue into the command processor
type CommandWorker struct {
	config    CommandWorkerConfig
	consumer  port.CommandConsumer
	processor CommandProcessor
	limiter   *rate.Limiter
	logger    *zap.Logger

	mu             sync.Mutex
	cancel         context.CancelFunc
	done           chan struct{}
	processedCount int
	failedCount    int
}

// NewCommandWorker creates a new command worker
func NewCommandWorker(config CommandWorkerConfig, consumer port.CommandConsumer, processor CommandProcessor, logger *zap.Logger) *CommandWorker {
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.RestartDelay <= 0 {
		config.RestartDelay = 2 * time.Second
	}
	return &CommandWorker{
		config:    config,
		consumer:  consumer,
		processor: processor,
		limiter:   rate.NewLimiter(limit, config.Burst),
		logger:    logger,
	}
}

// Name returns the worker name for identification
func (w *CommandWorker) Name() string {
	return "CommandWorker"
}

// Start begins consuming in a background goroutine
func (w *CommandWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return fmt.Errorf("command worker already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	w.logger.Info("CommandWorker started",
		zap.Float64("rate_limit", w.config.RateLimit),
		zap.Int("burst", w.config.Burst))

	go w.run(runCtx, w.done)
	return nil
}

// Stop cancels consumption and waits for the in-flight command to finish
func (w *CommandWorker) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	<-done

	w.mu.Lock()
	w.logger.Info("CommandWorker stopped",
		zap.Int("processed_count", w.processedCount),
		zap.Int("failed_count", w.failedCount))
	w.mu.Unlock()
	return nil
}

func (w *CommandWorker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		err := w.consumer.Consume(ctx, w.handle)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			w.logger.Info("Command consumer finished")
			return
		}
		w.logger.Error("Command consumer stopped, restarting",
			zap.Error(err),
			zap.Duration("delay", w.config.RestartDelay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.config.RestartDelay):
		}
	}
}

// handle is the port.CommandHandler given to the queue. Its error decides
// whether the queue retries or dead-letters the command.
func (w *CommandWorker) handle(ctx context.Context, cmd *event.Command) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	processCtx := ctx
	if w.config.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		processCtx, cancel = context.WithTimeout(ctx, w.config.ProcessTimeout)
		defer cancel()
	}

	outcome, err := w.processor.Process(processCtx, cmd)

	w.mu.Lock()
	if err != nil {
		w.failedCount++
	} else {
		w.processedCount++
	}
	w.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return err
		}
		w.logger.Error("Command failed",
			zap.String("command_id", cmd.ID),
			zap.String("workflow_id", cmd.WorkflowID),
			zap.String("event_type", string(cmd.EventType)),
			zap.Error(err))
		return err
	}

	w.logger.Info("Command processed",
		zap.String("command_id", cmd.ID),
		zap.String("workflow_id", cmd.WorkflowID),
		zap.String("event_type", string(cmd.EventType)),
		zap.Bool("applied", outcome.Applied),
		zap.String("state", string(outcome.NewState)))
	return nil
}

// Stats returns processed and failed counts
func (w *CommandWorker) Stats() (processed, failed int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processedCount, w.failedCount
}
