package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/application/service"
)

// SweepWorkerConfig holds the sweep schedule
type SweepWorkerConfig struct {
	// Schedule is a standard cron expression or descriptor such as "@every 1m"
	Schedule string
	Timeout  time.Duration
}

// SweepWorker runs the timeout sweep on a cron schedule
type SweepWorker struct {
	config  SweepWorkerConfig
	sweeper service.SweepService
	logger  *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
	ctx  context.Context
}

// NewSweepWorker creates a new sweep worker
func NewSweepWorker(config SweepWorkerConfig, sweeper service.SweepService, logger *zap.Logger) *SweepWorker {
	if config.Schedule == "" {
		config.Schedule = "@every 1m"
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Minute
	}
	return &SweepWorker{
		config:  config,
		sweeper: sweeper,
		logger:  logger,
	}
}

// Name returns the worker name for identification
func (w *SweepWorker) Name() string {
	return "SweepWorker"
}

// Start schedules the sweep. Overlapping runs are skipped.
func (w *SweepWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return fmt.Errorf("sweep worker already running")
	}

	logger := &cronLogger{logger: w.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(w.config.Schedule, w.RunOnce); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", w.config.Schedule, err)
	}

	w.ctx = ctx
	w.cron = c
	c.Start()

	w.logger.Info("SweepWorker started", zap.String("schedule", w.config.Schedule))
	return nil
}

// Stop halts the schedule and waits for a running sweep
func (w *SweepWorker) Stop() error {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()

	if c == nil {
		return nil
	}
	<-c.Stop().Done()
	return nil
}

// RunOnce performs a single sweep
func (w *SweepWorker) RunOnce() {
	w.mu.Lock()
	parent := w.ctx
	w.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithTimeout(parent, w.config.Timeout)
	defer cancel()

	result, err := w.sweeper.Sweep(ctx)
	if err != nil {
		w.logger.Error("Timeout sweep failed", zap.Error(err))
		return
	}
	if result.TimedOut > 0 || result.Republished > 0 {
		w.logger.Info("Timeout sweep completed",
			zap.Int("timed_out", result.TimedOut),
			zap.Int("republished", result.Republished))
	}
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
