package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/hitl-workflow/internal/application/dispatcher"
	"github.com/garyjia/hitl-workflow/internal/application/port"
	appwf "github.com/garyjia/hitl-workflow/internal/application/workflow"
	"github.com/garyjia/hitl-workflow/internal/domain/event"
	domainwf "github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

// SweepInitiator is recorded as initiatedBy on commands emitted by the sweeper
const SweepInitiator = "timeout_sweeper"

// SweepConfig controls one sweep pass
type SweepConfig struct {
	BatchSize int
	// RequestGrace is how long a new workflow may lack its interaction request before it is republished
	RequestGrace time.Duration
}

// SweepResult counts the commands a sweep published
type SweepResult struct {
	TimedOut    int `json:"timedOut"`
	Republished int `json:"republished"`
}

// SweepService emits commands for workflows whose deadline passed or whose
// interaction request was never delivered
type SweepService interface {
	Sweep(ctx context.Context) (*SweepResult, error)
}

type sweepServiceImpl struct {
	engine    appwf.Engine
	publisher dispatcher.Publisher
	cfg       SweepConfig
	now       func() time.Time
	logger    Logger
}

// NewSweepService creates a new SweepService
func NewSweepService(engine appwf.Engine, publisher dispatcher.Publisher, cfg SweepConfig, logger Logger) SweepService {
	return newSweepService(engine, publisher, cfg, logger, time.Now)
}

func newSweepService(engine appwf.Engine, publisher dispatcher.Publisher, cfg SweepConfig, logger Logger, now func() time.Time) *sweepServiceImpl {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &sweepServiceImpl{
		engine:    engine,
		publisher: publisher,
		cfg:       cfg,
		now:       now,
		logger:    logger,
	}
}

// Sweep publishes timeout commands for expired requests and republishes
// missing interaction requests. Commands are idempotent, so overlapping
// sweeps only cause replays.
func (s *sweepServiceImpl) Sweep(ctx context.Context) (*SweepResult, error) {
	now := s.now().UTC()
	result := &SweepResult{}

	expired, err := s.engine.ListWorkflows(ctx, port.WorkflowFilter{
		State:          domainwf.StateRequested,
		DeadlineBefore: &now,
		Limit:          s.cfg.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("list expired workflows: %w", err)
	}

	for _, wf := range expired {
		cmd := event.NewCommand(wf.ID, domainwf.EventInteractionTimedOut, domainwf.StateTimedOut, SweepInitiator)
		if err := s.publisher.Publish(ctx, cmd); err != nil {
			return result, fmt.Errorf("publish timeout for %s: %w", wf.ID, err)
		}
		result.TimedOut++
	}

	if s.cfg.RequestGrace > 0 {
		cutoff := now.Add(-s.cfg.RequestGrace)
		lost, err := s.engine.ListWorkflows(ctx, port.WorkflowFilter{
			State:         domainwf.StateRequested,
			CreatedBefore: &cutoff,
			DeadlineAfter: &now,
			WithoutEvent:  domainwf.EventInteractionRequested,
			Limit:         s.cfg.BatchSize,
		})
		if err != nil {
			return result, fmt.Errorf("list lost requests: %w", err)
		}

		for _, wf := range lost {
			cmd := event.NewCommand(wf.ID, domainwf.EventInteractionRequested, domainwf.StateRequested, SweepInitiator)
			if err := s.publisher.Publish(ctx, cmd); err != nil {
				return result, fmt.Errorf("republish request for %s: %w", wf.ID, err)
			}
			result.Republished++
		}
	}

	if result.TimedOut > 0 || result.Republished > 0 {
		s.logger.Info("Sweep published commands",
			"timed_out", result.TimedOut,
			"republished", result.Republished,
		)
	}

	return result, nil
}
