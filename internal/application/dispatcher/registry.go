package dispatcher

import (
	"context"
	"fmt"
	"sort"

	"github.com/garyjia/hitl-workflow/internal/domain/event"
	domainwf "github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

// Registry maps each event type to exactly one handler.
// It is built once at startup and never changes afterwards.
type Registry interface {
	// Has reports whether a handler is registered for the event type
	Has(eventType domainwf.EventType) bool

	// Handle runs the handler for cmd.EventType, recovering panics
	Handle(ctx context.Context, cmd *event.Command, wf *domainwf.Workflow) error

	// ListHandlers returns handler metadata sorted by event type
	ListHandlers() []HandlerInfo
}

// registry is the concrete implementation of Registry
type registry struct {
	handlers map[domainwf.EventType]HandlerInfo
	logger   Logger
}

// Option configures the registry or publisher
type Option func(*options)

type options struct {
	logger Logger
}

// WithLogger sets a logger
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// NewRegistry builds a registry from handler definitions.
// Duplicate or invalid event types and nil handlers are rejected.
func NewRegistry(handlers []HandlerInfo, opts ...Option) (Registry, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	r := &registry{
		handlers: make(map[domainwf.EventType]HandlerInfo, len(handlers)),
		logger:   o.logger,
	}

	for _, info := range handlers {
		if !info.EventType.IsValid() {
			return nil, fmt.Errorf("handler %s: %w: %q", info.Name, domainwf.ErrUnknownEventType, info.EventType)
		}
		if info.Handler == nil {
			return nil, fmt.Errorf("handler %s for %s is nil", info.Name, info.EventType)
		}
		if existing, dup := r.handlers[info.EventType]; dup {
			return nil, fmt.Errorf("event type %s already handled by %s", info.EventType, existing.Name)
		}
		r.handlers[info.EventType] = info

		if r.logger != nil {
			r.logger.Info("Handler registered",
				"event_type", info.EventType,
				"handler_name", info.Name,
			)
		}
	}

	return r, nil
}

// Has reports whether a handler is registered for the event type
func (r *registry) Has(eventType domainwf.EventType) bool {
	_, ok := r.handlers[eventType]
	return ok
}

// Handle runs the handler for the command's event type
func (r *registry) Handle(ctx context.Context, cmd *event.Command, wf *domainwf.Workflow) error {
	info, ok := r.handlers[cmd.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", domainwf.ErrUnknownEventType, cmd.EventType)
	}

	if err := r.safeExecute(ctx, cmd, wf, info); err != nil {
		if r.logger != nil {
			r.logger.Error("Handler error",
				"event_type", cmd.EventType,
				"workflow_id", cmd.WorkflowID,
				"handler_name", info.Name,
				"error", err,
			)
		}
		return fmt.Errorf("handler %s failed: %w", info.Name, err)
	}

	return nil
}

// ListHandlers returns handler metadata sorted by event type
func (r *registry) ListHandlers() []HandlerInfo {
	result := make([]HandlerInfo, 0, len(r.handlers))
	for _, h := range r.handlers {
		result = append(result, HandlerInfo{
			Name:        h.Name,
			EventType:   h.EventType,
			Description: h.Description,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EventType < result[j].EventType })
	return result
}

// safeExecute runs a handler with panic recovery
func (r *registry) safeExecute(ctx context.Context, cmd *event.Command, wf *domainwf.Workflow, info HandlerInfo) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
			if r.logger != nil {
				r.logger.Error("Handler panic recovered",
					"event_type", cmd.EventType,
					"workflow_id", cmd.WorkflowID,
					"handler_name", info.Name,
					"panic", rec,
				)
			}
		}
	}()

	return info.Handler(ctx, cmd, wf)
}
