package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/application/dispatcher"
	"github.com/garyjia/hitl-workflow/internal/application/port"
	"github.com/garyjia/hitl-workflow/internal/application/service"
	"github.com/garyjia/hitl-workflow/internal/application/workflow"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/export"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/queue"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/worker"
	"github.com/garyjia/hitl-workflow/pkg/database"
	"github.com/garyjia/hitl-workflow/pkg/utils"
)

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and close in reverse order.
type Container struct {
	config  *Config
	logger  *zap.Logger
	options options

	// Infrastructure
	db       *database.DB
	repo     *repository.WorkflowRepository
	queue    *QueueBundle
	sink     port.NotificationSink
	exporter port.WorkflowExporter

	// Application
	engine    workflow.Engine
	registry  dispatcher.Registry
	publisher dispatcher.Publisher
	commands  service.CommandService
	intake    service.IntakeService
	sweeper   service.SweepService

	// Workers
	workers *worker.Manager

	// Lifecycle
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// Option changes which parts of the container are started
type Option func(*options)

type options struct {
	withoutWorkers bool
	withoutIntake  bool
	inlineCommands bool
}

// WithoutWorkers skips the queue consumer and the sweep schedule
func WithoutWorkers() Option {
	return func(o *options) { o.withoutWorkers = true }
}

// WithoutIntake skips the extraction client and the intake bot
func WithoutIntake() Option {
	return func(o *options) { o.withoutIntake = true }
}

// WithInlineCommands applies published commands synchronously in the
// caller instead of queueing them
func WithInlineCommands() Option {
	return func(o *options) { o.inlineCommands = true }
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Container{
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(&c.options)
	}
	return c, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database and repository
// 2. Notification sink and handler registry
// 3. Workflow engine and command service
// 4. Command queue and publisher
// 5. Intake and sweep services
// 6. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized", zap.String("path", c.config.Database.Path))

	if err := c.initHandlers(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize handlers: %w", err)
	}
	c.logger.Info("Handler registry initialized",
		zap.String("sink", c.config.Notification.Sink),
		zap.Int("handlers", len(c.registry.ListHandlers())),
	)

	c.engine = workflow.NewEngine(c.repo)
	c.commands = service.NewCommandService(c.engine, c.registry, utils.NewZapAdapter(c.logger.Named("commands")))
	c.exporter = export.NewExcelExporter(c.logger.Named("export"))

	if err := c.initQueue(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize queue: %w", err)
	}

	if err := c.initServices(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized", zap.Bool("intake", c.intake != nil))

	if !c.options.withoutWorkers {
		if err := c.initWorkers(); err != nil {
			c.teardown()
			return fmt.Errorf("failed to initialize workers: %w", err)
		}
		c.logger.Info("Workers initialized and started", zap.Int("count", c.workers.WorkerCount()))
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	errs := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors: %w", len(errs), errs[0])
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases whatever Start managed to create
func (c *Container) teardown() []error {
	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
		c.workers = nil
	}

	if c.queue != nil {
		if err := c.queue.Close(); err != nil {
			c.logger.Error("Failed to close queue", zap.Error(err))
			errs = append(errs, fmt.Errorf("close queue: %w", err))
		}
		c.queue = nil
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		c.db = nil
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	if c.repo == nil {
		status.Components["database"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	} else if err := c.repo.Ping(ctx); err != nil {
		status.Components["database"] = ComponentHealth{
			Healthy: false,
			Message: fmt.Sprintf("ping failed: %v", err),
		}
		status.Overall = false
	} else {
		status.Components["database"] = ComponentHealth{Healthy: true}
	}

	if c.options.withoutWorkers {
		return status
	}
	if c.workers != nil && c.workers.IsRunning() {
		status.Components["workers"] = ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("worker count: %d", c.workers.WorkerCount()),
		}
	} else {
		status.Components["workers"] = ComponentHealth{Healthy: false, Message: "not running"}
		status.Overall = false
	}

	return status
}

func (c *Container) initDatabase() error {
	db, err := ProvideDatabase(c.ctx, c.config.Database, c.logger.Named("database"))
	if err != nil {
		return err
	}
	c.db = db
	c.repo = ProvideRepository(db, c.logger.Named("repository"))
	return nil
}

func (c *Container) initHandlers() error {
	sink, err := ProvideSink(c.config.Notification, c.logger)
	if err != nil {
		return err
	}
	c.sink = sink

	registry, err := ProvideRegistry(c.config.Notification, sink, c.logger)
	if err != nil {
		return err
	}
	c.registry = registry
	return nil
}

func (c *Container) initQueue() error {
	adapter := dispatcher.WithLogger(utils.NewZapAdapter(c.logger.Named("publisher")))

	if c.options.inlineCommands {
		c.publisher = dispatcher.NewPublisher(&inlinePublisher{commands: c.commands}, adapter)
		c.logger.Info("Commands are applied inline")
		return nil
	}

	bundle, err := ProvideQueue(c.ctx, c.config.Queue, c.logger)
	if err != nil {
		return err
	}
	c.queue = bundle
	c.publisher = dispatcher.NewPublisher(bundle.Publisher, adapter)
	c.logger.Info("Command queue initialized", zap.String("driver", c.config.Queue.Driver))
	return nil
}

func (c *Container) initServices() error {
	c.sweeper = service.NewSweepService(
		c.engine,
		c.publisher,
		c.config.Sweeper.Sweep,
		utils.NewZapAdapter(c.logger.Named("sweeper")),
	)

	if c.options.withoutIntake {
		return nil
	}

	extractor, err := ProvideExtractor(c.config.OpenAI, c.logger)
	if err != nil {
		return err
	}
	c.intake = service.NewIntakeService(
		extractor,
		c.engine,
		c.publisher,
		c.config.Intake,
		utils.NewZapAdapter(c.logger.Named("intake")),
	)
	return nil
}

func (c *Container) initWorkers() error {
	c.workers = worker.NewManager(c.logger.Named("workers"))

	if c.queue != nil && c.queue.Consumer != nil {
		c.workers.Register(worker.NewCommandWorker(
			c.config.Queue.Worker,
			c.queue.Consumer,
			c.commands,
			c.logger.Named("command-worker"),
		))
	}

	if c.config.Sweeper.Enabled {
		c.workers.Register(worker.NewSweepWorker(
			c.config.Sweeper.Worker,
			c.sweeper,
			c.logger.Named("sweep-worker"),
		))
	}

	return c.workers.StartAll(c.ctx)
}

// Getters for accessing container components

// Engine returns the workflow engine.
func (c *Container) Engine() workflow.Engine {
	return c.engine
}

// Repository returns the workflow repository.
func (c *Container) Repository() *repository.WorkflowRepository {
	return c.repo
}

// DB returns the database handle.
func (c *Container) DB() *database.DB {
	return c.db
}

// Registry returns the handler registry.
func (c *Container) Registry() dispatcher.Registry {
	return c.registry
}

// Publisher returns the command publisher.
func (c *Container) Publisher() dispatcher.Publisher {
	return c.publisher
}

// Commands returns the command service.
func (c *Container) Commands() service.CommandService {
	return c.commands
}

// Intake returns the intake service, nil when started WithoutIntake.
func (c *Container) Intake() service.IntakeService {
	return c.intake
}

// Sweeper returns the timeout sweep service.
func (c *Container) Sweeper() service.SweepService {
	return c.sweeper
}

// IngressVerifier returns the QStash delivery verifier, nil unless the
// qstash driver has a signing key.
func (c *Container) IngressVerifier() *queue.QStashVerifier {
	q := c.config.Queue
	if q.Driver != "qstash" || q.QStash.CurrentSigningKey == "" {
		return nil
	}
	return queue.NewQStashVerifier(q.QStash.CurrentSigningKey, q.QStash.NextSigningKey)
}

// Exporter returns the spreadsheet exporter.
func (c *Container) Exporter() port.WorkflowExporter {
	return c.exporter
}
