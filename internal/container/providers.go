package container

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/application/dispatcher"
	"github.com/garyjia/hitl-workflow/internal/application/port"
	"github.com/garyjia/hitl-workflow/internal/application/service"
	"github.com/garyjia/hitl-workflow/internal/domain/event"
	"github.com/garyjia/hitl-workflow/internal/domain/workflow"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/external/lark"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/external/mailersend"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/external/openai"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/notification"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/queue"
	"github.com/garyjia/hitl-workflow/pkg/database"
	"github.com/garyjia/hitl-workflow/pkg/utils"
)

// QueueBundle holds the command queue halves. Consumer is nil when the
// driver only publishes (QStash delivers through the HTTP ingress).
type QueueBundle struct {
	Publisher port.CommandPublisher
	Consumer  port.CommandConsumer
	close     func() error
}

// Close releases the queue connection
func (b *QueueBundle) Close() error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close()
}

// ProvideDatabase opens the workflow store and applies pending migrations.
func ProvideDatabase(ctx context.Context, cfg database.Config, logger *zap.Logger) (*database.DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return sqlite.Open(ctx, cfg, logger)
}

// ProvideRepository creates the SQLite workflow repository.
func ProvideRepository(db *database.DB, logger *zap.Logger) *repository.WorkflowRepository {
	return repository.NewWorkflowRepository(db.DB, logger)
}

// ProvideQueue creates the command queue selected by cfg.Driver.
func ProvideQueue(ctx context.Context, cfg QueueConfig, logger *zap.Logger) (*QueueBundle, error) {
	switch cfg.Driver {
	case "memory":
		q := queue.NewMemoryQueue(cfg.BufferSize, cfg.Policy, logger.Named("queue"))
		return &QueueBundle{Publisher: q, Consumer: q, close: q.Close}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}

		redisCfg := cfg.Redis
		redisCfg.Policy = cfg.Policy
		q := queue.NewRedisQueue(client, redisCfg, logger.Named("queue"))
		return &QueueBundle{Publisher: q, Consumer: q, close: q.Close}, nil

	case "qstash":
		p := queue.NewQStashPublisher(cfg.QStash, logger.Named("queue"))
		return &QueueBundle{Publisher: p}, nil

	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}

// ProvideSink creates the notification sink selected by cfg.Sink.
func ProvideSink(cfg NotificationConfig, logger *zap.Logger) (port.NotificationSink, error) {
	switch cfg.Sink {
	case "log":
		return notification.NewLogSink(logger.Named("notification")), nil
	case "mailersend":
		if cfg.MailerSend.APIToken == "" {
			return nil, fmt.Errorf("mailersend api token is required")
		}
		return mailersend.NewClient(cfg.MailerSend, logger.Named("mailersend")), nil
	case "lark":
		return lark.NewMessenger(cfg.Lark, logger.Named("lark")), nil
	default:
		return nil, fmt.Errorf("unknown notification sink %q", cfg.Sink)
	}
}

// ProvideRegistry builds the handler registry with one notifier per channel.
// SMS and Slack are registered as unsupported so their failure is explicit.
func ProvideRegistry(cfg NotificationConfig, sink port.NotificationSink, logger *zap.Logger) (dispatcher.Registry, error) {
	adapter := utils.NewZapAdapter(logger.Named("handlers"))

	handlers := service.NewHandlers(service.HandlerDeps{
		Notifiers: []port.ChannelNotifier{
			notification.NewPortalNotifier(cfg.PortalBaseURL, logger.Named("portal")),
			notification.NewEmailNotifier(sink, cfg.PortalBaseURL),
			notification.NewUnsupportedNotifier(workflow.ChannelSMS),
			notification.NewUnsupportedNotifier(workflow.ChannelSlack),
		},
		Sink:              sink,
		DecisionRecipient: cfg.DecisionRecipient,
		Logger:            adapter,
	})

	registry, err := dispatcher.NewRegistry(handlers, dispatcher.WithLogger(adapter))
	if err != nil {
		return nil, fmt.Errorf("failed to build handler registry: %w", err)
	}
	return registry, nil
}

// ProvideExtractor creates the OpenAI extraction client.
func ProvideExtractor(cfg OpenAIConfig, logger *zap.Logger) (port.Extractor, error) {
	if cfg.Client.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required for the intake bot")
	}

	prompts, err := openai.LoadPrompts(cfg.PromptsPath)
	if err != nil {
		return nil, err
	}

	return openai.NewExtractor(cfg.Client, prompts, logger.Named("openai")), nil
}

// inlinePublisher applies commands synchronously instead of queueing them.
// One-shot processes use it so nothing is left in an in-memory queue on exit.
type inlinePublisher struct {
	commands service.CommandService
}

func (p *inlinePublisher) Publish(ctx context.Context, cmd *event.Command) error {
	_, err := p.commands.Process(ctx, cmd)
	return err
}
