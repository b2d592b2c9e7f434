// Package container wires the workflow engine, its adapters and workers, and
// owns their startup and shutdown order.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/hitl-workflow/internal/application/service"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/external/lark"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/external/mailersend"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/external/openai"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/queue"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/worker"
	"github.com/garyjia/hitl-workflow/pkg/database"
)

// Config holds all configuration for the Container, expressed in the
// config types of the packages it wires
type Config struct {
	Database     database.Config
	Queue        QueueConfig
	OpenAI       OpenAIConfig
	Notification NotificationConfig
	Intake       service.IntakeConfig
	Sweeper      SweeperConfig
}

// QueueConfig selects the command queue
type QueueConfig struct {
	// Driver is one of memory, redis, qstash
	Driver     string
	BufferSize int
	Policy     queue.RetryPolicy
	Worker     worker.CommandWorkerConfig

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Redis         queue.RedisConfig

	QStash queue.QStashConfig
}

// OpenAIConfig holds the extraction client settings
type OpenAIConfig struct {
	Client      openai.Config
	PromptsPath string
}

// NotificationConfig selects the notification sink
type NotificationConfig struct {
	// Sink is one of log, mailersend, lark
	Sink              string
	PortalBaseURL     string
	DecisionRecipient string
	MailerSend        mailersend.Config
	Lark              lark.Config
}

// SweeperConfig holds the timeout sweep settings
type SweeperConfig struct {
	Enabled bool
	Sweep   service.SweepConfig
	Worker  worker.SweepWorkerConfig
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: database.Config{
			Path:            "data/workflows.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		Queue: QueueConfig{
			Driver:     "memory",
			BufferSize: 256,
			Policy:     queue.DefaultRetryPolicy,
			Worker:     worker.DefaultCommandWorkerConfig(),
		},
		OpenAI: OpenAIConfig{
			Client: openai.Config{Model: "gpt-4o-mini", Timeout: 60 * time.Second},
		},
		Notification: NotificationConfig{
			Sink:          "log",
			PortalBaseURL: "http://localhost:5173",
		},
		Intake: service.IntakeConfig{
			AgentID:        "expense_bot",
			ResponseWindow: 24 * time.Hour,
		},
		Sweeper: SweeperConfig{
			Enabled: true,
			Sweep:   service.SweepConfig{BatchSize: 100, RequestGrace: 2 * time.Minute},
			Worker:  worker.SweepWorkerConfig{Schedule: "@every 1m", Timeout: time.Minute},
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	switch c.Queue.Driver {
	case "memory", "redis", "qstash":
	default:
		return fmt.Errorf("unknown queue driver %q", c.Queue.Driver)
	}

	switch c.Notification.Sink {
	case "log", "mailersend", "lark":
	default:
		return fmt.Errorf("unknown notification sink %q", c.Notification.Sink)
	}

	if c.Intake.AgentID == "" {
		return fmt.Errorf("intake agent id is required")
	}
	if c.Intake.Approver.UserID == "" {
		return fmt.Errorf("approver user id is required")
	}

	return nil
}
