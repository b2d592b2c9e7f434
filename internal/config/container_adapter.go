package config

import (
	"github.com/garyjia/hitl-workflow/internal/application/service"
	"github.com/garyjia/hitl-workflow/internal/container"
	"github.com/garyjia/hitl-workflow/internal/domain/workflow"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/external/lark"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/external/mailersend"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/external/openai"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/queue"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/worker"
	"github.com/garyjia/hitl-workflow/pkg/database"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	policy := queue.RetryPolicy{MaxAttempts: c.Queue.MaxAttempts, RetryDelay: c.Queue.RetryDelay}

	return &container.Config{
		Database: database.Config{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Queue: container.QueueConfig{
			Driver:     c.Queue.Driver,
			BufferSize: c.Queue.BufferSize,
			Policy:     policy,
			Worker: worker.CommandWorkerConfig{
				RateLimit:      c.Queue.RateLimit,
				Burst:          c.Queue.Burst,
				ProcessTimeout: c.Queue.ProcessTimeout,
				RestartDelay:   c.Queue.RetryDelay,
			},
			RedisAddr:     c.Redis.Addr,
			RedisPassword: c.Redis.Password,
			RedisDB:       c.Redis.DB,
			Redis: queue.RedisConfig{
				KeyPrefix:    c.Redis.KeyPrefix,
				BlockTimeout: c.Redis.BlockTimeout,
				Policy:       policy,
			},
			QStash: queue.QStashConfig{
				BaseURL:     c.QStash.BaseURL,
				Token:       c.QStash.Token,
				Destination: c.QStash.Destination,
				Retries:     c.QStash.Retries,
				Timeout:     c.QStash.Timeout,

				CurrentSigningKey: c.QStash.CurrentSigningKey,
				NextSigningKey:    c.QStash.NextSigningKey,
			},
		},
		OpenAI: container.OpenAIConfig{
			Client: openai.Config{
				APIKey:  c.OpenAI.APIKey,
				BaseURL: c.OpenAI.BaseURL,
				Model:   c.OpenAI.Model,
				Timeout: c.OpenAI.Timeout,
			},
			PromptsPath: c.OpenAI.PromptsPath,
		},
		Notification: container.NotificationConfig{
			Sink:              c.Notification.Sink,
			PortalBaseURL:     c.Notification.PortalBaseURL,
			DecisionRecipient: c.Notification.DecisionRecipient,
			MailerSend: mailersend.Config{
				BaseURL:   c.Notification.MailerSend.BaseURL,
				APIToken:  c.Notification.MailerSend.APIToken,
				FromEmail: c.Notification.MailerSend.FromEmail,
				Timeout:   c.Notification.MailerSend.Timeout,
			},
			Lark: lark.Config{
				AppID:     c.Notification.Lark.AppID,
				AppSecret: c.Notification.Lark.AppSecret,
				BaseURL:   c.Notification.Lark.BaseURL,

				ReceiveIDType: c.Notification.Lark.ReceiveIDType,
			},
		},
		Intake: service.IntakeConfig{
			AgentID: c.Workflow.AgentID,
			Approver: workflow.Recipient{
				UserID:  c.Workflow.ApproverUserID,
				Channel: workflow.Channel(c.Workflow.ApproverChannel),
			},
			ResponseWindow: c.Workflow.ResponseWindow,
			MaxAmount:      c.Workflow.MaxAmountINR,
		},
		Sweeper: container.SweeperConfig{
			Enabled: c.Sweeper.Enabled,
			Sweep: service.SweepConfig{
				BatchSize:    c.Sweeper.BatchSize,
				RequestGrace: c.Sweeper.RequestGrace,
			},
			Worker: worker.SweepWorkerConfig{
				Schedule: c.Sweeper.Schedule,
				Timeout:  c.Sweeper.Timeout,
			},
		},
	}
}
