package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/application/port"
	"github.com/garyjia/hitl-workflow/internal/domain/event"
)

// QStashConfig configures publishing through Upstash QStash
type QStashConfig struct {
	BaseURL     string
	Token       string
	Destination string
	Retries     int
	Timeout     time.Duration

	// Signing keys verify deliveries on the ingress; the next key is tried
	// when the current one fails
	CurrentSigningKey string
	NextSigningKey    string
}

// QStashPublisher publishes commands to QStash, which delivers them at least
// once to Destination (the command ingress endpoint). It cannot consume.
type QStashPublisher struct {
	cfg    QStashConfig
	client *resty.Client
	logger *zap.Logger
}

// NewQStashPublisher creates a publisher
func NewQStashPublisher(cfg QStashConfig, logger *zap.Logger) *QStashPublisher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://qstash.upstash.io"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.Token).
		SetTimeout(cfg.Timeout)

	return &QStashPublisher{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

type qstashResponse struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

// Publish posts the command to the QStash publish endpoint
func (p *QStashPublisher) Publish(ctx context.Context, cmd *event.Command) error {
	var out, failure qstashResponse

	req := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(cmd).
		SetResult(&out).
		SetError(&failure)
	if p.cfg.Retries > 0 {
		req.SetHeader("Upstash-Retries", strconv.Itoa(p.cfg.Retries))
	}
	if cmd.ID != "" {
		req.SetHeader("Upstash-Deduplication-Id", cmd.ID)
	}

	resp, err := req.Post("/v2/publish/" + p.cfg.Destination)
	if err != nil {
		return fmt.Errorf("qstash publish: %w", err)
	}
	if resp.StatusCode() >= 300 {
		msg := failure.Error
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return fmt.Errorf("qstash publish: status %d: %s", resp.StatusCode(), msg)
	}

	p.logger.Debug("Command published to QStash",
		zap.String("command_id", cmd.ID),
		zap.String("message_id", out.MessageID))
	return nil
}

var _ port.CommandPublisher = (*QStashPublisher)(nil)
