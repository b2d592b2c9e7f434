package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/application/port"
)

// Config holds Lark app credentials
type Config struct {
	AppID     string
	AppSecret string
	BaseURL   string // empty means the public Lark endpoint

	// ReceiveIDType says how notification addresses map to Lark users:
	// "email" (default), "open_id", "user_id" or "union_id"
	ReceiveIDType string
}

// Messenger implements port.NotificationSink by posting rich-text messages
// to the Lark user registered under the notification address
type Messenger struct {
	client        *lark.Client
	receiveIDType string
	logger        *zap.Logger
}

// NewMessenger creates a Lark app client and the message sender around it.
// The tenant access token is fetched and cached by the SDK.
func NewMessenger(cfg Config, logger *zap.Logger) *Messenger {
	opts := []lark.ClientOptionFunc{
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lark.WithOpenBaseUrl(cfg.BaseURL))
	}
	if cfg.ReceiveIDType == "" {
		cfg.ReceiveIDType = "email"
	}

	return &Messenger{
		client:        lark.NewClient(cfg.AppID, cfg.AppSecret, opts...),
		receiveIDType: cfg.ReceiveIDType,
		logger:        logger.With(zap.String("app_id", cfg.AppID)),
	}
}

// Send delivers the notification as a Lark "post" message
func (m *Messenger) Send(ctx context.Context, n *port.Notification) error {
	if n == nil || n.To == "" {
		return fmt.Errorf("recipient cannot be empty")
	}

	content, err := buildPostContent(n.Subject, n.Text)
	if err != nil {
		return err
	}

	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType(m.receiveIDType).
		Body(larkIm.NewCreateMessageReqBodyBuilder().
			ReceiveId(n.To).
			MsgType("post").
			Content(content).
			Build()).
		Build()

	resp, err := m.client.Im.Message.Create(ctx, req)
	if err != nil {
		m.logger.Error("Failed to send message",
			zap.String("receive_id", n.To),
			zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		m.logger.Error("API returned failure",
			zap.String("receive_id", n.To),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}

	m.logger.Info("Message sent successfully",
		zap.String("message_id", messageID),
		zap.String("receive_id", n.To))

	return nil
}

type postElement struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

type postBody struct {
	Title   string          `json:"title"`
	Content [][]postElement `json:"content"`
}

// buildPostContent renders one text paragraph per line
func buildPostContent(title, text string) (string, error) {
	body := postBody{Title: title}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		body.Content = append(body.Content, []postElement{{Tag: "text", Text: line}})
	}

	data, err := json.Marshal(map[string]postBody{"en_us": body})
	if err != nil {
		return "", fmt.Errorf("failed to marshal post content: %w", err)
	}
	return string(data), nil
}

var _ port.NotificationSink = (*Messenger)(nil)
