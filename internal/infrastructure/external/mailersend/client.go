package mailersend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"
	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/application/port"
)

// DefaultBaseURL is the public MailerSend API
const DefaultBaseURL = "https://api.mailersend.com"

// Config holds MailerSend client configuration
type Config struct {
	BaseURL   string // non-default values route the SDK through another host
	APIToken  string
	FromEmail string
	Timeout   time.Duration
}

// Client sends transactional email through the MailerSend SDK
type Client struct {
	cfg    Config
	ms     *mailersend.Mailersend
	logger *zap.Logger
}

// NewClient creates a new MailerSend client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	ms := mailersend.NewMailersend(cfg.APIToken)
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if target, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/")); err == nil && cfg.BaseURL != DefaultBaseURL {
		httpClient.Transport = &hostRewriter{target: target, next: http.DefaultTransport}
	}
	ms.SetClient(httpClient)

	return &Client{
		cfg:    cfg,
		ms:     ms,
		logger: logger,
	}
}

// Send posts one email. Any non-2xx answer is returned as an error.
func (c *Client) Send(ctx context.Context, n *port.Notification) error {
	if n == nil || n.To == "" {
		return fmt.Errorf("recipient cannot be empty")
	}

	message := c.ms.Email.NewMessage()
	message.SetFrom(mailersend.From{Email: c.cfg.FromEmail})
	message.SetRecipients([]mailersend.Recipient{{Email: n.To}})
	message.SetSubject(n.Subject)
	message.SetText(n.Text)
	if n.HTML != "" {
		message.SetHTML(n.HTML)
	}

	res, err := c.ms.Email.Send(ctx, message)
	if err != nil {
		c.logger.Error("Failed to send email", zap.String("to", n.To), zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	c.logger.Info("Email sent",
		zap.String("to", n.To),
		zap.String("subject", n.Subject),
		zap.String("message_id", res.Header.Get("X-Message-Id")))

	return nil
}

// hostRewriter sends SDK requests to the configured host, keeping the API path
type hostRewriter struct {
	target *url.URL
	next   http.RoundTripper
}

func (h *hostRewriter) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = h.target.Scheme
	out.URL.Host = h.target.Host
	out.Host = h.target.Host
	return h.next.RoundTrip(out)
}

var _ port.NotificationSink = (*Client)(nil)
