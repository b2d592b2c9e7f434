package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/hitl-workflow/pkg/utils"
)

// EnvPrefix prefixes every environment override, e.g. HITL_SERVER_PORT
const EnvPrefix = "HITL"

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Redis        RedisConfig        `mapstructure:"redis"`
	QStash       QStashConfig       `mapstructure:"qstash"`
	OpenAI       OpenAIConfig       `mapstructure:"openai"`
	Notification NotificationConfig `mapstructure:"notification"`
	Workflow     WorkflowConfig     `mapstructure:"workflow"`
	Sweeper      SweeperConfig      `mapstructure:"sweeper"`
	Logger       LoggerConfig       `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// Queue drivers
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
	QueueQStash = "qstash"
)

// QueueConfig selects the command queue and its delivery policy
type QueueConfig struct {
	Driver         string        `mapstructure:"driver"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	Burst          int           `mapstructure:"burst"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`
}

// RedisConfig holds the Redis queue connection
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	BlockTimeout time.Duration `mapstructure:"block_timeout"`
}

// QStashConfig holds the Upstash QStash publisher settings
type QStashConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Token       string        `mapstructure:"token"`
	Destination string        `mapstructure:"destination"`
	Retries     int           `mapstructure:"retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// Signing keys verify deliveries to POST /api/workflows
	CurrentSigningKey string `mapstructure:"current_signing_key"`
	NextSigningKey    string `mapstructure:"next_signing_key"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	PromptsPath string        `mapstructure:"prompts_path"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Notification sinks
const (
	SinkLog        = "log"
	SinkMailerSend = "mailersend"
	SinkLark       = "lark"
)

// NotificationConfig selects where notifications go
type NotificationConfig struct {
	Sink              string           `mapstructure:"sink"`
	PortalBaseURL     string           `mapstructure:"portal_base_url"`
	DecisionRecipient string           `mapstructure:"decision_recipient"`
	MailerSend        MailerSendConfig `mapstructure:"mailersend"`
	Lark              LarkConfig       `mapstructure:"lark"`
}

// MailerSendConfig holds MailerSend API configuration
type MailerSendConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIToken  string        `mapstructure:"api_token"`
	FromEmail string        `mapstructure:"from_email"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	BaseURL   string `mapstructure:"base_url"`

	ReceiveIDType string `mapstructure:"receive_id_type"`
}

// WorkflowConfig holds the parameters of workflows opened by the bot
type WorkflowConfig struct {
	AgentID         string        `mapstructure:"agent_id"`
	ApproverUserID  string        `mapstructure:"approver_user_id"`
	ApproverChannel string        `mapstructure:"approver_channel"`
	ResponseWindow  time.Duration `mapstructure:"response_window"`
	MaxAmountINR    float64       `mapstructure:"max_amount_inr"`
}

// SweeperConfig holds the timeout sweep schedule
type SweeperConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Schedule     string        `mapstructure:"schedule"`
	BatchSize    int           `mapstructure:"batch_size"`
	RequestGrace time.Duration `mapstructure:"request_grace"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads .env (if present), the YAML file at configPath (if given) and
// HITL_* environment overrides, in increasing priority
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv loads variables from path without overriding the real environment
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values. Every key needs a default
// (even an empty one) so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("database.path", "data/workflows.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	v.SetDefault("queue.driver", QueueMemory)
	v.SetDefault("queue.buffer_size", 256)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.retry_delay", 2*time.Second)
	v.SetDefault("queue.rate_limit", 20.0)
	v.SetDefault("queue.burst", 5)
	v.SetDefault("queue.process_timeout", 30*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "hitl:commands")
	v.SetDefault("redis.block_timeout", 5*time.Second)

	v.SetDefault("qstash.base_url", "https://qstash.upstash.io")
	v.SetDefault("qstash.token", "")
	v.SetDefault("qstash.destination", "")
	v.SetDefault("qstash.retries", 3)
	v.SetDefault("qstash.timeout", 10*time.Second)
	v.SetDefault("qstash.current_signing_key", "")
	v.SetDefault("qstash.next_signing_key", "")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.prompts_path", "")
	v.SetDefault("openai.timeout", 60*time.Second)

	v.SetDefault("notification.sink", SinkLog)
	v.SetDefault("notification.portal_base_url", "http://localhost:5173")
	v.SetDefault("notification.decision_recipient", "")
	v.SetDefault("notification.mailersend.base_url", "https://api.mailersend.com")
	v.SetDefault("notification.mailersend.api_token", "")
	v.SetDefault("notification.mailersend.from_email", "")
	v.SetDefault("notification.mailersend.timeout", 10*time.Second)
	v.SetDefault("notification.lark.app_id", "")
	v.SetDefault("notification.lark.app_secret", "")
	v.SetDefault("notification.lark.base_url", "")
	v.SetDefault("notification.lark.receive_id_type", "email")

	v.SetDefault("workflow.agent_id", "expense_bot")
	v.SetDefault("workflow.approver_user_id", "manager_1")
	v.SetDefault("workflow.approver_channel", "web_portal")
	v.SetDefault("workflow.response_window", 24*time.Hour)
	v.SetDefault("workflow.max_amount_inr", 0)

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.schedule", "@every 1m")
	v.SetDefault("sweeper.batch_size", 100)
	v.SetDefault("sweeper.request_grace", 2*time.Minute)
	v.SetDefault("sweeper.timeout", time.Minute)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds the conventional unprefixed names of secrets
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		"openai.api_key":                    {"HITL_OPENAI_API_KEY", "OPENAI_API_KEY"},
		"redis.addr":                        {"HITL_REDIS_ADDR", "REDIS_ADDR"},
		"redis.password":                    {"HITL_REDIS_PASSWORD", "REDIS_PASSWORD"},
		"qstash.token":                      {"HITL_QSTASH_TOKEN", "QSTASH_TOKEN"},
		"qstash.current_signing_key":        {"HITL_QSTASH_CURRENT_SIGNING_KEY", "QSTASH_CURRENT_SIGNING_KEY"},
		"qstash.next_signing_key":           {"HITL_QSTASH_NEXT_SIGNING_KEY", "QSTASH_NEXT_SIGNING_KEY"},
		"notification.mailersend.api_token": {"HITL_NOTIFICATION_MAILERSEND_API_TOKEN", "MAILERSEND_API_TOKEN"},
		"notification.lark.app_id":          {"HITL_NOTIFICATION_LARK_APP_ID", "LARK_APP_ID"},
		"notification.lark.app_secret":      {"HITL_NOTIFICATION_LARK_APP_SECRET", "LARK_APP_SECRET"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Queue.Driver {
	case QueueMemory:
	case QueueRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for queue driver %q", QueueRedis)
		}
	case QueueQStash:
		if c.QStash.Token == "" {
			return fmt.Errorf("qstash.token is required for queue driver %q", QueueQStash)
		}
		if c.QStash.Destination == "" {
			return fmt.Errorf("qstash.destination is required for queue driver %q", QueueQStash)
		}
	default:
		return fmt.Errorf("unknown queue.driver %q", c.Queue.Driver)
	}

	switch c.Notification.Sink {
	case SinkLog:
	case SinkMailerSend:
		if c.Notification.MailerSend.APIToken == "" {
			return fmt.Errorf("notification.mailersend.api_token is required")
		}
		if c.Notification.MailerSend.FromEmail == "" {
			return fmt.Errorf("notification.mailersend.from_email is required")
		}
	case SinkLark:
		if c.Notification.Lark.AppID == "" || c.Notification.Lark.AppSecret == "" {
			return fmt.Errorf("notification.lark.app_id and app_secret are required")
		}
	default:
		return fmt.Errorf("unknown notification.sink %q", c.Notification.Sink)
	}
	if r := c.Notification.DecisionRecipient; r != "" {
		if err := utils.ValidateEmail(r); err != nil {
			return fmt.Errorf("notification.decision_recipient: %w", err)
		}
	}

	if c.Workflow.AgentID == "" || c.Workflow.ApproverUserID == "" {
		return fmt.Errorf("workflow.agent_id and workflow.approver_user_id are required")
	}
	switch c.Workflow.ApproverChannel {
	case "web_portal", "email", "sms", "slack":
	default:
		return fmt.Errorf("unknown workflow.approver_channel %q", c.Workflow.ApproverChannel)
	}
	if c.Workflow.ResponseWindow <= 0 {
		return fmt.Errorf("workflow.response_window must be positive")
	}
	if c.Workflow.MaxAmountINR < 0 {
		return fmt.Errorf("workflow.max_amount_inr cannot be negative")
	}

	return nil
}
