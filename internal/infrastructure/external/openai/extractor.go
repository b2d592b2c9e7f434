package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/application/port"
	"github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

// Config holds the OpenAI client settings
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Extractor implements port.Extractor with a JSON-schema constrained chat completion
type Extractor struct {
	client  *openai.Client
	model   string
	prompts *PromptConfig
	logger  *zap.Logger
}

// NewExtractor creates a new OpenAI extractor
func NewExtractor(cfg Config, prompts *PromptConfig, logger *zap.Logger) *Extractor {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Extractor{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		prompts: prompts,
		logger:  logger,
	}
}

// extractionSchema mirrors port.ExtractionResult
var extractionSchema = jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"status":       {Type: jsonschema.String, Enum: []string{string(port.ExtractionComplete), string(port.ExtractionIncomplete)}},
		"name":         {Type: jsonschema.String},
		"amount":       {Type: jsonschema.Number},
		"currency":     {Type: jsonschema.String},
		"reason":       {Type: jsonschema.String},
		"replyMessage": {Type: jsonschema.String},
	},
	Required: []string{"status"},
}

type promptData struct {
	Message string
	History []port.ChatMessage
}

// Extract asks the model for the expense fields. Any failure, including an
// unparseable answer, is reported as workflow.ErrExtractionUnavailable.
func (e *Extractor) Extract(ctx context.Context, message string, history []port.ChatMessage) (*port.ExtractionResult, error) {
	spec := e.prompts.ExpenseExtraction

	userPrompt, err := renderTemplate(spec.UserTemplate, promptData{Message: message, History: history})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", workflow.ErrExtractionUnavailable, err)
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: spec.System},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "expense_extraction",
				Schema: &extractionSchema,
			},
		},
	})
	if err != nil {
		e.logger.Error("OpenAI API call failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", workflow.ErrExtractionUnavailable, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no response from OpenAI", workflow.ErrExtractionUnavailable)
	}

	content := resp.Choices[0].Message.Content
	result, err := parseExtraction(content)
	if err != nil {
		e.logger.Error("Failed to parse OpenAI response",
			zap.Error(err),
			zap.String("content", content))
		return nil, fmt.Errorf("%w: %v", workflow.ErrExtractionUnavailable, err)
	}

	e.logger.Info("Expense extraction completed",
		zap.String("status", string(result.Status)),
		zap.Bool("has_amount", result.Amount > 0))

	return result, nil
}

// parseExtraction decodes the model answer, falling back to the first JSON
// object embedded in prose or a code block
func parseExtraction(content string) (*port.ExtractionResult, error) {
	var result port.ExtractionResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		jsonStr := extractJSON(content)
		if jsonStr == "" {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
	}

	switch port.ExtractionStatus(strings.ToLower(string(result.Status))) {
	case port.ExtractionComplete:
		result.Status = port.ExtractionComplete
	case port.ExtractionIncomplete:
		result.Status = port.ExtractionIncomplete
	default:
		return nil, fmt.Errorf("unexpected status %q", result.Status)
	}

	result.Currency = strings.ToUpper(strings.TrimSpace(result.Currency))
	return &result, nil
}

// extractJSON extracts JSON from markdown code blocks
func extractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}
	end := findJSONEnd(content, start)
	if end <= start {
		return ""
	}
	return content[start:end]
}

// findJSONEnd finds the end of the JSON object starting at start
func findJSONEnd(content string, start int) int {
	if start < 0 || start >= len(content) || content[start] != '{' {
		return -1
	}

	braceCount := 0
	inString := false
	escapeNext := false

	for i := start; i < len(content); i++ {
		char := content[i]

		if escapeNext {
			escapeNext = false
			continue
		}

		if char == '\\' {
			escapeNext = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		if char == '{' {
			braceCount++
		} else if char == '}' {
			braceCount--
			if braceCount == 0 {
				return i + 1
			}
		}
	}

	return -1
}

var _ port.Extractor = (*Extractor)(nil)
