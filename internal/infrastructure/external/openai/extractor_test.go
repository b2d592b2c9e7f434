package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/application/port"
	"github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

func fakeCompletionServer(t *testing.T, content string, status int, captured *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if captured != nil {
			body, _ := io.ReadAll(r.Body)
			*captured = string(body)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
			return
		}
		resp := map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]string{"role": "assistant", "content": content},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestExtractor(t *testing.T, url string) *Extractor {
	t.Helper()
	prompts, err := LoadPrompts("")
	require.NoError(t, err)
	return NewExtractor(Config{APIKey: "test-key", BaseURL: url, Model: "gpt-4o-mini"}, prompts, zap.NewNop())
}

func TestExtractor_Complete(t *testing.T) {
	var body string
	srv := fakeCompletionServer(t,
		`{"status":"complete","name":"alice@example.com","amount":1200,"currency":"inr","reason":"team lunch"}`,
		http.StatusOK, &body)
	defer srv.Close()

	ex := newTestExtractor(t, srv.URL)
	history := []port.ChatMessage{
		{Role: "user", Content: "I need a reimbursement"},
		{Role: "assistant", Content: "Sure, what was it for?"},
	}

	result, err := ex.Extract(context.Background(), "1200 rupees for team lunch, alice@example.com", history)
	require.NoError(t, err)
	assert.Equal(t, port.ExtractionComplete, result.Status)
	assert.Equal(t, "alice@example.com", result.Name)
	assert.Equal(t, 1200.0, result.Amount)
	assert.Equal(t, "INR", result.Currency)
	assert.Equal(t, "team lunch", result.Reason)

	assert.Contains(t, body, "Customer: I need a reimbursement")
	assert.Contains(t, body, "Assistant: Sure, what was it for?")
	assert.Contains(t, body, "json_schema")
}

func TestExtractor_Incomplete(t *testing.T) {
	srv := fakeCompletionServer(t,
		`{"status":"incomplete","replyMessage":"What was the expense for?"}`,
		http.StatusOK, nil)
	defer srv.Close()

	result, err := newTestExtractor(t, srv.URL).Extract(context.Background(), "I spent 500", nil)
	require.NoError(t, err)
	assert.Equal(t, port.ExtractionIncomplete, result.Status)
	assert.Equal(t, "What was the expense for?", result.ReplyMessage)
}

func TestExtractor_Failures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		status  int
	}{
		{"upstream error", "", http.StatusInternalServerError},
		{"not json", "I could not help with that", http.StatusOK},
		{"unknown status", `{"status":"maybe"}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeCompletionServer(t, tt.content, tt.status, nil)
			defer srv.Close()

			_, err := newTestExtractor(t, srv.URL).Extract(context.Background(), "hello", nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, workflow.ErrExtractionUnavailable))
		})
	}
}

func TestParseExtraction_EmbeddedJSON(t *testing.T) {
	content := "Here you go:\n```json\n{\"status\":\"Complete\",\"name\":\"bob\",\"amount\":12.5,\"currency\":\" usd \",\"reason\":\"taxi {airport}\"}\n```"

	result, err := parseExtraction(content)
	require.NoError(t, err)
	assert.Equal(t, port.ExtractionComplete, result.Status)
	assert.Equal(t, "USD", result.Currency)
	assert.Equal(t, "taxi {airport}", result.Reason)
}

func TestLoadPrompts(t *testing.T) {
	prompts, err := LoadPrompts("")
	require.NoError(t, err)
	assert.NotEmpty(t, prompts.ExpenseExtraction.System)

	dir := t.TempDir()
	path := dir + "/prompts.yaml"
	require.NoError(t, os.WriteFile(path, []byte("expense_extraction:\n  system: hi\n"), 0o600))
	_, err = LoadPrompts(path)
	assert.Error(t, err)

	_, err = LoadPrompts(dir + "/missing.yaml")
	assert.Error(t, err)
}

func TestExtractor_Integration(t *testing.T) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set, skipping integration test")
	}
	prompts, err := LoadPrompts("")
	require.NoError(t, err)

	ex := NewExtractor(Config{APIKey: apiKey, Model: "gpt-4o-mini"}, prompts, zap.NewNop())
	result, err := ex.Extract(context.Background(),
		"email - alice@example.com, amount - 1500, reason - client dinner", nil)
	require.NoError(t, err)
	assert.Equal(t, port.ExtractionComplete, result.Status)
}
