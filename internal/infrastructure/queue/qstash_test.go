package queue

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/domain/event"
	"github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

func TestQStashPublisher_Publish(t *testing.T) {
	var (
		gotPath  string
		gotAuth  string
		gotRetry string
		gotBody  event.Command
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotRetry = r.Header.Get("Upstash-Retries")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messageId":"msg_123"}`))
	}))
	defer server.Close()

	p := NewQStashPublisher(QStashConfig{
		BaseURL:     server.URL,
		Token:       "secret",
		Destination: "https://hitl.example.com/api/workflows",
		Retries:     3,
	}, zap.NewNop())

	cmd := event.NewCommand("wf-1", workflow.EventInteractionRequested, workflow.StateRequested, "accountant_bot_v1")
	require.NoError(t, p.Publish(context.Background(), cmd))

	assert.Equal(t, "/v2/publish/https://hitl.example.com/api/workflows", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "3", gotRetry)
	assert.Equal(t, "wf-1", gotBody.WorkflowID)
	assert.Equal(t, workflow.EventInteractionRequested, gotBody.EventType)
	assert.Equal(t, "accountant_bot_v1", gotBody.InitiatedBy)
}

func TestQStashPublisher_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer server.Close()

	p := NewQStashPublisher(QStashConfig{BaseURL: server.URL, Token: "bad", Destination: "https://x"}, zap.NewNop())

	err := p.Publish(context.Background(), event.NewCommand("wf-1", workflow.EventInteractionRequested, "", "bot"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "invalid token")
}
