package azure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/llm-gateway/services/providers"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Adapter) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter := New(Config{
		APIKey:   "test-key",
		Endpoint: server.URL,
	})
	return server, adapter
}

func completionBody(content string) map[string]interface{} {
	return map[string]interface{}{
		"choices": []map[string]interface{}{{
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19},
	}
}

func TestCompleteRoutesToDeploymentWithAPIKeyHeader(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	_, adapter := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("api-key")
		assert.Empty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(completionBody("hello from azure"))
	})

	resp, err := adapter.Complete(context.Background(), &providers.CompletionPayload{
		Model:    "gpt-4",
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	// without an explicit deployment the model name addresses the deployment
	assert.Equal(t, "/openai/deployments/gpt-4/chat/completions", gotPath)
	assert.Equal(t, "api-version="+defaultAPIVersion, gotQuery)
	assert.Equal(t, "test-key", gotKey)

	assert.Equal(t, "hello from azure", resp.Message.Content)
	assert.Equal(t, "azure", resp.Provider)
	assert.Equal(t, 19, resp.Usage.TotalTokens)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestCompleteUsesConfiguredDeployment(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(completionBody("ok"))
	}))
	t.Cleanup(server.Close)

	adapter := New(Config{
		APIKey:     "test-key",
		Endpoint:   server.URL + "/", // trailing slash is tolerated
		Deployment: "prod-gpt4",
	})

	_, err := adapter.Complete(context.Background(), &providers.CompletionPayload{Model: "gpt-4"})
	require.NoError(t, err)
	assert.Equal(t, "/openai/deployments/prod-gpt4/chat/completions", gotPath)
}

func TestCompleteClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   providers.ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, providers.KindRateLimit},
		{"bad key", http.StatusUnauthorized, providers.KindAuthentication},
		{"bad request", http.StatusBadRequest, providers.KindInvalidRequest},
		{"server error", http.StatusInternalServerError, providers.KindProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, adapter := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			_, err := adapter.Complete(context.Background(), &providers.CompletionPayload{Model: "gpt-4"})
			require.Error(t, err)
			assert.Equal(t, tt.kind, providers.Kind(err))
		})
	}
}

func TestStreamCompleteDecodesSSE(t *testing.T) {
	_, adapter := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// leading chunk with no choices mimics the content-filter preamble
		_, _ = w.Write([]byte(`data: {"choices":[]}` + "\n\n"))
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":"hel"}}]}` + "\n\n"))
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":"lo"}}]}` + "\n\n"))
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	})

	stream, err := adapter.StreamComplete(context.Background(), &providers.CompletionPayload{
		Model:    "gpt-4",
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "say hello"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	var content string
	var finish string
	for {
		chunk, err := stream.Recv()
		if err != nil {
			break
		}
		content += chunk.Delta
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
			require.NotNil(t, chunk.Usage)
			assert.Equal(t, 2, chunk.Usage.CompletionTokens)
		}
	}

	assert.Equal(t, "hello", content)
	assert.Equal(t, "stop", finish)
}

func TestEstimateCostFallsBackToDefaultRate(t *testing.T) {
	adapter := New(Config{APIKey: "k", Endpoint: "https://r.openai.azure.com"})

	assert.InDelta(t, 0.09, adapter.EstimateCost(1000, 1000, "gpt-4"), 1e-9)
	assert.InDelta(t, 0.04, adapter.EstimateCost(1000, 1000, "my-custom-deployment"), 1e-9)
}
