package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-gateway/services/cost"
	"github.com/upb/llm-gateway/services/experiment"
	"github.com/upb/llm-gateway/services/inference"
	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/services/routing"
)

// stubProvider serves canned responses for handler tests
type stubProvider struct {
	name     string
	failWith error
}

func (p *stubProvider) Name() string              { return p.name }
func (p *stubProvider) SupportedModels() []string { return []string{"gpt-4", "gpt-3.5-turbo"} }

func (p *stubProvider) Complete(ctx context.Context, payload *providers.CompletionPayload) (*providers.ChatResponse, error) {
	if p.failWith != nil {
		return nil, p.failWith
	}
	return &providers.ChatResponse{
		Message:  providers.Message{Role: providers.RoleAssistant, Content: "hello there"},
		Usage:    providers.UsageStats{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30, EstimatedCost: 0.0012},
		Provider: p.name,
		Model:    payload.Model,
	}, nil
}

func (p *stubProvider) StreamComplete(ctx context.Context, payload *providers.CompletionPayload) (providers.ChunkStream, error) {
	if p.failWith != nil {
		return nil, p.failWith
	}
	return &stubStream{chunks: []providers.StreamChunk{
		{Delta: "hello "},
		{Delta: "there", FinishReason: "stop", Usage: &providers.UsageStats{TotalTokens: 30}},
	}}, nil
}

func (p *stubProvider) CountTokens(text, model string) int { return len(text) / 4 }
func (p *stubProvider) EstimateCost(prompt, completion int, model string) float64 {
	return 0.0012
}

type stubStream struct {
	chunks []providers.StreamChunk
	pos    int
}

func (s *stubStream) Recv() (*providers.StreamChunk, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return &c, nil
}

func (s *stubStream) Close() error { return nil }

func newChatHandler(t *testing.T, provider providers.Provider) *ChatHandler {
	t.Helper()
	logger := zap.NewNop()

	registry := providers.NewRegistry(provider.Name())
	require.NoError(t, registry.Register(provider))

	router := routing.NewService(registry, routing.DefaultConfig(), logger)
	experiments := experiment.NewService(experiment.DefaultConfig("handler-test"), logger)
	pipeline := inference.NewService(
		router,
		experiments,
		cost.NewAnalyzer(cost.DefaultAnalyzerConfig()),
		cost.NewDefaultModel(),
		nil,
		nil,
		inference.Config{},
		logger,
	)
	return NewChatHandler(pipeline, logger)
}

func completionBody() string {
	return `{"messages":[{"role":"user","content":"hi"}],"model":"gpt-4"}`
}

func TestHandleChatCompletion(t *testing.T) {
	t.Run("returns a completion", func(t *testing.T) {
		handler := newChatHandler(t, &stubProvider{name: "openai"})

		req := httptest.NewRequest(http.MethodPost, "/chat/completions", strings.NewReader(completionBody()))
		w := httptest.NewRecorder()

		handler.HandleChatCompletion(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var result inference.ChatResult
		require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
		assert.Equal(t, "hello there", result.Response.Message.Content)
		assert.Equal(t, "openai", result.Response.Provider)
		assert.Equal(t, 30, result.Response.Usage.TotalTokens)
	})

	t.Run("rejects invalid JSON", func(t *testing.T) {
		handler := newChatHandler(t, &stubProvider{name: "openai"})

		req := httptest.NewRequest(http.MethodPost, "/chat/completions", strings.NewReader("{not json"))
		w := httptest.NewRecorder()

		handler.HandleChatCompletion(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects empty messages", func(t *testing.T) {
		handler := newChatHandler(t, &stubProvider{name: "openai"})

		req := httptest.NewRequest(http.MethodPost, "/chat/completions", strings.NewReader(`{"messages":[]}`))
		w := httptest.NewRecorder()

		handler.HandleChatCompletion(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("maps exhausted providers to 502", func(t *testing.T) {
		failing := &stubProvider{
			name:     "openai",
			failWith: providers.NewProviderError("openai", "upstream down", nil),
		}
		handler := newChatHandler(t, failing)

		req := httptest.NewRequest(http.MethodPost, "/chat/completions", strings.NewReader(completionBody()))
		w := httptest.NewRecorder()

		handler.HandleChatCompletion(w, req)

		assert.Equal(t, http.StatusBadGateway, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "all_providers_failed", body["error"])
	})
}

func TestHandleChatStream(t *testing.T) {
	t.Run("writes SSE chunks and DONE sentinel", func(t *testing.T) {
		handler := newChatHandler(t, &stubProvider{name: "openai"})

		req := httptest.NewRequest(http.MethodPost, "/chat/completions/stream", strings.NewReader(completionBody()))
		w := httptest.NewRecorder()

		handler.HandleChatStream(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

		var dataLines []string
		scanner := bufio.NewScanner(w.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
			}
		}
		require.Len(t, dataLines, 3)

		var first providers.StreamChunk
		require.NoError(t, json.Unmarshal([]byte(dataLines[0]), &first))
		assert.Equal(t, "hello ", first.Delta)

		var last providers.StreamChunk
		require.NoError(t, json.Unmarshal([]byte(dataLines[1]), &last))
		assert.Equal(t, "stop", last.FinishReason)

		assert.Equal(t, "[DONE]", dataLines[2])
	})

	t.Run("maps stream open failure to 502", func(t *testing.T) {
		failing := &stubProvider{
			name:     "openai",
			failWith: providers.NewProviderError("openai", "upstream down", nil),
		}
		handler := newChatHandler(t, failing)

		req := httptest.NewRequest(http.MethodPost, "/chat/completions/stream", strings.NewReader(completionBody()))
		w := httptest.NewRecorder()

		handler.HandleChatStream(w, req)

		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}
