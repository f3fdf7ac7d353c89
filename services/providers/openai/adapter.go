package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/upb/llm-gateway/services/providers"
)

const defaultBaseURL = "https://api.openai.com/v1"

// pricing per 1M tokens. The table doubles as the supported-model list.
var pricing = map[string]struct{ Prompt, Completion float64 }{
	"gpt-4-turbo-preview": {Prompt: 10.0, Completion: 30.0},
	"gpt-4":               {Prompt: 30.0, Completion: 60.0},
	"gpt-3.5-turbo":       {Prompt: 0.5, Completion: 1.5},
	"gpt-3.5-turbo-16k":   {Prompt: 3.0, Completion: 4.0},
}

// defaultPricing is used for models missing from the table
var defaultPricing = struct{ Prompt, Completion float64 }{Prompt: 10.0, Completion: 30.0}

var modelOrder = []string{"gpt-4-turbo-preview", "gpt-4", "gpt-3.5-turbo", "gpt-3.5-turbo-16k"}

// Config holds adapter configuration
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	OrgID   string
}

// Adapter implements providers.Provider against the OpenAI chat API
type Adapter struct {
	config     Config
	httpClient *http.Client
}

// New creates a new OpenAI adapter
func New(config Config) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	return &Adapter{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the provider name
func (a *Adapter) Name() string { return "openai" }

// SupportedModels returns the models this adapter serves
func (a *Adapter) SupportedModels() []string {
	models := make([]string, len(modelOrder))
	copy(models, modelOrder)
	return models
}

// CountTokens approximates the token count as len/4. Exact counts require a
// tokenizer; this approximation is deliberate and documented.
func (a *Adapter) CountTokens(text, model string) int {
	return len(text) / 4
}

// EstimateCost returns the USD cost for the given token usage
func (a *Adapter) EstimateCost(promptTokens, completionTokens int, model string) float64 {
	rates, ok := pricing[model]
	if !ok {
		rates = defaultPricing
	}
	return float64(promptTokens)/1_000_000*rates.Prompt +
		float64(completionTokens)/1_000_000*rates.Completion
}

// wire types

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Role      string         `json:"role"`
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type wireStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (a *Adapter) buildRequest(payload *providers.CompletionPayload, stream bool) *wireRequest {
	req := &wireRequest{
		Model:       payload.Model,
		Temperature: payload.Temperature,
		MaxTokens:   payload.MaxTokens,
		Stream:      stream,
	}
	for _, m := range payload.Messages {
		req.Messages = append(req.Messages, wireMessage{Role: m.Role, Content: m.Content})
	}
	for _, t := range payload.Tools {
		props := make(map[string]interface{}, len(t.Parameters))
		var required []string
		for name, p := range t.Parameters {
			prop := map[string]interface{}{"type": p.Type, "description": p.Description}
			if len(p.Enum) > 0 {
				prop["enum"] = p.Enum
			}
			props[name] = prop
			if p.Required {
				required = append(required, name)
			}
		}
		req.Tools = append(req.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters: map[string]interface{}{
					"type":       "object",
					"properties": props,
					"required":   required,
				},
			},
		})
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = "auto"
	}
	return req
}

func (a *Adapter) do(ctx context.Context, wire *wireRequest) (*http.Response, error) {
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, providers.NewInvalidRequestError(a.Name(), "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	if a.config.OrgID != "" {
		httpReq.Header.Set("OpenAI-Organization", a.config.OrgID)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "http request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, a.classifyStatus(resp.StatusCode, respBody)
	}
	return resp, nil
}

// classifyStatus maps HTTP status codes into the provider error taxonomy
func (a *Adapter) classifyStatus(status int, body []byte) *providers.ProviderError {
	msg := fmt.Sprintf("status %d: %s", status, strings.TrimSpace(string(body)))
	switch {
	case status == http.StatusTooManyRequests:
		return providers.NewRateLimitError(a.Name(), msg, nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return providers.NewAuthenticationError(a.Name(), msg, nil)
	case status >= 400 && status < 500:
		return providers.NewInvalidRequestError(a.Name(), msg, nil)
	default:
		return providers.NewProviderError(a.Name(), msg, nil)
	}
}

// Complete performs a single-shot chat completion
func (a *Adapter) Complete(ctx context.Context, payload *providers.CompletionPayload) (*providers.ChatResponse, error) {
	resp, err := a.do(ctx, a.buildRequest(payload, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, providers.NewProviderError(a.Name(), "failed to decode response", err)
	}
	if len(wire.Choices) == 0 {
		return nil, providers.NewProviderError(a.Name(), "response contained no choices", nil)
	}

	choice := wire.Choices[0]
	var toolCalls []providers.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, providers.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return &providers.ChatResponse{
		Message: providers.Message{Role: providers.RoleAssistant, Content: choice.Message.Content},
		Usage: providers.UsageStats{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
			EstimatedCost:    a.EstimateCost(wire.Usage.PromptTokens, wire.Usage.CompletionTokens, payload.Model),
		},
		Provider:     a.Name(),
		Model:        payload.Model,
		ToolCalls:    toolCalls,
		FinishReason: choice.FinishReason,
	}, nil
}

// StreamComplete performs a streaming chat completion over SSE
func (a *Adapter) StreamComplete(ctx context.Context, payload *providers.CompletionPayload) (providers.ChunkStream, error) {
	resp, err := a.do(ctx, a.buildRequest(payload, true))
	if err != nil {
		return nil, err
	}

	promptTokens := 0
	for _, m := range payload.Messages {
		promptTokens += a.CountTokens(m.Content, payload.Model)
	}

	return &sseStream{
		adapter:      a,
		model:        payload.Model,
		body:         resp.Body,
		scanner:      bufio.NewScanner(resp.Body),
		promptTokens: promptTokens,
	}, nil
}

// sseStream decodes "data: {...}" lines into chunks. Completion tokens are
// approximated as one per delta, matching the upstream behavior when the
// stream carries no usage block.
type sseStream struct {
	adapter          *Adapter
	model            string
	body             io.ReadCloser
	scanner          *bufio.Scanner
	promptTokens     int
	completionTokens int
	done             bool
}

func (s *sseStream) Recv() (*providers.StreamChunk, error) {
	if s.done {
		return nil, io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			s.done = true
			return nil, io.EOF
		}

		var wire wireStreamChunk
		if err := json.Unmarshal([]byte(data), &wire); err != nil {
			return nil, providers.NewProviderError(s.adapter.Name(), "failed to decode stream chunk", err)
		}
		if len(wire.Choices) == 0 {
			continue
		}

		choice := wire.Choices[0]
		if choice.FinishReason != "" {
			s.done = true
			total := s.promptTokens + s.completionTokens
			return &providers.StreamChunk{
				FinishReason: choice.FinishReason,
				Usage: &providers.UsageStats{
					PromptTokens:     s.promptTokens,
					CompletionTokens: s.completionTokens,
					TotalTokens:      total,
					EstimatedCost:    s.adapter.EstimateCost(s.promptTokens, s.completionTokens, s.model),
				},
			}, nil
		}
		if choice.Delta.Content != "" {
			s.completionTokens++
			return &providers.StreamChunk{Delta: choice.Delta.Content}, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return nil, providers.NewProviderError(s.adapter.Name(), "stream read failed", err)
	}
	s.done = true
	return nil, io.EOF
}

func (s *sseStream) Close() error {
	s.done = true
	return s.body.Close()
}
