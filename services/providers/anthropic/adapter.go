package anthropic

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

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
)

// pricing per 1M tokens; the table is also the supported-model list
var pricing = map[string]struct{ Prompt, Completion float64 }{
	"claude-3-opus-20240229":   {Prompt: 15.0, Completion: 75.0},
	"claude-3-sonnet-20240229": {Prompt: 3.0, Completion: 15.0},
	"claude-3-haiku-20240307":  {Prompt: 0.25, Completion: 1.25},
	"claude-2.1":               {Prompt: 8.0, Completion: 24.0},
	"claude-2.0":               {Prompt: 8.0, Completion: 24.0},
}

var defaultPricing = struct{ Prompt, Completion float64 }{Prompt: 3.0, Completion: 15.0}

var modelOrder = []string{
	"claude-3-opus-20240229",
	"claude-3-sonnet-20240229",
	"claude-3-haiku-20240307",
	"claude-2.1",
	"claude-2.0",
}

// Config holds adapter configuration
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Adapter implements providers.Provider against the Anthropic messages API
type Adapter struct {
	config     Config
	httpClient *http.Client
}

// New creates a new Anthropic adapter
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
func (a *Adapter) Name() string { return "anthropic" }

// SupportedModels returns the models this adapter serves
func (a *Adapter) SupportedModels() []string {
	models := make([]string, len(modelOrder))
	copy(models, modelOrder)
	return models
}

// CountTokens approximates the token count as len/4
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

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	System      string        `json:"system,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
}

type wireTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type wireContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type wireResponse struct {
	Content    []wireContentBlock `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type wireStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// buildRequest hoists the system message into the dedicated system field;
// Anthropic rejects system-role entries inside the messages array.
func (a *Adapter) buildRequest(payload *providers.CompletionPayload, stream bool) *wireRequest {
	maxTokens := payload.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	req := &wireRequest{
		Model:       payload.Model,
		MaxTokens:   maxTokens,
		Temperature: payload.Temperature,
		Stream:      stream,
	}
	for _, m := range payload.Messages {
		if m.Role == providers.RoleSystem {
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += m.Content
			continue
		}
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
			Name:        t.Name,
			Description: t.Description,
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": props,
				"required":   required,
			},
		})
	}
	return req
}

func (a *Adapter) do(ctx context.Context, wire *wireRequest) (*http.Response, error) {
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, providers.NewInvalidRequestError(a.Name(), "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.config.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

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

	var content string
	var toolCalls []providers.ToolCall
	for _, block := range wire.Content {
		switch block.Type {
		case "text":
			content += block.Text
		case "tool_use":
			toolCalls = append(toolCalls, providers.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}

	usage := providers.UsageStats{
		PromptTokens:     wire.Usage.InputTokens,
		CompletionTokens: wire.Usage.OutputTokens,
		TotalTokens:      wire.Usage.InputTokens + wire.Usage.OutputTokens,
		EstimatedCost:    a.EstimateCost(wire.Usage.InputTokens, wire.Usage.OutputTokens, payload.Model),
	}

	return &providers.ChatResponse{
		Message:      providers.Message{Role: providers.RoleAssistant, Content: content},
		Usage:        usage,
		Provider:     a.Name(),
		Model:        payload.Model,
		ToolCalls:    toolCalls,
		FinishReason: wire.StopReason,
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

type sseStream struct {
	adapter      *Adapter
	model        string
	body         io.ReadCloser
	scanner      *bufio.Scanner
	promptTokens int
	outputTokens int
	done         bool
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

		var event wireStreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			return nil, providers.NewProviderError(s.adapter.Name(), "failed to decode stream event", err)
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta.Text != "" {
				s.outputTokens++
				return &providers.StreamChunk{Delta: event.Delta.Text}, nil
			}
		case "message_delta":
			if event.Usage.OutputTokens > 0 {
				s.outputTokens = event.Usage.OutputTokens
			}
			if event.Delta.StopReason != "" {
				s.done = true
				total := s.promptTokens + s.outputTokens
				return &providers.StreamChunk{
					FinishReason: event.Delta.StopReason,
					Usage: &providers.UsageStats{
						PromptTokens:     s.promptTokens,
						CompletionTokens: s.outputTokens,
						TotalTokens:      total,
						EstimatedCost:    s.adapter.EstimateCost(s.promptTokens, s.outputTokens, s.model),
					},
				}, nil
			}
		case "message_stop":
			s.done = true
			return nil, io.EOF
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
