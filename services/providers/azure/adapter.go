package azure

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/upb/llm-gateway/services/providers"
)

const defaultAPIVersion = "2024-02-01"

// pricing per 1M tokens; Azure deployments serve OpenAI models at list price
var pricing = map[string]struct{ Prompt, Completion float64 }{
	"gpt-4-turbo-preview": {Prompt: 10.0, Completion: 30.0},
	"gpt-4":               {Prompt: 30.0, Completion: 60.0},
	"gpt-3.5-turbo":       {Prompt: 0.5, Completion: 1.5},
	"gpt-3.5-turbo-16k":   {Prompt: 3.0, Completion: 4.0},
}

var defaultPricing = struct{ Prompt, Completion float64 }{Prompt: 10.0, Completion: 30.0}

var modelOrder = []string{"gpt-4-turbo-preview", "gpt-4", "gpt-3.5-turbo", "gpt-3.5-turbo-16k"}

// Config holds adapter configuration
type Config struct {
	APIKey   string
	Endpoint string // resource endpoint, e.g. https://myresource.openai.azure.com

	// Deployment is the deployment id requests are routed to. When empty
	// the requested model name is used, which matches resources whose
	// deployments are named after the models they serve.
	Deployment string
	APIVersion string
	Timeout    time.Duration
}

// Adapter implements providers.Provider against the Azure OpenAI chat API.
// The wire format is OpenAI-compatible; auth and addressing differ: the key
// travels in an api-key header and the deployment id is part of the path.
type Adapter struct {
	config     Config
	httpClient *http.Client
}

// New creates a new Azure OpenAI adapter
func New(config Config) *Adapter {
	config.Endpoint = strings.TrimRight(config.Endpoint, "/")
	if config.APIVersion == "" {
		config.APIVersion = defaultAPIVersion
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
func (a *Adapter) Name() string { return "azure" }

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

// completionsURL builds the deployment-scoped endpoint for a model
func (a *Adapter) completionsURL(model string) string {
	deployment := a.config.Deployment
	if deployment == "" {
		deployment = model
	}
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		a.config.Endpoint, url.PathEscape(deployment), url.QueryEscape(a.config.APIVersion))
}

// wire types; the body format matches the OpenAI chat API

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
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

func buildRequest(payload *providers.CompletionPayload, stream bool) *wireRequest {
	req := &wireRequest{
		Temperature: payload.Temperature,
		MaxTokens:   payload.MaxTokens,
		Stream:      stream,
	}
	for _, m := range payload.Messages {
		req.Messages = append(req.Messages, wireMessage{Role: m.Role, Content: m.Content})
	}
	return req
}

func (a *Adapter) do(ctx context.Context, model string, wire *wireRequest) (*http.Response, error) {
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, providers.NewInvalidRequestError(a.Name(), "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.completionsURL(model), bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", a.config.APIKey)

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
	resp, err := a.do(ctx, payload.Model, buildRequest(payload, false))
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
		FinishReason: choice.FinishReason,
	}, nil
}

// StreamComplete performs a streaming chat completion over SSE
func (a *Adapter) StreamComplete(ctx context.Context, payload *providers.CompletionPayload) (providers.ChunkStream, error) {
	resp, err := a.do(ctx, payload.Model, buildRequest(payload, true))
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
// approximated as one per delta when the stream carries no usage block.
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
			// Azure prepends a content-filter chunk with no choices
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
