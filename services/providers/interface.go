package providers

import (
	"context"
)

// Role values for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in a conversation
type Message struct {
	// Role is "system", "user", or "assistant"
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`

	// Metadata carries optional per-message data (e.g. tool results)
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToolParameter describes a single parameter of a tool
type ToolParameter struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
	Required    bool     `json:"required"`
}

// Tool defines a function the model may call
type Tool struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Parameters  map[string]ToolParameter `json:"parameters"`
}

// ToolCall is a tool invocation requested by the model
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// UsageStats represents token usage statistics for a completion
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// EstimatedCost is USD, derived from the provider's price table
	EstimatedCost float64 `json:"estimated_cost"`
}

// CompletionPayload is the provider-level request. The router has already
// resolved the concrete model by the time a provider sees one.
type CompletionPayload struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
	Tools       []Tool    `json:"tools,omitempty"`
}

// ChatResponse represents a completed chat response
type ChatResponse struct {
	Message      Message    `json:"message"`
	Usage        UsageStats `json:"usage"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
	Cached       bool       `json:"cached"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// StreamChunk is one increment of a streaming response. The final chunk
// carries FinishReason and Usage; intermediate chunks carry only Delta.
type StreamChunk struct {
	Delta        string      `json:"delta"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *UsageStats `json:"usage,omitempty"`
}

// ChunkStream is a pull-based stream of completion chunks.
//
// Recv blocks until the next chunk is available and returns io.EOF after the
// final chunk. Close releases the upstream provider connection; callers that
// stop consuming early must call it.
type ChunkStream interface {
	Recv() (*StreamChunk, error)
	Close() error
}

// Provider is the capability a vendor backend must expose. Implementations
// classify their failures into the taxonomy in errors.go; anything they
// cannot classify maps to KindProvider.
type Provider interface {
	// Name returns the provider name (e.g. "openai", "anthropic")
	Name() string

	// SupportedModels returns the models this provider serves, in preference
	// order; the first entry is treated as the provider's default.
	SupportedModels() []string

	// Complete performs a single-shot chat completion
	Complete(ctx context.Context, payload *CompletionPayload) (*ChatResponse, error)

	// StreamComplete performs a streaming chat completion
	StreamComplete(ctx context.Context, payload *CompletionPayload) (ChunkStream, error)

	// CountTokens returns an approximate token count for text under model
	CountTokens(text, model string) int

	// EstimateCost returns the USD cost for the given token usage
	EstimateCost(promptTokens, completionTokens int, model string) float64
}

// ProviderInfo is the read-only registry view of a provider
type ProviderInfo struct {
	Name            string   `json:"name"`
	SupportedModels []string `json:"supported_models"`
	IsDefault       bool     `json:"is_default"`
}
