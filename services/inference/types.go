package inference

import (
	"github.com/upb/llm-gateway/services/providers"
)

// ChatRequest is the gateway-level completion request
type ChatRequest struct {
	Messages     []providers.Message `json:"messages" validate:"required,min=1,dive"`
	Provider     string              `json:"provider,omitempty"`
	Model        string              `json:"model,omitempty"`
	Temperature  float64             `json:"temperature,omitempty" validate:"gte=0,lte=2"`
	MaxTokens    int                 `json:"max_tokens,omitempty" validate:"gte=0"`
	Tools        []providers.Tool    `json:"tools,omitempty"`
	UserID       string              `json:"user_id,omitempty"`
	SessionID    string              `json:"session_id,omitempty"`
	ExperimentID string              `json:"experiment_id,omitempty"`
}

// ChatResult is the pipeline's response envelope
type ChatResult struct {
	Response  *providers.ChatResponse `json:"response"`
	VariantID string                  `json:"variant_id,omitempty"`
	LatencyMs float64                 `json:"latency_ms"`
	PII       bool                    `json:"pii_redacted"`
}
