package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/upb/llm-gateway/services/providers"
)

const keyPrefix = "llm_cache:"

// fingerprintPayload is serialized with alphabetically ordered keys so the
// same request always hashes to the same fingerprint.
type fingerprintPayload struct {
	MaxTokens   int                 `json:"max_tokens"`
	Messages    []providers.Message `json:"messages"`
	Model       string              `json:"model"`
	Temperature float64             `json:"temperature"`
}

// Fingerprint derives a stable cache key from the request fields that
// determine the completion.
func Fingerprint(messages []providers.Message, model string, temperature float64, maxTokens int) string {
	payload := fingerprintPayload{
		MaxTokens:   maxTokens,
		Messages:    messages,
		Model:       model,
		Temperature: temperature,
	}
	// struct marshaling cannot fail for these field types
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return keyPrefix + hex.EncodeToString(sum[:])
}
