package cost

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/llm-gateway/services/providers"
)

// tokensPerMessage drives AnalyzeContext with a fixed count per message
func tokensPerMessage(n int) func(string) int {
	return func(string) int { return n }
}

func userMessages(n int) []providers.Message {
	msgs := make([]providers.Message, n)
	for i := range msgs {
		msgs[i] = providers.Message{Role: providers.RoleUser, Content: "hello"}
	}
	return msgs
}

func TestAnalyzeContextOptimal(t *testing.T) {
	a := NewAnalyzer(DefaultAnalyzerConfig())

	analysis := a.AnalyzeContext(userMessages(3), tokensPerMessage(100))

	assert.Equal(t, 300, analysis.TotalTokens)
	assert.InDelta(t, 0.3, analysis.UsagePercent, 1e-9)
	assert.Equal(t, []string{"context usage is optimal"}, analysis.Recommendations)
	assert.Empty(t, analysis.ActionSuggested)
}

func TestAnalyzeContextNearWindowLimit(t *testing.T) {
	a := NewAnalyzer(DefaultAnalyzerConfig())

	// 10 messages x 9500 tokens = 95k of the 100k window
	analysis := a.AnalyzeContext(userMessages(10), tokensPerMessage(9500))

	assert.Equal(t, 95_000, analysis.TotalTokens)
	assert.InDelta(t, 95.0, analysis.UsagePercent, 1e-9)
	assert.Equal(t, "AUTO_SUMMARIZE_RECOMMENDED", analysis.ActionSuggested)

	joined := strings.Join(analysis.Recommendations, "\n")
	assert.Contains(t, joined, "95.0% full")
	assert.Contains(t, joined, "auto-summarization threshold")
}

func TestAnalyzeContextAutoSummarizeThresholdOnly(t *testing.T) {
	a := NewAnalyzer(DefaultAnalyzerConfig())

	// 85k tokens: above the 80k summarize threshold, below 90% usage
	analysis := a.AnalyzeContext(userMessages(10), tokensPerMessage(8500))

	assert.Equal(t, "AUTO_SUMMARIZE_RECOMMENDED", analysis.ActionSuggested)
	require.Len(t, analysis.Recommendations, 1)
	assert.Contains(t, analysis.Recommendations[0], "auto-summarization threshold")
}

func TestAnalyzeContextMultipleSystemMessages(t *testing.T) {
	a := NewAnalyzer(DefaultAnalyzerConfig())

	msgs := []providers.Message{
		{Role: providers.RoleSystem, Content: "you are helpful"},
		{Role: providers.RoleSystem, Content: "you are terse"},
		{Role: providers.RoleUser, Content: "hi"},
	}
	analysis := a.AnalyzeContext(msgs, tokensPerMessage(10))

	joined := strings.Join(analysis.Recommendations, "\n")
	assert.Contains(t, joined, "2 system messages")
}

func TestAnalyzeContextLongMessages(t *testing.T) {
	a := NewAnalyzer(DefaultAnalyzerConfig())

	analysis := a.AnalyzeContext(userMessages(2), tokensPerMessage(12_000))

	joined := strings.Join(analysis.Recommendations, "\n")
	assert.Contains(t, joined, "2 messages exceeding 10000 tokens")
}

func TestAnalyzeContextLongConversation(t *testing.T) {
	a := NewAnalyzer(DefaultAnalyzerConfig())

	analysis := a.AnalyzeContext(userMessages(60), tokensPerMessage(1))

	joined := strings.Join(analysis.Recommendations, "\n")
	assert.Contains(t, joined, "conversation has 60 messages")
}

func TestAnalyzeContextCustomThresholds(t *testing.T) {
	a := NewAnalyzer(AnalyzerConfig{
		MaxContextTokens:       1000,
		AutoSummarizeThreshold: 500,
		LongMessageTokens:      200,
		MaxConversationLength:  5,
	})

	analysis := a.AnalyzeContext(userMessages(6), tokensPerMessage(250))

	assert.Equal(t, 1500, analysis.TotalTokens)
	assert.InDelta(t, 150.0, analysis.UsagePercent, 1e-9)
	assert.Equal(t, "AUTO_SUMMARIZE_RECOMMENDED", analysis.ActionSuggested)
	// usage, summarize, long-message, and length recommendations all fire
	assert.Len(t, analysis.Recommendations, 4)
}
