package cost

import (
	"fmt"

	"github.com/upb/llm-gateway/services/providers"
)

// AnalyzerConfig bounds the context-window analysis
type AnalyzerConfig struct {
	MaxContextTokens       int
	AutoSummarizeThreshold int
	LongMessageTokens      int
	MaxConversationLength  int
}

// DefaultAnalyzerConfig returns the default analysis thresholds
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		MaxContextTokens:       100_000,
		AutoSummarizeThreshold: 80_000,
		LongMessageTokens:      10_000,
		MaxConversationLength:  50,
	}
}

// ContextAnalysis is the result of inspecting a conversation's token usage.
// It is informational only; nothing in the pipeline acts on it.
type ContextAnalysis struct {
	TotalTokens     int      `json:"total_tokens"`
	UsagePercent    float64  `json:"usage_percent"`
	Recommendations []string `json:"recommendations"`
	ActionSuggested string   `json:"action_suggested,omitempty"`
}

// Analyzer inspects conversation context and reports optimization
// opportunities without mutating or blocking the request.
type Analyzer struct {
	config AnalyzerConfig
}

// NewAnalyzer creates a context analyzer
func NewAnalyzer(config AnalyzerConfig) *Analyzer {
	return &Analyzer{config: config}
}

// AnalyzeContext counts tokens via countFn and returns recommendations
func (a *Analyzer) AnalyzeContext(messages []providers.Message, countFn func(string) int) *ContextAnalysis {
	total := 0
	systemCount := 0
	longCount := 0
	for _, msg := range messages {
		tokens := countFn(msg.Content)
		total += tokens
		if msg.Role == providers.RoleSystem {
			systemCount++
		}
		if tokens > a.config.LongMessageTokens {
			longCount++
		}
	}

	analysis := &ContextAnalysis{
		TotalTokens:  total,
		UsagePercent: float64(total) / float64(a.config.MaxContextTokens) * 100,
	}

	if analysis.UsagePercent > 90 {
		analysis.Recommendations = append(analysis.Recommendations, fmt.Sprintf(
			"context window is %.1f%% full; consider summarizing or truncating conversation history",
			analysis.UsagePercent))
	}
	if total > a.config.AutoSummarizeThreshold {
		analysis.Recommendations = append(analysis.Recommendations,
			"context exceeds auto-summarization threshold")
		analysis.ActionSuggested = "AUTO_SUMMARIZE_RECOMMENDED"
	}
	if systemCount > 1 {
		analysis.Recommendations = append(analysis.Recommendations, fmt.Sprintf(
			"found %d system messages; consider consolidating to one", systemCount))
	}
	if longCount > 0 {
		analysis.Recommendations = append(analysis.Recommendations, fmt.Sprintf(
			"found %d messages exceeding %d tokens; consider chunking long inputs",
			longCount, a.config.LongMessageTokens))
	}
	if len(messages) > a.config.MaxConversationLength {
		analysis.Recommendations = append(analysis.Recommendations, fmt.Sprintf(
			"conversation has %d messages; consider keeping only recent ones", len(messages)))
	}
	if len(analysis.Recommendations) == 0 {
		analysis.Recommendations = append(analysis.Recommendations, "context usage is optimal")
	}

	return analysis
}
