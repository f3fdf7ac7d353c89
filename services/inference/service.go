package inference

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-gateway/services/cache"
	"github.com/upb/llm-gateway/services/cost"
	"github.com/upb/llm-gateway/services/experiment"
	"github.com/upb/llm-gateway/services/prompt"
	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/services/routing"
)

// Config toggles the optional pipeline stages
type Config struct {
	PIIEnabled   bool
	CacheEnabled bool
}

// Service is the chat completion pipeline. Every request flows through PII
// redaction, experiment assignment, context analysis, the response cache,
// and the provider router, in that order.
type Service struct {
	router      *routing.Service
	experiments *experiment.Service
	analyzer    *cost.Analyzer
	costModel   *cost.Model
	cache       cache.ResponseCache
	detector    *prompt.Detector
	config      Config
	logger      *zap.Logger

	now func() time.Time
}

// NewService wires the pipeline. cache and detector may be nil when the
// matching Config toggle is off.
func NewService(
	router *routing.Service,
	experiments *experiment.Service,
	analyzer *cost.Analyzer,
	costModel *cost.Model,
	responseCache cache.ResponseCache,
	detector *prompt.Detector,
	config Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		router:      router,
		experiments: experiments,
		analyzer:    analyzer,
		costModel:   costModel,
		cache:       responseCache,
		detector:    detector,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

// ProcessChatCompletion runs one non-streaming completion through the full
// pipeline. The caller's request is never mutated; experiment overrides are
// applied to a copy.
func (s *Service) ProcessChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	working, piiFound := s.redactMessages(req)

	variantID := s.applyVariant(working)

	s.analyzeContext(working)

	var fingerprint string
	if s.config.CacheEnabled && s.cache != nil {
		fingerprint = cache.Fingerprint(working.Messages, working.Model, working.Temperature, working.MaxTokens)
		if cached := s.cache.Get(fingerprint); cached != nil {
			hit := *cached
			hit.Cached = true
			s.logger.Debug("cache hit", zap.String("model", working.Model))
			return &ChatResult{Response: &hit, VariantID: variantID, PII: piiFound}, nil
		}
	}

	payload := &providers.CompletionPayload{
		Messages:    working.Messages,
		Model:       working.Model,
		MaxTokens:   working.MaxTokens,
		Temperature: working.Temperature,
		Tools:       working.Tools,
	}

	start := s.now()
	resp, err := s.router.CompleteWithFallback(ctx, working.Provider, payload)
	latencyMs := float64(s.now().Sub(start)) / float64(time.Millisecond)

	if err != nil {
		s.recordOutcome(working, variantID, 0, 0, latencyMs, true)
		return nil, err
	}

	if fingerprint != "" {
		s.cache.Set(fingerprint, resp)
	}

	s.recordOutcome(working, variantID, resp.Usage.TotalTokens, resp.Usage.EstimatedCost, latencyMs, false)

	s.logger.Info("completion served",
		zap.String("provider", resp.Provider),
		zap.String("model", resp.Model),
		zap.String("session_id", working.SessionID),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Float64("latency_ms", latencyMs))

	return &ChatResult{
		Response:  resp,
		VariantID: variantID,
		LatencyMs: latencyMs,
		PII:       piiFound,
	}, nil
}

// ProcessChatStream opens a streaming completion. The cache is bypassed.
// The experiment outcome is recorded exactly once, when the returned stream
// terminates with EOF or an error, with token counts taken from the final
// usage chunk when the provider sent one.
func (s *Service) ProcessChatStream(ctx context.Context, req *ChatRequest) (providers.ChunkStream, *ChatResult, error) {
	working, piiFound := s.redactMessages(req)

	variantID := s.applyVariant(working)

	s.analyzeContext(working)

	payload := &providers.CompletionPayload{
		Messages:    working.Messages,
		Model:       working.Model,
		MaxTokens:   working.MaxTokens,
		Temperature: working.Temperature,
		Tools:       working.Tools,
	}

	start := s.now()
	stream, providerName, err := s.router.StreamWithFallback(ctx, working.Provider, payload)
	if err != nil {
		latencyMs := float64(s.now().Sub(start)) / float64(time.Millisecond)
		s.recordOutcome(working, variantID, 0, 0, latencyMs, true)
		return nil, nil, err
	}

	recorded := &recordingStream{
		inner: stream,
		done: func(usage *providers.UsageStats, streamErr error) {
			latencyMs := float64(s.now().Sub(start)) / float64(time.Millisecond)
			tokens := 0
			costUSD := 0.0
			if usage != nil {
				tokens = usage.TotalTokens
				costUSD = usage.EstimatedCost
			}
			s.recordOutcome(working, variantID, tokens, costUSD, latencyMs, streamErr != nil)
		},
	}

	result := &ChatResult{
		Response:  &providers.ChatResponse{Provider: providerName, Model: working.Model},
		VariantID: variantID,
		PII:       piiFound,
	}
	return recorded, result, nil
}

// redactMessages returns a copy of the request with PII masked out of every
// message when detection is enabled.
func (s *Service) redactMessages(req *ChatRequest) (*ChatRequest, bool) {
	working := *req
	working.Messages = make([]providers.Message, len(req.Messages))
	copy(working.Messages, req.Messages)

	if !s.config.PIIEnabled || s.detector == nil {
		return &working, false
	}

	found := false
	for i := range working.Messages {
		detection := s.detector.DetectAndRedact(working.Messages[i].Content)
		if detection.Detected {
			found = true
			working.Messages[i].Content = detection.RedactedText
			s.logger.Info("redacted pii from message",
				zap.Int("message_index", i),
				zap.Any("types", detection.Types))
		}
	}
	return &working, found
}

// applyVariant assigns an experiment variant and applies its overrides in
// place. Returns the assigned variant id, or "" when no experiment applies.
func (s *Service) applyVariant(req *ChatRequest) string {
	if req.ExperimentID == "" || req.UserID == "" || s.experiments == nil {
		return ""
	}

	variant := s.experiments.AssignVariant(req.ExperimentID, req.UserID)
	if variant == nil {
		return ""
	}

	if variant.Provider != "" {
		req.Provider = variant.Provider
	}
	if variant.Model != "" {
		req.Model = variant.Model
	}
	if variant.Temperature != nil {
		req.Temperature = *variant.Temperature
	}
	if variant.MaxTokens != nil {
		req.MaxTokens = *variant.MaxTokens
	}
	if variant.SystemPrompt != "" {
		messages := make([]providers.Message, 0, len(req.Messages)+1)
		messages = append(messages, providers.Message{
			Role:    providers.RoleSystem,
			Content: variant.SystemPrompt,
		})
		messages = append(messages, req.Messages...)
		req.Messages = messages
	}

	s.logger.Debug("assigned experiment variant",
		zap.String("experiment_id", req.ExperimentID),
		zap.String("variant_id", variant.ID))
	return variant.ID
}

// analyzeContext logs context usage recommendations without altering the
// request.
func (s *Service) analyzeContext(req *ChatRequest) {
	if s.analyzer == nil {
		return
	}
	analysis := s.analyzer.AnalyzeContext(req.Messages, s.costModel.TokenCount)
	if analysis.ActionSuggested != "" {
		s.logger.Info("context analysis",
			zap.Int("total_tokens", analysis.TotalTokens),
			zap.Float64("usage_percent", analysis.UsagePercent),
			zap.String("action", analysis.ActionSuggested))
	}
}

func (s *Service) recordOutcome(req *ChatRequest, variantID string, tokens int, costUSD, latencyMs float64, isError bool) {
	if variantID == "" || s.experiments == nil {
		return
	}
	s.experiments.RecordOutcome(req.ExperimentID, variantID, tokens, costUSD, latencyMs, isError)
}

// recordingStream invokes done exactly once when the stream terminates,
// tracking the last usage chunk seen.
type recordingStream struct {
	inner    providers.ChunkStream
	done     func(usage *providers.UsageStats, err error)
	usage    *providers.UsageStats
	reported bool
}

func (r *recordingStream) Recv() (*providers.StreamChunk, error) {
	chunk, err := r.inner.Recv()
	if err != nil {
		if err == io.EOF {
			r.report(nil)
		} else {
			r.report(err)
		}
		return nil, err
	}
	if chunk.Usage != nil {
		r.usage = chunk.Usage
	}
	return chunk, nil
}

// Close releases the provider stream. An abandoned stream counts as an
// error outcome unless it already terminated cleanly.
func (r *recordingStream) Close() error {
	r.report(io.ErrClosedPipe)
	return r.inner.Close()
}

func (r *recordingStream) report(err error) {
	if r.reported {
		return
	}
	r.reported = true
	r.done(r.usage, err)
}
