package routing

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-gateway/services/providers"
)

// AttemptError records one failed provider attempt
type AttemptError struct {
	Provider string
	Err      error
}

// AllProvidersFailedError is returned when every candidate provider in the
// fallback chain failed for a request.
type AllProvidersFailedError struct {
	Attempts []AttemptError
}

func (e *AllProvidersFailedError) Error() string {
	names := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		names[i] = a.Provider
	}
	return fmt.Sprintf("all providers failed (%s): %v", strings.Join(names, ", "), e.lastErr())
}

// Unwrap exposes the final provider error for errors.Is / errors.As
func (e *AllProvidersFailedError) Unwrap() error { return e.lastErr() }

func (e *AllProvidersFailedError) lastErr() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Config tunes the router
type Config struct {
	// EnableFallback switches failover on; when false a failed call on the
	// selected provider is returned immediately.
	EnableFallback bool

	// MaxBackoff caps the sleep applied after a rate-limit response before
	// trying the next provider.
	MaxBackoff time.Duration

	// CallTimeout bounds each individual provider attempt; zero means the
	// caller's context deadline alone applies.
	CallTimeout time.Duration
}

// DefaultConfig returns the router defaults
func DefaultConfig() Config {
	return Config{
		EnableFallback: true,
		MaxBackoff:     10 * time.Second,
	}
}

// Service routes completion requests across the registered providers,
// backing off on rate limits and failing over on errors.
type Service struct {
	registry *providers.Registry
	config   Config
	logger   *zap.Logger

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates a router over the given registry
func NewService(registry *providers.Registry, config Config, logger *zap.Logger) *Service {
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 10 * time.Second
	}
	return &Service{
		registry: registry,
		config:   config,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SelectModel returns the requested model if the provider supports it, or
// the provider's first supported model otherwise. An empty request selects
// the first supported model.
func (s *Service) SelectModel(p providers.Provider, requested string) string {
	supported := p.SupportedModels()
	if len(supported) == 0 {
		return requested
	}
	if requested == "" {
		return supported[0]
	}
	for _, m := range supported {
		if m == requested {
			return requested
		}
	}
	s.logger.Warn("requested model not supported, substituting",
		zap.String("provider", p.Name()),
		zap.String("requested", requested),
		zap.String("substituted", supported[0]))
	return supported[0]
}

// order returns the providers to try: the preferred provider first, then the
// rest of the registry in registration order. Unknown preferred names fall
// back to the registry default.
func (s *Service) order(preferred string) []providers.Provider {
	first, err := s.registry.Get(preferred)
	if err != nil {
		first, err = s.registry.Default()
		if err != nil {
			return nil
		}
	}

	chain := []providers.Provider{first}
	if !s.config.EnableFallback {
		return chain
	}
	for _, name := range s.registry.FallbackOrder() {
		if name == first.Name() {
			continue
		}
		if p, err := s.registry.Get(name); err == nil {
			chain = append(chain, p)
		}
	}
	return chain
}

// backoff returns the rate-limit sleep for a one-based attempt number:
// min(2^attempt, MaxBackoff) seconds
func (s *Service) backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if d > s.config.MaxBackoff {
		d = s.config.MaxBackoff
	}
	return d
}

// CompleteWithFallback runs a completion against the preferred provider and
// fails over through the remaining registered providers. Rate-limit errors
// sleep with exponential backoff before moving on; every other provider
// error moves on immediately. The model in the payload is re-selected per
// provider so each attempt runs a model that provider actually serves.
func (s *Service) CompleteWithFallback(ctx context.Context, preferred string, payload *providers.CompletionPayload) (*providers.ChatResponse, error) {
	chain := s.order(preferred)
	if len(chain) == 0 {
		return nil, &AllProvidersFailedError{}
	}

	var attempts []AttemptError
	for i, p := range chain {
		attempt := *payload
		attempt.Model = s.SelectModel(p, payload.Model)

		resp, err := s.callOne(ctx, p, &attempt)
		if err == nil {
			if i > 0 {
				s.logger.Info("request served by fallback provider",
					zap.String("provider", p.Name()),
					zap.Int("attempt", i+1))
			}
			return resp, nil
		}

		attempts = append(attempts, AttemptError{Provider: p.Name(), Err: err})
		s.logger.Warn("provider attempt failed",
			zap.String("provider", p.Name()),
			zap.String("kind", string(providers.Kind(err))),
			zap.Error(err))

		if ctx.Err() != nil {
			break
		}
		if providers.IsRateLimit(err) && i < len(chain)-1 {
			if sleepErr := s.sleep(ctx, s.backoff(i + 1)); sleepErr != nil {
				break
			}
		}
	}

	return nil, &AllProvidersFailedError{Attempts: attempts}
}

func (s *Service) callOne(ctx context.Context, p providers.Provider, payload *providers.CompletionPayload) (*providers.ChatResponse, error) {
	if s.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.CallTimeout)
		defer cancel()
	}
	return p.Complete(ctx, payload)
}

// StreamWithFallback opens a streaming completion with the same failover
// policy as CompleteWithFallback. The first chunk is pulled eagerly so that
// a provider which accepts the request but fails before producing output
// still triggers failover; once a chunk has been yielded the stream is
// committed to that provider.
func (s *Service) StreamWithFallback(ctx context.Context, preferred string, payload *providers.CompletionPayload) (providers.ChunkStream, string, error) {
	chain := s.order(preferred)
	if len(chain) == 0 {
		return nil, "", &AllProvidersFailedError{}
	}

	var attempts []AttemptError
	for i, p := range chain {
		attempt := *payload
		attempt.Model = s.SelectModel(p, payload.Model)

		stream, err := p.StreamComplete(ctx, &attempt)
		if err == nil {
			buffered, firstErr := bufferFirst(stream)
			if firstErr == nil {
				return buffered, p.Name(), nil
			}
			err = firstErr
		}

		attempts = append(attempts, AttemptError{Provider: p.Name(), Err: err})
		s.logger.Warn("stream attempt failed",
			zap.String("provider", p.Name()),
			zap.Error(err))

		if ctx.Err() != nil {
			break
		}
		if providers.IsRateLimit(err) && i < len(chain)-1 {
			if sleepErr := s.sleep(ctx, s.backoff(i + 1)); sleepErr != nil {
				break
			}
		}
	}

	return nil, "", &AllProvidersFailedError{Attempts: attempts}
}
