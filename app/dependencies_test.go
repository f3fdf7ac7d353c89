package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-gateway/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Providers: config.ProvidersConfig{
			OpenAI: config.OpenAIConfig{APIKey: "sk-test"},
		},
		Gateway: config.GatewayConfig{
			DefaultProvider: "openai",
			EnableFallback:  true,
			MaxBackoff:      10 * time.Second,
		},
		Cache: config.CacheConfig{
			Enabled:         true,
			MaxSize:         100,
			TTL:             time.Minute,
			CleanupInterval: time.Minute,
		},
		PII: config.PIIConfig{
			Enabled:       true,
			RedactionChar: "*",
		},
		Experiments: config.ExperimentsConfig{
			Salt:               "test",
			MinSampleSize:      30,
			SignificanceLevel:  0.05,
			LatencyThresholdMs: 50,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

func TestNewDependencies(t *testing.T) {
	t.Run("wires all services without a database", func(t *testing.T) {
		deps, err := NewDependencies(context.Background(), testConfig(), zap.NewNop())
		require.NoError(t, err)
		defer deps.Close()

		assert.Nil(t, deps.DB)
		assert.Nil(t, deps.ExperimentStore)
		assert.NotNil(t, deps.Registry)
		assert.NotNil(t, deps.Router)
		assert.NotNil(t, deps.Experiments)
		assert.NotNil(t, deps.CostModel)
		assert.NotNil(t, deps.CostAnalyzer)
		assert.NotNil(t, deps.Cache)
		assert.NotNil(t, deps.Detector)
		assert.NotNil(t, deps.Pipeline)
		assert.Equal(t, 1, deps.Registry.Count())
	})

	t.Run("skips cache and detector when disabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.Cache.Enabled = false
		cfg.PII.Enabled = false

		deps, err := NewDependencies(context.Background(), cfg, zap.NewNop())
		require.NoError(t, err)
		defer deps.Close()

		assert.Nil(t, deps.Cache)
		assert.Nil(t, deps.Detector)
		assert.NotNil(t, deps.Pipeline)
	})

	t.Run("registers all providers when configured", func(t *testing.T) {
		cfg := testConfig()
		cfg.Providers.Anthropic.APIKey = "sk-ant-test"
		cfg.Providers.Azure.APIKey = "azure-test"
		cfg.Providers.Azure.Endpoint = "https://myresource.openai.azure.com"

		deps, err := NewDependencies(context.Background(), cfg, zap.NewNop())
		require.NoError(t, err)
		defer deps.Close()

		assert.Equal(t, 3, deps.Registry.Count())
		_, err = deps.Registry.Get("azure")
		assert.NoError(t, err)
	})

	t.Run("skips azure without an endpoint", func(t *testing.T) {
		cfg := testConfig()
		cfg.Providers.Azure.APIKey = "azure-test"

		deps, err := NewDependencies(context.Background(), cfg, zap.NewNop())
		require.NoError(t, err)
		defer deps.Close()

		assert.Equal(t, 1, deps.Registry.Count())
	})

	t.Run("returns promptly with the cache worker running", func(t *testing.T) {
		type result struct {
			deps *Dependencies
			err  error
		}
		done := make(chan result, 1)
		go func() {
			deps, err := NewDependencies(context.Background(), testConfig(), zap.NewNop())
			done <- result{deps, err}
		}()

		select {
		case res := <-done:
			require.NoError(t, res.err)
			res.deps.Close()
		case <-time.After(3 * time.Second):
			t.Fatal("NewDependencies did not return with the cache enabled")
		}
	})

	t.Run("close is safe to call twice", func(t *testing.T) {
		deps, err := NewDependencies(context.Background(), testConfig(), zap.NewNop())
		require.NoError(t, err)

		deps.Close()
		deps.Close()
	})
}
