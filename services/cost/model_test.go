package cost

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostKnownModel(t *testing.T) {
	m := NewDefaultModel()

	// gpt-4: $30/$60 per 1M tokens
	assert.InDelta(t, 0.09, m.Cost("gpt-4", 1000, 1000), 1e-9)
	// claude-3-haiku: $0.25/$1.25 per 1M tokens
	assert.InDelta(t, 0.0015, m.Cost("claude-3-haiku-20240307", 2000, 800), 1e-9)
	assert.Zero(t, m.Cost("gpt-4", 0, 0))
}

func TestCostUnknownModelUsesProviderDefault(t *testing.T) {
	m := NewDefaultModel()

	// gpt- prefix resolves to the openai default ($10/$30)
	assert.InDelta(t, 0.04, m.Cost("gpt-5-preview", 1000, 1000), 1e-9)
	// claude- prefix resolves to the anthropic default ($3/$15)
	assert.InDelta(t, 0.018, m.Cost("claude-4", 1000, 1000), 1e-9)
}

func TestCostUnknownProviderUsesFallbackRate(t *testing.T) {
	m := NewModel(DefaultPriceTable(), Rate{Prompt: 1.0, Completion: 2.0})

	assert.InDelta(t, 0.003, m.Cost("mistral-large", 1000, 1000), 1e-9)
}

func TestCostForProvider(t *testing.T) {
	m := NewDefaultModel()

	// listed model wins regardless of provider argument
	assert.InDelta(t, 0.09, m.CostForProvider("anthropic", "gpt-4", 1000, 1000), 1e-9)
	// unknown model falls to the named provider's default
	assert.InDelta(t, 0.018, m.CostForProvider("anthropic", "claude-next", 1000, 1000), 1e-9)
	// unknown model and provider fall to the global fallback
	m = NewModel(DefaultPriceTable(), Rate{Prompt: 5.0, Completion: 5.0})
	assert.InDelta(t, 0.01, m.CostForProvider("mistral", "mistral-large", 1000, 1000), 1e-9)
}

func TestTokenCount(t *testing.T) {
	m := NewDefaultModel()

	assert.Equal(t, 0, m.TokenCount(""))
	assert.Equal(t, 0, m.TokenCount("abc"))
	assert.Equal(t, 1, m.TokenCount("four"))
	assert.Equal(t, 10, m.TokenCount("the quick brown fox jumps over the lazy dog"))
}

func TestLoadPriceTableMergesOverBuiltin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  gpt-4:
    prompt: 25.0
    completion: 50.0
  in-house-7b:
    prompt: 0.1
    completion: 0.2
provider_defaults:
  openai:
    prompt: 8.0
    completion: 24.0
`), 0o644))

	table, err := LoadPriceTable(path)
	require.NoError(t, err)

	// overridden and new entries take effect
	assert.Equal(t, Rate{Prompt: 25.0, Completion: 50.0}, table.Models["gpt-4"])
	assert.Equal(t, Rate{Prompt: 0.1, Completion: 0.2}, table.Models["in-house-7b"])
	assert.Equal(t, Rate{Prompt: 8.0, Completion: 24.0}, table.ProviderDefaults["openai"])

	// untouched built-in entries survive the merge
	assert.Equal(t, Rate{Prompt: 0.5, Completion: 1.5}, table.Models["gpt-3.5-turbo"])
	assert.Equal(t, Rate{Prompt: 3.0, Completion: 15.0}, table.ProviderDefaults["anthropic"])
}

func TestLoadPriceTableMissingFileReturnsBuiltin(t *testing.T) {
	table, err := LoadPriceTable(filepath.Join(t.TempDir(), "no-such.yaml"))
	require.Error(t, err)
	assert.Equal(t, DefaultPriceTable(), table)
}

func TestLoadPriceTableBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models: [not, a, map]"), 0o644))

	table, err := LoadPriceTable(path)
	require.Error(t, err)
	assert.Equal(t, DefaultPriceTable(), table)
}
