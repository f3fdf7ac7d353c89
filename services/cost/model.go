package cost

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rate is a per-1M-token price pair in USD
type Rate struct {
	Prompt     float64 `yaml:"prompt"`
	Completion float64 `yaml:"completion"`
}

// PriceTable maps model ids to rates, with a per-provider default rate used
// for models not present in the table. Falling back instead of erroring is
// the documented policy: an unpriced model still completes, it is just
// billed at the provider's default rate.
type PriceTable struct {
	Models           map[string]Rate `yaml:"models"`
	ProviderDefaults map[string]Rate `yaml:"provider_defaults"`
}

// DefaultPriceTable returns the built-in table. Prices are per 1M tokens as
// of the snapshot they were taken; currency of the table is not a goal.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		Models: map[string]Rate{
			"gpt-4-turbo-preview":      {Prompt: 10.0, Completion: 30.0},
			"gpt-4":                    {Prompt: 30.0, Completion: 60.0},
			"gpt-3.5-turbo":            {Prompt: 0.5, Completion: 1.5},
			"gpt-3.5-turbo-16k":        {Prompt: 3.0, Completion: 4.0},
			"claude-3-opus-20240229":   {Prompt: 15.0, Completion: 75.0},
			"claude-3-sonnet-20240229": {Prompt: 3.0, Completion: 15.0},
			"claude-3-haiku-20240307":  {Prompt: 0.25, Completion: 1.25},
			"claude-2.1":               {Prompt: 8.0, Completion: 24.0},
			"claude-2.0":               {Prompt: 8.0, Completion: 24.0},
		},
		ProviderDefaults: map[string]Rate{
			"openai":    {Prompt: 10.0, Completion: 30.0},
			"anthropic": {Prompt: 3.0, Completion: 15.0},
		},
	}
}

// Model converts token counts to USD against a static price table.
// It is pure: no side effects, safe for concurrent use.
type Model struct {
	table    PriceTable
	fallback Rate
}

// NewModel creates a cost model over the given table. The fallback rate is
// used when neither the model nor its provider appears in the table.
func NewModel(table PriceTable, fallback Rate) *Model {
	return &Model{table: table, fallback: fallback}
}

// NewDefaultModel creates a cost model with the built-in table
func NewDefaultModel() *Model {
	return NewModel(DefaultPriceTable(), Rate{Prompt: 10.0, Completion: 30.0})
}

// LoadPriceTable reads a YAML price file. Entries merge over the built-in
// table so a deployment only lists the models it overrides.
func LoadPriceTable(path string) (PriceTable, error) {
	table := DefaultPriceTable()

	data, err := os.ReadFile(path)
	if err != nil {
		return table, fmt.Errorf("failed to read price file: %w", err)
	}

	var loaded PriceTable
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return table, fmt.Errorf("failed to parse price file: %w", err)
	}

	for model, rate := range loaded.Models {
		table.Models[model] = rate
	}
	for provider, rate := range loaded.ProviderDefaults {
		table.ProviderDefaults[provider] = rate
	}
	return table, nil
}

// Cost returns the USD cost for the given token usage. Unknown models fall
// back to the provider default rate inferred from the model id prefix, then
// to the configured fallback rate.
func (m *Model) Cost(model string, promptTokens, completionTokens int) float64 {
	rate := m.rateFor(model)
	return float64(promptTokens)/1_000_000*rate.Prompt +
		float64(completionTokens)/1_000_000*rate.Completion
}

// CostForProvider is Cost with an explicit provider for the default lookup,
// for callers that already know which provider served the model.
func (m *Model) CostForProvider(provider, model string, promptTokens, completionTokens int) float64 {
	rate, ok := m.table.Models[model]
	if !ok {
		rate, ok = m.table.ProviderDefaults[provider]
		if !ok {
			rate = m.fallback
		}
	}
	return float64(promptTokens)/1_000_000*rate.Prompt +
		float64(completionTokens)/1_000_000*rate.Completion
}

// TokenCount approximates the number of tokens in text as len/4. This is a
// coarse approximation (roughly 4 characters per token for English prose),
// not an exact tokenizer count.
func (m *Model) TokenCount(text string) int {
	return len(text) / 4
}

func (m *Model) rateFor(model string) Rate {
	if rate, ok := m.table.Models[model]; ok {
		return rate
	}
	for provider, rate := range m.table.ProviderDefaults {
		if strings.HasPrefix(model, providerPrefix(provider)) {
			return rate
		}
	}
	return m.fallback
}

// providerPrefix maps a provider name to the model-id prefix it issues
func providerPrefix(provider string) string {
	switch provider {
	case "openai":
		return "gpt-"
	case "anthropic":
		return "claude-"
	default:
		return provider + "-"
	}
}
