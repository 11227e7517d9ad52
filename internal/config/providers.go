package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aiorchestrator/orchestrator/internal/domain"
)

// ProviderModelYAML is one model entry under a provider in the static
// provider/model table (§6.3).
type ProviderModelYAML struct {
	MaxTokens          int     `yaml:"max_tokens"`
	ContextWindow      int     `yaml:"context_window"`
	InputCostPerToken  float64 `yaml:"input_cost_per_token"`
	OutputCostPerToken float64 `yaml:"output_cost_per_token"`
	SupportsStreaming  bool    `yaml:"supports_streaming"`
	SupportsFunctions  bool    `yaml:"supports_functions"`
}

// ProviderYAML is one provider entry in the static table, everything
// except credentials (those stay in environment variables).
type ProviderYAML struct {
	BaseURL       string                       `yaml:"base_url"`
	DefaultModel  string                       `yaml:"default_model"`
	TimeoutMs     int                          `yaml:"timeout_ms"`
	Models        map[string]ProviderModelYAML `yaml:"models"`
}

// ProviderTableYAML is the root document: provider name -> static config.
type ProviderTableYAML struct {
	Providers map[string]ProviderYAML `yaml:"providers"`
}

// LoadProviderTable reads the static model→provider table (§6.3) from a
// YAML file at path. Per-provider API keys and retry settings still come
// from the environment; this only supplies the parts that are safe to
// check into source control.
func LoadProviderTable(path string) (ProviderTableYAML, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ProviderTableYAML{}, fmt.Errorf("op=config.LoadProviderTable: %w", err)
	}
	var doc ProviderTableYAML
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return ProviderTableYAML{}, fmt.Errorf("op=config.LoadProviderTable: yaml parse: %w", err)
	}
	return doc, nil
}

// ToProviderConfig merges a YAML provider entry with its runtime
// credentials into a domain.ProviderConfig ready for validation.
func (p ProviderYAML) ToProviderConfig(name, apiKey string, rc RetryConfig) domain.ProviderConfig {
	models := make(map[string]domain.ModelConfig, len(p.Models))
	for modelName, m := range p.Models {
		models[modelName] = domain.ModelConfig{
			MaxTokens:          m.MaxTokens,
			ContextWindow:      m.ContextWindow,
			InputCostPerToken:  m.InputCostPerToken,
			OutputCostPerToken: m.OutputCostPerToken,
			SupportsStreaming:  m.SupportsStreaming,
			SupportsFunctions:  m.SupportsFunctions,
		}
	}
	return domain.ProviderConfig{
		Name:         name,
		APIKey:       apiKey,
		BaseURL:      p.BaseURL,
		DefaultModel: p.DefaultModel,
		TimeoutMs:    p.TimeoutMs,
		MaxRetries:   rc.MaxRetries,
		RetryDelayMs: int(rc.InitialDelay.Milliseconds()),
		Models:       models,
	}
}
