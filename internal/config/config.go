// Package config loads the feather.json project configuration: provider
// declarations with env-resolved API keys, per-model pricing and aliases,
// and the selection policy. The file is found by walking upward from the
// working directory.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/featherdev/feather/internal/llm"
	"github.com/featherdev/feather/internal/providers"
)

// FileName is the configuration file searched for by Find.
const FileName = "feather.json"

// ModelConfig declares one model a provider serves.
type ModelConfig struct {
	Name         string   `json:"name"`
	Aliases      []string `json:"aliases,omitempty"`
	InputPer1K   float64  `json:"inputPer1K"`
	OutputPer1K  float64  `json:"outputPer1K"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// ProviderConfig declares one provider endpoint.
type ProviderConfig struct {
	// APIKeyEnv names the environment variable holding the API key.
	// Defaults per provider id: OPENAI_API_KEY, ANTHROPIC_API_KEY.
	APIKeyEnv string        `json:"apiKeyEnv,omitempty"`
	BaseURL   string        `json:"baseUrl,omitempty"`
	Models    []ModelConfig `json:"models"`
}

// Config is the parsed feather.json.
type Config struct {
	// Policy selects among matching providers: first, roundrobin, cheapest.
	Policy    string                    `json:"policy,omitempty"`
	Providers map[string]ProviderConfig `json:"providers"`
}

var defaultKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

// Find walks upward from dir looking for feather.json. dir empty means the
// working directory.
func Find(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s found from %s upward", FileName, dir)
		}
		dir = parent
	}
}

// Load parses the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for id, p := range cfg.Providers {
		if len(p.Models) == 0 {
			return nil, fmt.Errorf("provider %q declares no models", id)
		}
		for _, m := range p.Models {
			if m.Name == "" {
				return nil, fmt.Errorf("provider %q has a model without a name", id)
			}
		}
	}
	return &cfg, nil
}

// keyFor resolves the API key for a provider, or "" when unset.
func (p ProviderConfig) keyFor(id string) string {
	env := p.APIKeyEnv
	if env == "" {
		env = defaultKeyEnv[id]
	}
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

// modelSpecs converts declared models to registry specs.
func (p ProviderConfig) modelSpecs() []llm.ModelSpec {
	specs := make([]llm.ModelSpec, 0, len(p.Models))
	for _, m := range p.Models {
		specs = append(specs, llm.ModelSpec{
			Name:        m.Name,
			Aliases:     m.Aliases,
			InputPer1K:  m.InputPer1K,
			OutputPer1K: m.OutputPer1K,
		})
	}
	return specs
}

// Entries instantiates provider clients for every configured provider
// whose API key env var is set. Providers with a missing key are omitted,
// not errors: a config can declare more backends than any one machine has
// credentials for.
func (c *Config) Entries() []llm.ProviderEntry {
	var entries []llm.ProviderEntry
	for _, id := range sortedIDs(c.Providers) {
		p := c.Providers[id]
		key := p.keyFor(id)
		if key == "" {
			continue
		}
		var client llm.ChatProvider
		switch id {
		case "anthropic":
			client = providers.NewAnthropicClient(key)
		default:
			// Unknown ids are treated as OpenAI-compatible gateways.
			client = providers.NewOpenAIClient(key, p.BaseURL)
		}
		entries = append(entries, llm.ProviderEntry{
			Key:      id,
			Provider: client,
			Models:   p.modelSpecs(),
		})
	}
	return entries
}

func sortedIDs(m map[string]ProviderConfig) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
