package main

import (
	"fmt"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/taskloop/internal/config"
)

// newProvider creates the LLM provider for a role profile. Keys come from
// credentials.toml first, then the environment.
func newProvider(cfg *config.Config, role string) (llm.Provider, error) {
	p := cfg.GetProfile(role)
	if p.Model == "" {
		return nil, fmt.Errorf("LLM model not configured for %s", role)
	}
	name := p.Provider
	if name == "" {
		name = llm.InferProviderFromModel(p.Model)
	}

	apiKey := ""
	if globalCreds != nil {
		apiKey = globalCreds.GetAPIKey(name)
	}
	if apiKey == "" {
		apiKey = cfg.GetProfileAPIKey(role)
	}

	provider, err := llm.NewProvider(llm.ProviderConfig{
		Provider:  name,
		Model:     p.Model,
		APIKey:    apiKey,
		MaxTokens: p.MaxTokens,
		BaseURL:   p.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating %s provider: %w", role, err)
	}
	return provider, nil
}

// providerCache shares one provider between roles with identical settings.
type providerCache struct {
	cfg  *config.Config
	byID map[config.LLMConfig]llm.Provider
}

func newProviderCache(cfg *config.Config) *providerCache {
	return &providerCache{cfg: cfg, byID: make(map[config.LLMConfig]llm.Provider)}
}

func (c *providerCache) get(role string) (llm.Provider, error) {
	key := c.cfg.GetProfile(role)
	if p, ok := c.byID[key]; ok {
		return p, nil
	}
	p, err := newProvider(c.cfg, role)
	if err != nil {
		return nil, err
	}
	c.byID[key] = p
	return p, nil
}
