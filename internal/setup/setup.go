// Package setup writes a starter taskloop.toml, interactively or from flags.
package setup

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/huh"
	"github.com/vinayprograms/taskloop/internal/config"
)

// Provider options
const (
	ProviderAnthropic   = "anthropic"
	ProviderOpenAI      = "openai"
	ProviderGoogle      = "google"
	ProviderGroq        = "groq"
	ProviderMistral     = "mistral"
	ProviderXAI         = "xai"
	ProviderOpenRouter  = "openrouter"
	ProviderOllamaLocal = "ollama-local"
	ProviderLiteLLM     = "litellm"
	ProviderLMStudio    = "lmstudio"
)

// Providers lists the providers offered by the wizard.
var Providers = []string{
	ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderGroq, ProviderMistral,
	ProviderXAI, ProviderOpenRouter, ProviderOllamaLocal, ProviderLiteLLM, ProviderLMStudio,
}

// ErrExists is returned when the target file exists and overwriting was not
// requested.
var ErrExists = errors.New("config file already exists")

// Answers holds the choices that shape the generated config.
type Answers struct {
	Provider      string
	Model         string
	BaseURL       string
	Escalation    string
	NATSURL       string
	Script        string
	LedgerBackend string
	StoragePath   string
	Memory        bool
	DemoFailures  bool
}

// Defaults returns answers for a local console setup with provider.
func Defaults(provider string) Answers {
	if provider == "" {
		provider = ProviderAnthropic
	}
	return Answers{
		Provider:      provider,
		Model:         DefaultModel(provider),
		BaseURL:       DefaultBaseURL(provider),
		Escalation:    "console",
		LedgerBackend: "json",
		StoragePath:   config.New().Storage.Path,
		Memory:        true,
	}
}

// DefaultModel returns a reasonable model for provider.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderAnthropic, ProviderLiteLLM:
		return "claude-sonnet-4-20250514"
	case ProviderOpenAI:
		return "gpt-4o"
	case ProviderGoogle:
		return "gemini-2.0-flash"
	case ProviderGroq:
		return "llama-3.3-70b-versatile"
	case ProviderMistral:
		return "mistral-large-latest"
	case ProviderXAI:
		return "grok-2"
	case ProviderOpenRouter:
		return "anthropic/claude-sonnet-4"
	case ProviderOllamaLocal:
		return "llama3.2"
	case ProviderLMStudio:
		return "local-model"
	default:
		return ""
	}
}

// DefaultBaseURL returns the endpoint for self-hosted and proxy providers.
func DefaultBaseURL(provider string) string {
	switch provider {
	case ProviderOllamaLocal:
		return "http://localhost:11434/v1"
	case ProviderLMStudio:
		return "http://localhost:1234/v1"
	case ProviderOpenRouter:
		return "https://openrouter.ai/api/v1"
	case ProviderLiteLLM:
		return "http://localhost:4000/v1"
	default:
		return ""
	}
}

// Config builds the configuration the answers describe.
func (a Answers) Config() (*config.Config, error) {
	cfg := config.New()
	cfg.LLM.Provider = a.Provider
	cfg.LLM.Model = a.Model
	cfg.LLM.BaseURL = a.BaseURL
	cfg.LLM.APIKeyEnv = config.DefaultAPIKeyEnv(a.Provider)
	if a.StoragePath != "" {
		cfg.Storage.Path = a.StoragePath
	}
	if a.LedgerBackend != "" {
		cfg.Storage.LedgerBackend = a.LedgerBackend
		if a.LedgerBackend == "sqlite" {
			cfg.Storage.LedgerPath = "tool_performance.db"
		}
	}
	if a.Escalation != "" {
		cfg.Escalation.Mode = a.Escalation
	}
	cfg.Escalation.NATSURL = a.NATSURL
	cfg.Escalation.Script = a.Script
	cfg.Memory.Enabled = a.Memory
	cfg.Tools.DemoFailures = a.DemoFailures

	if cfg.LLM.Model == "" {
		return nil, fmt.Errorf("model is required for provider %q", a.Provider)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Write encodes cfg to path. An existing file is kept unless force is set.
func Write(path string, cfg *config.Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}

	var sb strings.Builder
	sb.WriteString("# taskloop configuration\n")
	sb.WriteString("# Generated by: taskloop init\n\n")
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Ask walks the user through the choices, starting from a.
func Ask(a *Answers) error {
	providerOpts := make([]huh.Option[string], 0, len(Providers))
	for _, p := range Providers {
		providerOpts = append(providerOpts, huh.NewOption(p, p))
	}

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM provider").
				Options(providerOpts...).
				Value(&a.Provider),
		),
	).Run()
	if err != nil {
		return err
	}
	if a.Model == "" || a.Model == DefaultModel(ProviderAnthropic) {
		a.Model = DefaultModel(a.Provider)
	}
	if a.BaseURL == "" {
		a.BaseURL = DefaultBaseURL(a.Provider)
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Model").Value(&a.Model),
			huh.NewInput().Title("Base URL").Description("Leave empty for the provider's API").Value(&a.BaseURL),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Who answers escalations?").
				Options(
					huh.NewOption("Console prompts", "console"),
					huh.NewOption("Terminal forms", "form"),
					huh.NewOption("Remote operator over NATS", "nats"),
					huh.NewOption("Supervisor model, human first", "supervisor"),
				).
				Value(&a.Escalation),
			huh.NewSelect[string]().
				Title("Reliability ledger").
				Options(
					huh.NewOption("JSON file", "json"),
					huh.NewOption("SQLite database", "sqlite"),
				).
				Value(&a.LedgerBackend),
		),
		huh.NewGroup(
			huh.NewInput().Title("NATS URL").Placeholder("nats://127.0.0.1:4222").Value(&a.NATSURL),
		).WithHideFunc(func() bool { return a.Escalation != "nats" }),
		huh.NewGroup(
			huh.NewInput().Title("Storage path").Value(&a.StoragePath),
			huh.NewConfirm().Title("Recall solved sessions?").Value(&a.Memory),
			huh.NewConfirm().Title("Register demo tools that fail at random?").Value(&a.DemoFailures),
		),
	).Run()
}
