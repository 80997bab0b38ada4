// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the taskloop configuration.
type Config struct {
	Loop       LoopConfig         `toml:"loop"`
	LLM        LLMConfig          `toml:"llm"`      // Default LLM settings
	Profiles   map[string]Profile `toml:"profiles"` // perception, decision, supervisor
	Storage    StorageConfig      `toml:"storage"`
	Escalation EscalationConfig   `toml:"escalation"`
	Memory     MemoryConfig       `toml:"memory"`
	Telemetry  TelemetryConfig    `toml:"telemetry"`
	Tools      ToolsConfig        `toml:"tools"`
	Prompts    PromptsConfig      `toml:"prompts"`
}

// LoopConfig bounds each session.
type LoopConfig struct {
	MaxSteps            int    `toml:"max_steps"`
	MaxRetries          int    `toml:"max_retries"`
	FailureMemoryWindow int    `toml:"failure_memory_window"`
	RecentErrorWindow   int    `toml:"recent_error_window"`
	Strategy            string `toml:"strategy"`
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
	MaxTokens int    `toml:"max_tokens"`
	BaseURL   string `toml:"base_url"` // OpenRouter, LiteLLM, Ollama, LMStudio
}

// Profile overrides the default LLM for one role.
type Profile struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
	MaxTokens int    `toml:"max_tokens"`
	BaseURL   string `toml:"base_url"`
}

// Role profile names.
const (
	ProfilePerception = "perception"
	ProfileDecision   = "decision"
	ProfileSupervisor = "supervisor"
)

// StorageConfig contains persistent storage settings.
type StorageConfig struct {
	Path          string `toml:"path"`           // Base directory for all persistent data
	SessionsDir   string `toml:"sessions_dir"`   // Relative to Path unless absolute
	LedgerBackend string `toml:"ledger_backend"` // json or sqlite
	LedgerPath    string `toml:"ledger_path"`    // Relative to Path unless absolute
}

// EscalationConfig selects who answers escalations.
type EscalationConfig struct {
	Mode           string `toml:"mode"` // console, form, nats, scripted, supervisor
	NATSURL        string `toml:"nats_url"`
	Prefix         string `toml:"prefix"`
	RequestTimeout string `toml:"request_timeout"`
	Script         string `toml:"script"`        // YAML script for scripted mode
	HumanTimeout   string `toml:"human_timeout"` // supervisor mode
}

// MemoryConfig controls recall of solved sessions.
type MemoryConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"` // Relative to storage path; empty keeps it in memory
	TopK    int    `toml:"top_k"`
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // OTLP endpoint (e.g., localhost:4317)
	Protocol string `toml:"protocol"` // grpc, http or noop
}

// ToolsConfig enables and bounds the built-in tools.
type ToolsConfig struct {
	CallTimeout      string `toml:"call_timeout"`
	CodeTimeout      string `toml:"code_timeout"`
	MaxCallsPerBlock int    `toml:"max_calls_per_block"`
	Fetch            bool   `toml:"fetch"`
	FetchRPM         int    `toml:"fetch_rpm"`
	FetchBurst       int    `toml:"fetch_burst"`
	FetchMaxChars    int    `toml:"fetch_max_chars"`
	DemoFailures     bool   `toml:"demo_failures"`
}

// PromptsConfig overrides the built-in oracle prompt templates.
type PromptsConfig struct {
	Perception string `toml:"perception"` // Path to a perception template
	Decision   string `toml:"decision"`   // Path to a decision template
}

// LoadPrompt reads a prompt template. An empty path returns "" so the
// built-in template is used.
func LoadPrompt(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return "", fmt.Errorf("failed to read prompt: %w", err)
	}
	return string(data), nil
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		Loop: LoopConfig{
			MaxSteps:            3,
			MaxRetries:          3,
			FailureMemoryWindow: 3,
			RecentErrorWindow:   5,
			Strategy:            "exploratory",
		},
		LLM: LLMConfig{
			MaxTokens: 4096,
		},
		Storage: StorageConfig{
			Path:          "~/.local/taskloop",
			SessionsDir:   "sessions",
			LedgerBackend: "json",
			LedgerPath:    "tool_performance.json",
		},
		Escalation: EscalationConfig{
			Mode:           "console",
			Prefix:         "taskloop.escalation",
			RequestTimeout: "5m",
			HumanTimeout:   "5m",
		},
		Memory: MemoryConfig{
			Enabled: true,
			Path:    "memory.bleve",
			TopK:    3,
		},
		Telemetry: TelemetryConfig{
			Protocol: "noop",
		},
		Tools: ToolsConfig{
			CallTimeout:      "60s",
			CodeTimeout:      "30s",
			MaxCallsPerBlock: 5,
			Fetch:            true,
			FetchRPM:         30,
			FetchBurst:       5,
			FetchMaxChars:    20000,
		},
	}
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads taskloop.toml from the current directory, falling back to
// defaults when the file does not exist.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	path := filepath.Join(cwd, "taskloop.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(), nil
	}
	return LoadFile(path)
}

// Validate checks enumerated settings and durations.
func (c *Config) Validate() error {
	switch c.Storage.LedgerBackend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("invalid storage.ledger_backend %q (want json or sqlite)", c.Storage.LedgerBackend)
	}
	switch c.Escalation.Mode {
	case "console", "form", "nats", "scripted", "supervisor":
	default:
		return fmt.Errorf("invalid escalation.mode %q", c.Escalation.Mode)
	}
	if c.Escalation.Mode == "scripted" && c.Escalation.Script == "" {
		return fmt.Errorf("escalation.mode scripted requires escalation.script")
	}
	for name, v := range map[string]string{
		"escalation.request_timeout": c.Escalation.RequestTimeout,
		"escalation.human_timeout":   c.Escalation.HumanTimeout,
		"tools.call_timeout":         c.Tools.CallTimeout,
		"tools.code_timeout":         c.Tools.CodeTimeout,
	} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// Duration parses a duration setting. Empty means zero.
func Duration(v string) time.Duration {
	d, _ := parseDuration(v)
	return d
}

func parseDuration(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	return time.ParseDuration(v)
}

// BaseDir returns the storage path with ~ expanded.
func (c *Config) BaseDir() string {
	return ExpandPath(c.Storage.Path)
}

// SessionsDir returns the directory session logs are written to.
func (c *Config) SessionsDir() string {
	return c.resolve(c.Storage.SessionsDir)
}

// LedgerPath returns the ledger file location.
func (c *Config) LedgerPath() string {
	return c.resolve(c.Storage.LedgerPath)
}

// MemoryPath returns the memory index directory, or "" for an in-memory index.
func (c *Config) MemoryPath() string {
	if c.Memory.Path == "" {
		return ""
	}
	return c.resolve(c.Memory.Path)
}

func (c *Config) resolve(p string) string {
	p = ExpandPath(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BaseDir(), p)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}

// GetAPIKey returns the API key from the configured environment variable.
// If api_key_env is not set, uses the default env var for the provider.
func (c *Config) GetAPIKey() string {
	return apiKeyFromEnv(c.LLM.APIKeyEnv, c.LLM.Provider)
}

func apiKeyFromEnv(envVar, provider string) string {
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	default:
		return ""
	}
}

// GetProfile returns the LLM config for a role profile.
// Falls back to default LLM config if profile not found.
func (c *Config) GetProfile(name string) LLMConfig {
	if name == "" {
		return c.LLM
	}
	profile, ok := c.Profiles[name]
	if !ok {
		return c.LLM
	}
	result := LLMConfig{
		Provider:  profile.Provider,
		Model:     profile.Model,
		APIKeyEnv: profile.APIKeyEnv,
		MaxTokens: profile.MaxTokens,
		BaseURL:   profile.BaseURL,
	}
	if result.Model == "" {
		result.Model = c.LLM.Model
		if result.Provider == "" {
			result.Provider = c.LLM.Provider
		}
		if result.BaseURL == "" {
			result.BaseURL = c.LLM.BaseURL
		}
	}
	if result.APIKeyEnv == "" && result.Provider == c.LLM.Provider {
		result.APIKeyEnv = c.LLM.APIKeyEnv
	}
	if result.MaxTokens == 0 {
		result.MaxTokens = c.LLM.MaxTokens
	}
	return result
}

// GetProfileAPIKey returns the API key for a specific profile from the
// environment.
func (c *Config) GetProfileAPIKey(profileName string) string {
	p := c.GetProfile(profileName)
	return apiKeyFromEnv(p.APIKeyEnv, p.Provider)
}
