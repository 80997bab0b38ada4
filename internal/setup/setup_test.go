package setup

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/vinayprograms/taskloop/internal/config"
)

func TestDefaultModel(t *testing.T) {
	for _, p := range Providers {
		if DefaultModel(p) == "" {
			t.Errorf("no default model for %s", p)
		}
	}
	if DefaultModel("unknown") != "" {
		t.Error("unknown provider should have no default model")
	}
	if DefaultBaseURL(ProviderAnthropic) != "" {
		t.Error("hosted providers should use their own endpoint")
	}
	if DefaultBaseURL(ProviderOllamaLocal) == "" {
		t.Error("ollama needs a base url")
	}
}

func TestAnswers_WriteAndLoad(t *testing.T) {
	a := Defaults(ProviderOpenAI)
	a.LedgerBackend = "sqlite"
	a.Escalation = "nats"
	a.NATSURL = "nats://example:4222"
	a.StoragePath = t.TempDir()
	a.Memory = false

	cfg, err := a.Config()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "taskloop.toml")
	if err := Write(path, cfg, false); err != nil {
		t.Fatal(err)
	}

	loaded, err := config.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.LLM.Provider != ProviderOpenAI || loaded.LLM.Model != "gpt-4o" || loaded.LLM.APIKeyEnv != "OPENAI_API_KEY" {
		t.Errorf("unexpected llm section: %+v", loaded.LLM)
	}
	if loaded.Storage.LedgerBackend != "sqlite" || loaded.Storage.LedgerPath != "tool_performance.db" {
		t.Errorf("unexpected storage section: %+v", loaded.Storage)
	}
	if loaded.Escalation.Mode != "nats" || loaded.Escalation.NATSURL != "nats://example:4222" {
		t.Errorf("unexpected escalation section: %+v", loaded.Escalation)
	}
	if loaded.Memory.Enabled {
		t.Error("memory should be disabled")
	}
	if loaded.Loop.MaxSteps != 3 {
		t.Errorf("defaults should be written out, got max_steps %d", loaded.Loop.MaxSteps)
	}

	if err := Write(path, cfg, false); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
	if err := Write(path, cfg, true); err != nil {
		t.Errorf("force should overwrite: %v", err)
	}
}

func TestAnswers_Invalid(t *testing.T) {
	a := Defaults("custom")
	if _, err := a.Config(); err == nil {
		t.Error("expected error without a model")
	}

	a = Defaults(ProviderAnthropic)
	a.Escalation = "scripted"
	if _, err := a.Config(); err == nil {
		t.Error("expected error for scripted mode without a script")
	}
}
