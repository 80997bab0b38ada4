package main

import (
	"os"
	"strings"

	"github.com/vinayprograms/taskloop/internal/config"
)

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// loadConfig loads the config file, or ./taskloop.toml when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.LoadDefault()
}

// applyEscalation overrides the configured escalation mode and script.
func applyEscalation(cfg *config.Config, mode, script string) error {
	if mode != "" {
		cfg.Escalation.Mode = strings.ToLower(mode)
	}
	if script != "" {
		cfg.Escalation.Script = script
		if mode == "" {
			cfg.Escalation.Mode = "scripted"
		}
	}
	return cfg.Validate()
}
