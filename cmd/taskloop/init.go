package main

import (
	"fmt"
	"os"

	"github.com/vinayprograms/taskloop/internal/setup"
)

// Run asks for the main choices, or takes them from flags, and writes the file.
func (c *InitCmd) Run() error {
	a := setup.Defaults(c.Provider)
	if c.Model != "" {
		a.Model = c.Model
	}

	if !c.Yes && isTerminal(os.Stdin) {
		if err := setup.Ask(&a); err != nil {
			return err
		}
	}

	cfg, err := a.Config()
	if err != nil {
		return err
	}
	if err := setup.Write(c.Output, cfg, c.Force); err != nil {
		return err
	}
	fmt.Printf("✓ Wrote %s\n", c.Output)
	if env := cfg.LLM.APIKeyEnv; env != "" && os.Getenv(env) == "" {
		fmt.Printf("  Set %s or add the key to credentials.toml before running.\n", env)
	}
	return nil
}
