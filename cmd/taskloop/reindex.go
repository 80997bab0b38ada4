package main

import (
	"context"
	"fmt"

	"github.com/vinayprograms/taskloop/internal/session"
)

// Run rebuilds the memory index from the session store.
func (c *ReindexCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	store, err := session.NewFileStore(cfg.SessionsDir())
	if err != nil {
		return err
	}
	idx, err := openIndex(cfg)
	if err != nil {
		return err
	}
	defer idx.Close()

	n, err := idx.Reindex(context.Background(), store)
	if err != nil {
		return err
	}
	total, _ := idx.Count()
	fmt.Printf("✓ Indexed %d solved session(s) from %s (%d in index)\n", n, store.Dir(), total)
	return nil
}

// Run prints version information.
func (c *VersionCmd) Run() error {
	fmt.Printf("taskloop version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
