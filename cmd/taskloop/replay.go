package main

import (
	"fmt"
	"os"

	"github.com/vinayprograms/taskloop/internal/replay"
)

// Run replays the given logs, or the whole session store when none are given.
func (c *ReplayCmd) Run(cli *CLI) error {
	paths := c.Sessions
	if len(paths) == 0 {
		cfg, err := loadConfig(cli.Config)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		paths = []string{cfg.SessionsDir()}
	}
	return runReplay(paths, c.Verbose, c.NoPager || !isTerminal(os.Stdout), c.Follow, c.MaxSize)
}

func runReplay(paths []string, verbosity int, noPager, follow bool, maxSize int) error {
	var opts []replay.ReplayerOption
	if maxSize > 0 {
		opts = append(opts, replay.WithMaxContentSize(maxSize))
	}

	files, err := replay.ExpandPaths(paths)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no session logs found in %v", paths)
	}

	if follow {
		if len(files) != 1 {
			return fmt.Errorf("--follow needs exactly one session log, got %d", len(files))
		}
		return replay.New(os.Stdout, verbosity, opts...).ReplayFileLive(files[0])
	}

	if len(files) == 1 {
		r := replay.New(os.Stdout, verbosity, opts...)
		if noPager {
			return r.ReplayFile(files[0])
		}
		return r.ReplayFileInteractive(files[0])
	}

	m := replay.NewMulti(os.Stdout, verbosity, opts...)
	if noPager {
		return m.ReplayFiles(files)
	}
	return m.ReplayFilesInteractive(files)
}
