// Package main defines the CLI structure using kong.
package main

import (
	"time"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface.
type CLI struct {
	Config string `short:"c" help:"Config file path (default: ./taskloop.toml)" type:"path"`

	Run      RunCmd      `cmd:"" help:"Solve a single query"`
	Simulate SimulateCmd `cmd:"" help:"Run a batch of queries and write a report"`
	Replay   ReplayCmd   `cmd:"" help:"Replay session logs"`
	Ledger   LedgerCmd   `cmd:"" help:"Show tool reliability statistics"`
	Reindex  ReindexCmd  `cmd:"" help:"Rebuild the memory index from saved sessions"`
	Init     InitCmd     `cmd:"" help:"Write a starter taskloop.toml"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// RunCmd solves one query.
type RunCmd struct {
	Query      []string `arg:"" help:"Query to solve"`
	Escalation string   `short:"e" help:"Escalation mode: console, form, nats, scripted or supervisor (overrides config)"`
	Script     string   `help:"Escalation script for scripted mode" type:"path"`
	NoMemory   bool     `help:"Disable recall of solved sessions"`
	Quiet      bool     `short:"q" help:"Only print the final summary"`
}

// SimulateCmd runs a batch of queries.
type SimulateCmd struct {
	Queries     string        `short:"f" help:"YAML query file (default: built-in queries)" type:"path"`
	Rounds      int           `default:"1" help:"Rounds of generated variations appended to the built-in queries"`
	Limit       int           `short:"n" help:"Run at most this many queries"`
	Concurrency int           `short:"j" default:"1" help:"Sessions in flight"`
	Interval    time.Duration `default:"0s" help:"Minimum spacing between session starts"`
	Seed        int64         `help:"Seed for query variations (default: time-based)"`
	Output      string        `short:"o" help:"Report path (default: simulation_results_<timestamp>.json)"`
	Escalation  string        `short:"e" help:"Escalation mode: console, form, nats, scripted or supervisor (overrides config)"`
	Script      string        `help:"Escalation script for scripted mode" type:"path"`
	NoMemory    bool          `help:"Disable recall of solved sessions"`
}

// ReplayCmd replays session logs.
type ReplayCmd struct {
	Sessions []string `arg:"" optional:"" help:"Session logs or directories (default: session store)"`
	Verbose  int      `short:"v" type:"counter" help:"Verbosity level (-v, -vv)"`
	NoPager  bool     `help:"Disable pager for output"`
	Follow   bool     `short:"f" help:"Follow a running session"`
	MaxSize  int      `help:"Truncate content longer than this many bytes (0 keeps all)"`
}

// LedgerCmd prints the reliability ledger.
type LedgerCmd struct {
	JSON bool   `help:"Print as JSON"`
	Tool string `arg:"" optional:"" help:"Show a single tool"`
}

// ReindexCmd rebuilds the memory index.
type ReindexCmd struct{}

// InitCmd writes a starter config.
type InitCmd struct {
	Output   string `short:"o" default:"taskloop.toml" help:"Config file to write"`
	Provider string `help:"LLM provider"`
	Model    string `help:"LLM model (default: provider's default)"`
	Force    bool   `help:"Overwrite an existing file"`
	Yes      bool   `short:"y" help:"Accept defaults without prompting"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
