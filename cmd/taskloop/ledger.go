package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/vinayprograms/taskloop/internal/config"
	"github.com/vinayprograms/taskloop/internal/ledger"
)

// Run prints the persisted ledger.
func (c *LedgerCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	rt := &runtime{cfg: cfg}
	defer rt.Close()
	led, err := openLedger(cfg, rt)
	if err != nil {
		return err
	}

	stats := led.Snapshot()
	if c.Tool != "" {
		s, ok := led.Get(c.Tool)
		if !ok {
			return fmt.Errorf("no calls recorded for tool %q", c.Tool)
		}
		stats = map[string]ledger.Stats{c.Tool: s}
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	printLedger(os.Stdout, cfg, stats, led.Tools())
	return nil
}

func printLedger(w io.Writer, cfg *config.Config, stats map[string]ledger.Stats, order []string) {
	if len(stats) == 0 {
		fmt.Fprintf(w, "No tool calls recorded in %s\n", cfg.LedgerPath())
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tCALLS\tSUCCESS\tAVG TIME\tLAST ERROR")
	for _, name := range order {
		s, ok := stats[name]
		if !ok {
			continue
		}
		lastErr := "-"
		if n := len(s.LastErrors); n > 0 {
			lastErr = truncate(s.LastErrors[n-1], 60)
		}
		fmt.Fprintf(tw, "%s\t%d\t%.0f%%\t%.2fs\t%s\n",
			name, s.TotalCalls, s.SuccessRate()*100, s.AvgExecutionTime, lastErr)
	}
	tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
