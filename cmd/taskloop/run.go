package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vinayprograms/taskloop/internal/loop"
)

// Run solves the query and prints the session summary as JSON.
func (c *RunCmd) Run(cli *CLI) error {
	query := strings.TrimSpace(strings.Join(c.Query, " "))
	if query == "" {
		return fmt.Errorf("query cannot be empty")
	}

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := applyEscalation(cfg, c.Escalation, c.Script); err != nil {
		return err
	}

	var progress io.Writer = os.Stderr
	if c.Quiet {
		progress = nil
	}
	rt, err := newRuntime(cfg, runtimeOptions{NoMemory: c.NoMemory, Progress: progress})
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !c.Quiet {
		fmt.Fprintf(os.Stderr, "▶ Solving: %s\n\n", query)
	}
	res := rt.loop.Run(ctx, query)
	if !c.Quiet {
		printOutcome(os.Stderr, res, rt.sessions.PathFor(res.Session))
	}

	output, err := json.MarshalIndent(res.Session.Summarize(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(output))
	return nil
}

func printOutcome(w io.Writer, res loop.Result, logPath string) {
	if res.Session.State.GoalAchieved {
		fmt.Fprintf(w, "\n✓ Goal achieved")
	} else {
		fmt.Fprintf(w, "\n✗ Goal not achieved")
	}
	fmt.Fprintf(w, " (%d steps, %d retries, %d escalations, %.1fs)\n",
		res.TotalSteps, res.RetryCount, res.Escalations, res.Duration.Seconds())
	fmt.Fprintf(w, "Session log: %s\n\n", logPath)
}
