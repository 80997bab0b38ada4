package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vinayprograms/taskloop/internal/simulator"
)

// Run executes the batch and writes the report.
func (c *SimulateCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := applyEscalation(cfg, c.Escalation, c.Script); err != nil {
		return err
	}

	seed := c.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rnd := rand.New(rand.NewSource(seed))

	var queries []string
	if c.Queries != "" {
		queries, err = simulator.LoadQueries(c.Queries, rnd)
		if err != nil {
			return err
		}
	} else {
		queries = simulator.DefaultQueries(c.Rounds, rnd)
	}

	rt, err := newRuntime(cfg, runtimeOptions{NoMemory: c.NoMemory})
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := simulator.New(rt.loop, rt.ledger, simulator.Config{
		Concurrency: c.Concurrency,
		Interval:    c.Interval,
		Limit:       c.Limit,
	})
	report, err := sim.Run(ctx, queries)
	if err != nil {
		return err
	}

	output := c.Output
	if output == "" {
		output = simulator.DefaultReportName(time.Now())
	}
	if err := report.WriteFile(output); err != nil {
		return err
	}
	report.WriteSummary(os.Stdout)
	fmt.Fprintf(os.Stdout, "\nReport saved to %s\n", output)
	return nil
}
