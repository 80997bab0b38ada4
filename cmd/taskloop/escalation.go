package main

import (
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/taskloop/internal/config"
	"github.com/vinayprograms/taskloop/internal/escalation"
)

// newResponder builds the escalation protocol for the configured mode. The
// returned close function releases any connection it opened.
func newResponder(cfg *config.Config, supervisor func() (llm.Provider, error)) (escalation.Protocol, func(), error) {
	noop := func() {}
	ec := cfg.Escalation

	switch ec.Mode {
	case "console":
		return escalation.NewConsole(os.Stdin, os.Stderr), noop, nil

	case "form":
		return humanResponder(), noop, nil

	case "scripted":
		script, err := escalation.LoadScript(config.ExpandPath(ec.Script))
		if err != nil {
			return nil, nil, err
		}
		return escalation.NewScripted(script), noop, nil

	case "nats":
		url := ec.NATSURL
		if url == "" {
			url = nats.DefaultURL
		}
		conn, err := nats.Connect(url, nats.Name("taskloop"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
		}
		responder := escalation.NewNATS(conn, escalation.NATSConfig{
			Prefix:         ec.Prefix,
			RequestTimeout: config.Duration(ec.RequestTimeout),
		})
		return responder, conn.Close, nil

	case "supervisor":
		provider, err := supervisor()
		if err != nil {
			return nil, nil, err
		}
		return escalation.NewSupervisor(escalation.SupervisorConfig{
			Provider:     provider,
			Human:        humanResponder(),
			HumanTimeout: config.Duration(ec.HumanTimeout),
		}), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown escalation mode %q", ec.Mode)
}

// humanResponder uses terminal forms when attached to a terminal and plain
// line prompts otherwise.
func humanResponder() *escalation.Human {
	if isTerminal(os.Stdin) && isTerminal(os.Stderr) {
		return escalation.NewForm(os.Stderr)
	}
	return escalation.NewConsole(os.Stdin, os.Stderr)
}
