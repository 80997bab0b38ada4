package main

import (
	"fmt"
	"io"
	"os"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/telemetry"
	"github.com/vinayprograms/taskloop/internal/config"
	"github.com/vinayprograms/taskloop/internal/ledger"
	"github.com/vinayprograms/taskloop/internal/loop"
	"github.com/vinayprograms/taskloop/internal/memory"
	"github.com/vinayprograms/taskloop/internal/oracle"
	"github.com/vinayprograms/taskloop/internal/session"
	"github.com/vinayprograms/taskloop/internal/tools"
)

// runtime wires configuration into a ready loop and owns everything that
// needs closing.
type runtime struct {
	cfg      *config.Config
	loop     *loop.Loop
	ledger   *ledger.Ledger
	sessions *session.FileStore
	index    *memory.Index
	telem    telemetry.Exporter
	closers  []func()
}

// runtimeOptions are per-command overrides.
type runtimeOptions struct {
	NoMemory bool
	// Progress receives one line per step and escalation. Nil is silent.
	Progress io.Writer
}

func newRuntime(cfg *config.Config, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{cfg: cfg}
	if err := rt.setup(opts); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) setup(opts runtimeOptions) (err error) {
	cfg := rt.cfg

	if err := os.MkdirAll(cfg.BaseDir(), 0755); err != nil {
		return fmt.Errorf("error creating storage directory: %w", err)
	}

	if cfg.Telemetry.Enabled {
		rt.telem, err = telemetry.NewExporter(cfg.Telemetry.Protocol, cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("error creating telemetry exporter: %w", err)
		}
	} else {
		rt.telem = telemetry.NewNoopExporter()
	}
	rt.addCloser(func() { rt.telem.Close() })

	rt.ledger, err = openLedger(cfg, rt)
	if err != nil {
		return err
	}

	rt.sessions, err = session.NewFileStore(cfg.SessionsDir())
	if err != nil {
		return fmt.Errorf("error creating session store: %w", err)
	}

	if cfg.Memory.Enabled && !opts.NoMemory {
		if rt.index, err = openIndex(cfg); err != nil {
			return err
		}
		rt.addCloser(func() { rt.index.Close() })
	}

	registry := tools.NewDefault(tools.Config{
		CallTimeout:       config.Duration(cfg.Tools.CallTimeout),
		CodeTimeout:       config.Duration(cfg.Tools.CodeTimeout),
		MaxCallsPerBlock:  cfg.Tools.MaxCallsPerBlock,
		FetchRPM:          cfg.Tools.FetchRPM,
		FetchBurst:        cfg.Tools.FetchBurst,
		FetchMaxChars:     cfg.Tools.FetchMaxChars,
		EnableFetch:       cfg.Tools.Fetch,
		EnableDemoFailure: cfg.Tools.DemoFailures,
	})

	providers := newProviderCache(cfg)
	perceptionLLM, err := providers.get(config.ProfilePerception)
	if err != nil {
		return err
	}
	decisionLLM, err := providers.get(config.ProfileDecision)
	if err != nil {
		return err
	}
	perceptionPrompt, err := config.LoadPrompt(cfg.Prompts.Perception)
	if err != nil {
		return err
	}
	decisionPrompt, err := config.LoadPrompt(cfg.Prompts.Decision)
	if err != nil {
		return err
	}

	responder, closeResponder, err := newResponder(cfg, func() (llm.Provider, error) {
		return providers.get(config.ProfileSupervisor)
	})
	if err != nil {
		return err
	}
	rt.addCloser(closeResponder)

	deps := loop.Deps{
		Perceiver:  oracle.NewLLMPerceiver(perceptionLLM, perceptionPrompt),
		Decider:    oracle.NewLLMDecider(decisionLLM, decisionPrompt, registry),
		Executor:   registry,
		Escalation: responder,
		Ledger:     rt.ledger,
		Store:      rt.sessions,
	}
	if rt.index != nil {
		deps.Memory = rt.index
		deps.Recorder = rt.index
	}

	rt.loop, err = loop.New(loop.Config{
		MaxSteps:            cfg.Loop.MaxSteps,
		MaxRetries:          cfg.Loop.MaxRetries,
		FailureMemoryWindow: cfg.Loop.FailureMemoryWindow,
		Strategy:            cfg.Loop.Strategy,
	}, deps)
	if err != nil {
		return err
	}
	rt.loop.Observer = rt.observer(opts.Progress)
	return nil
}

func openLedger(cfg *config.Config, rt *runtime) (*ledger.Ledger, error) {
	var store ledger.Store
	switch cfg.Storage.LedgerBackend {
	case "sqlite":
		s, err := ledger.NewSQLiteStore(cfg.LedgerPath())
		if err != nil {
			return nil, fmt.Errorf("error opening ledger: %w", err)
		}
		rt.addCloser(func() { s.Close() })
		store = s
	default:
		store = ledger.NewFileStore(cfg.LedgerPath())
	}
	return ledger.Open(store, cfg.Loop.RecentErrorWindow), nil
}

func openIndex(cfg *config.Config) (*memory.Index, error) {
	idx, err := memory.OpenIndex(memory.IndexConfig{
		Path: cfg.MemoryPath(),
		TopK: cfg.Memory.TopK,
	})
	if err != nil {
		return nil, fmt.Errorf("error opening memory index: %w", err)
	}
	return idx, nil
}

// observer reports progress to w and forwards events to telemetry.
func (rt *runtime) observer(w io.Writer) loop.Observer {
	printf := func(format string, args ...interface{}) {
		if w != nil {
			fmt.Fprintf(w, format, args...)
		}
	}
	return loop.Observer{
		OnStep: func(sess *session.Session, st *session.Step) {
			event := map[string]interface{}{
				"session": sess.ID,
				"step":    st.Index,
				"type":    st.Type,
			}
			switch {
			case st.Code != nil && st.Result != nil && st.Result.Succeeded():
				printf("  → Tool: %s (%.2fs)\n", st.Code.ToolName, st.Result.DurationSeconds)
				event["tool"] = st.Code.ToolName
			case st.Code != nil && st.Result != nil:
				printf("  ✗ Tool error [%s]: %s\n", st.Code.ToolName, st.Result.Error)
				event["tool"] = st.Code.ToolName
				event["error"] = st.Result.Error
			case st.Type == session.TypeConclude:
				printf("  ✓ Conclude: %s\n", st.Description)
			default:
				printf("  · %s: %s\n", st.Type, st.Description)
			}
			rt.telem.LogEvent("step_complete", event)
		},
		OnEscalation: func(sess *session.Session, kind, outcome string) {
			printf("  ⚑ Escalation [%s]: %s\n", kind, outcome)
			rt.telem.LogEvent("escalation", map[string]interface{}{
				"session": sess.ID,
				"kind":    kind,
				"outcome": outcome,
			})
		},
		OnComplete: func(sess *session.Session) {
			rt.telem.LogEvent("session_complete", map[string]interface{}{
				"session":       sess.ID,
				"goal_achieved": sess.State.GoalAchieved,
				"plan_versions": len(sess.PlanVersions),
			})
		},
	}
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// addCloser registers a cleanup function.
func (rt *runtime) addCloser(fn func()) {
	rt.closers = append(rt.closers, fn)
}
