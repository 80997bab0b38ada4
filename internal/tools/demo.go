package tools

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

var demoFailureKinds = []string{
	"Connection timeout error",
	"Permission denied error",
	"Resource not found error",
	"Invalid parameter error",
	"Rate limit exceeded error",
	"Authentication failed error",
	"Network unreachable error",
	"File system error",
	"Memory allocation error",
	"Database connection error",
}

// DemoFailures returns tools that fail on purpose, for exercising the
// escalation path. rnd supplies values in [0,1); nil uses math/rand.
func DemoFailures(rnd func() float64) []Tool {
	if rnd == nil {
		rnd = rand.Float64
	}
	return []Tool{
		NewFunc("artificial_failure", "Always fails with a random error type", []string{"input"},
			func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				kind := demoFailureKinds[int(rnd()*float64(len(demoFailureKinds)))%len(demoFailureKinds)]
				return nil, fmt.Errorf("DEMO FAILURE: %s - %s", kind, stringArg(args, "input"))
			}),
		NewFunc("conditional_failure", "Fails unless should_fail is false", []string{"input", "should_fail"},
			func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				if fail, ok := args["should_fail"].(bool); ok && !fail {
					return fmt.Sprintf("SUCCESS: %s processed successfully", stringArg(args, "input")), nil
				}
				return nil, fmt.Errorf("DEMO FAILURE: Conditional failure triggered - %s", stringArg(args, "input"))
			}),
		NewFunc("delayed_failure", "Fails after delay_seconds (default 2)", []string{"input", "delay_seconds"},
			func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				delay := 2 * time.Second
				switch d := args["delay_seconds"].(type) {
				case int64:
					delay = time.Duration(d) * time.Second
				case float64:
					delay = time.Duration(d * float64(time.Second))
				}
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("DEMO FAILURE: Timeout after %s - %s", delay, stringArg(args, "input"))
			}),
		NewFunc("random_success_failure", "Succeeds 30% of the time", []string{"input"},
			func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				if rnd() < 0.3 {
					return fmt.Sprintf("SUCCESS: %s processed successfully", stringArg(args, "input")), nil
				}
				return nil, fmt.Errorf("DEMO FAILURE: Random failure - %s", stringArg(args, "input"))
			}),
	}
}

// Config selects and bounds the built-in tools.
type Config struct {
	CallTimeout       time.Duration
	CodeTimeout       time.Duration
	MaxCallsPerBlock  int
	FetchRPM          int
	FetchBurst        int
	FetchMaxChars     int
	EnableFetch       bool
	EnableDemoFailure bool
}

// NewDefault builds a registry with the built-in tools cfg enables.
func NewDefault(cfg Config) *Registry {
	reg := NewRegistry(cfg.CallTimeout)
	reg.Register(NewCodeBlock(reg, SandboxConfig{MaxCalls: cfg.MaxCallsPerBlock, Timeout: cfg.CodeTimeout}))
	if cfg.EnableFetch {
		reg.Register(NewFetchText(FetchConfig{
			RequestsPerMinute: cfg.FetchRPM,
			Burst:             cfg.FetchBurst,
			MaxChars:          cfg.FetchMaxChars,
		}))
	}
	if cfg.EnableDemoFailure {
		for _, t := range DemoFailures(nil) {
			reg.Register(t)
		}
	}
	return reg
}
