// Package tools provides the step executor: a registry of named tools and
// the built-in tools the decision oracle may call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/taskloop/internal/session"
)

// Result is the outcome of one tool invocation.
type Result struct {
	Status string
	Result interface{}
	Error  string
}

// Executor runs the executable content of a CODE step.
type Executor interface {
	Execute(ctx context.Context, code session.ToolCode) Result
}

// Tool is a named capability. Params lists the argument names in the order
// positional calls map onto them.
type Tool interface {
	Name() string
	Description() string
	Params() []string
	Call(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// Func adapts a function to Tool.
type Func struct {
	name   string
	desc   string
	params []string
	fn     func(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// NewFunc creates a function-backed tool.
func NewFunc(name, desc string, params []string, fn func(ctx context.Context, args map[string]interface{}) (interface{}, error)) *Func {
	return &Func{name: name, desc: desc, params: params, fn: fn}
}

func (f *Func) Name() string        { return f.name }
func (f *Func) Description() string { return f.desc }
func (f *Func) Params() []string    { return f.params }

func (f *Func) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return f.fn(ctx, args)
}

// Registry holds the available tools and executes calls against them.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	timeout time.Duration
	logger  *logging.Logger
}

// NewRegistry creates an empty registry. A positive timeout bounds every
// call that has no shorter deadline already.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		timeout: timeout,
		logger:  logging.New().WithComponent("tools"),
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptions renders one signature line per tool for the decision prompt.
func (r *Registry) Descriptions() []string {
	var out []string
	for _, name := range r.Names() {
		t := r.Get(name)
		out = append(out, fmt.Sprintf("%s(%s) - %s", name, strings.Join(t.Params(), ", "), t.Description()))
	}
	return out
}

// Execute runs a single tool call. Failures of any kind, including an unknown
// tool or a panic inside the tool, come back as an error result.
func (r *Registry) Execute(ctx context.Context, code session.ToolCode) (res Result) {
	start := time.Now()
	t := r.Get(code.ToolName)
	if t == nil {
		return errorResult(fmt.Errorf("tool not found: %s", code.ToolName))
	}

	ctx, cancel := r.applyTimeout(ctx)
	if cancel != nil {
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			res = errorResult(fmt.Errorf("tool %s panicked: %v", code.ToolName, p))
			r.logger.ToolResult(code.ToolName, time.Since(start), fmt.Errorf("%s", res.Error))
		}
	}()

	args := code.ToolArguments
	if args == nil {
		args = map[string]interface{}{}
	}
	out, err := t.Call(ctx, args)
	r.logger.ToolResult(code.ToolName, time.Since(start), err)
	if err != nil {
		return errorResult(err)
	}
	return Result{Status: session.ResultSuccess, Result: out}
}

func (r *Registry) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, nil
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < r.timeout {
		return ctx, nil
	}
	return context.WithTimeout(ctx, r.timeout)
}

func errorResult(err error) Result {
	return Result{Status: session.ResultError, Error: err.Error()}
}

// Stringify renders a tool value as text. Strings pass through, other values
// are JSON encoded.
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "None"
	case string:
		return val
	case []byte:
		return string(val)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func stringArg(args map[string]interface{}, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
