package tools

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/vinayprograms/taskloop/internal/session"
)

// CodeBlockName is the tool that runs a JavaScript code block.
const CodeBlockName = "raw_code_block"

// Identifiers a step may not reference: every step is self-contained and
// sees nothing of the session that produced it.
var scopeViolation = regexp.MustCompile(`\b(completed_steps|execution_result|previous_step|step_result|session|plan_versions|current_plan)\b`)

// SandboxConfig bounds a code block run.
type SandboxConfig struct {
	MaxCalls int
	Timeout  time.Duration
}

// CodeBlock runs decision-authored JavaScript in a fresh goja runtime with
// every other registered tool exposed as a global function. The value of a
// global named result, or else the last expression, is the tool output.
type CodeBlock struct {
	registry *Registry
	maxCalls int
	timeout  time.Duration
}

// NewCodeBlock creates the code tool over reg.
func NewCodeBlock(reg *Registry, cfg SandboxConfig) *CodeBlock {
	return &CodeBlock{registry: reg, maxCalls: cfg.MaxCalls, timeout: cfg.Timeout}
}

func (c *CodeBlock) Name() string     { return CodeBlockName }
func (c *CodeBlock) Params() []string { return []string{"code"} }

func (c *CodeBlock) Description() string {
	return "Run a self-contained JavaScript block; other tools are callable as functions"
}

func (c *CodeBlock) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	code := strings.TrimSpace(stringArg(args, "code"))
	if code == "" {
		return nil, errors.New("no code provided")
	}
	if m := scopeViolation.FindString(code); m != "" {
		return nil, fmt.Errorf("variable scope violation detected: '%s' is not allowed. Each step must be self-contained and cannot reference previous step results or session state", m)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	calls := 0
	for _, name := range c.registry.Names() {
		if name == CodeBlockName {
			continue
		}
		if err := vm.Set(name, c.bind(ctx, vm, c.registry.Get(name), &calls)); err != nil {
			return nil, fmt.Errorf("failed to expose %s: %w", name, err)
		}
	}

	var printed []string
	logLine := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		printed = append(printed, strings.Join(parts, " "))
		return goja.Undefined()
	}
	console := vm.NewObject()
	_ = console.Set("log", logLine)
	_ = vm.Set("console", console)
	_ = vm.Set("print", logLine)
	_ = vm.Set("final_answer", func(v goja.Value) { _ = vm.Set("result", v) })

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	v, err := vm.RunString(code)
	if err != nil {
		return nil, describeError(err)
	}
	if r := vm.Get("result"); r != nil && !goja.IsUndefined(r) {
		v = r
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		if len(printed) > 0 {
			return strings.Join(printed, "\n"), nil
		}
		return "None", nil
	}
	return Stringify(v.Export()), nil
}

func (c *CodeBlock) bind(ctx context.Context, vm *goja.Runtime, t Tool, calls *int) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		*calls++
		if c.maxCalls > 0 && *calls > c.maxCalls {
			panic(vm.NewGoError(fmt.Errorf("too many tool calls (%d > %d)", *calls, c.maxCalls)))
		}
		res := c.registry.Execute(ctx, session.ToolCode{
			ToolName:      t.Name(),
			ToolArguments: callArgs(t.Params(), call.Arguments),
		})
		if res.Status != session.ResultSuccess {
			panic(vm.NewGoError(errors.New(res.Error)))
		}
		return vm.ToValue(res.Result)
	}
}

// callArgs maps JS call arguments onto tool arguments. A single object
// argument is taken as named arguments; otherwise arguments are positional.
func callArgs(params []string, in []goja.Value) map[string]interface{} {
	if len(in) == 1 {
		if named, ok := in[0].Export().(map[string]interface{}); ok && namedFits(params, named) {
			return named
		}
	}
	out := make(map[string]interface{}, len(in))
	for i, a := range in {
		key := fmt.Sprintf("arg%d", i)
		if i < len(params) {
			key = params[i]
		}
		out[key] = a.Export()
	}
	return out
}

func namedFits(params []string, named map[string]interface{}) bool {
	if len(named) == 0 {
		return false
	}
	for k := range named {
		found := false
		for _, p := range params {
			if p == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func describeError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("execution timed out: %v", interrupted.Value())
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		msg := ex.Value().String()
		if strings.HasPrefix(msg, "ReferenceError") && strings.Contains(msg, "is not defined") {
			msg += ". Variables from previous steps are not accessible. Each step must be self-contained."
		}
		return errors.New(msg)
	}
	return err
}
