package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/taskloop/internal/session"
)

func codeCall(code string) session.ToolCode {
	return session.ToolCode{ToolName: CodeBlockName, ToolArguments: map[string]interface{}{"code": code}}
}

func newTestRegistry() *Registry {
	reg := NewRegistry(0)
	reg.Register(NewCodeBlock(reg, SandboxConfig{MaxCalls: 3, Timeout: time.Second}))
	reg.Register(NewFunc("add", "add two numbers", []string{"a", "b"},
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return toFloat(args["a"]) + toFloat(args["b"]), nil
		}))
	reg.Register(NewFunc("broken", "always fails", nil,
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, errors.New("division by zero")
		}))
	return reg
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func TestRegistry_UnknownTool(t *testing.T) {
	res := NewRegistry(0).Execute(context.Background(), session.ToolCode{ToolName: "nope"})
	if res.Status != session.ResultError || !strings.Contains(res.Error, "tool not found") {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestRegistry_PanicBecomesError(t *testing.T) {
	reg := NewRegistry(0)
	reg.Register(NewFunc("boom", "", nil, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		panic("bad")
	}))
	res := reg.Execute(context.Background(), session.ToolCode{ToolName: "boom"})
	if res.Status != session.ResultError || !strings.Contains(res.Error, "panicked") {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestRegistry_Descriptions(t *testing.T) {
	descs := newTestRegistry().Descriptions()
	if len(descs) != 3 {
		t.Fatalf("expected 3 descriptions, got %v", descs)
	}
	if descs[0] != "add(a, b) - add two numbers" {
		t.Errorf("unexpected first description: %q", descs[0])
	}
}

func TestCodeBlock_LastExpression(t *testing.T) {
	res := newTestRegistry().Execute(context.Background(), codeCall("2 + 2"))
	if res.Status != session.ResultSuccess || res.Result != "4" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCodeBlock_ResultVariable(t *testing.T) {
	res := newTestRegistry().Execute(context.Background(), codeCall("var result = add(15, 27); 'ignored'"))
	if res.Status != session.ResultSuccess || res.Result != "42" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCodeBlock_NamedArguments(t *testing.T) {
	res := newTestRegistry().Execute(context.Background(), codeCall("add({a: 1, b: 2})"))
	if res.Result != "3" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCodeBlock_ObjectResult(t *testing.T) {
	res := newTestRegistry().Execute(context.Background(), codeCall("({total: 3, items: ['a']})"))
	if res.Result != `{"items":["a"],"total":3}` {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCodeBlock_ToolErrorPropagates(t *testing.T) {
	res := newTestRegistry().Execute(context.Background(), codeCall("broken()"))
	if res.Status != session.ResultError || !strings.Contains(res.Error, "division by zero") {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCodeBlock_ToolErrorCatchable(t *testing.T) {
	res := newTestRegistry().Execute(context.Background(), codeCall("try { broken() } catch (e) { 'recovered' }"))
	if res.Status != session.ResultSuccess || res.Result != "recovered" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCodeBlock_CallLimit(t *testing.T) {
	res := newTestRegistry().Execute(context.Background(), codeCall("add(1,1); add(1,1); add(1,1); add(1,1)"))
	if res.Status != session.ResultError || !strings.Contains(res.Error, "too many tool calls") {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCodeBlock_ScopeViolation(t *testing.T) {
	res := newTestRegistry().Execute(context.Background(), codeCall("completed_steps.length"))
	if res.Status != session.ResultError || !strings.Contains(res.Error, "scope violation") {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCodeBlock_UndefinedName(t *testing.T) {
	res := newTestRegistry().Execute(context.Background(), codeCall("x + 1"))
	if !strings.Contains(res.Error, "self-contained") {
		t.Errorf("expected scope hint, got %+v", res)
	}
}

func TestCodeBlock_Timeout(t *testing.T) {
	reg := NewRegistry(0)
	reg.Register(NewCodeBlock(reg, SandboxConfig{Timeout: 50 * time.Millisecond}))
	res := reg.Execute(context.Background(), codeCall("while (true) {}"))
	if res.Status != session.ResultError || !strings.Contains(res.Error, "timed out") {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCodeBlock_PrintedOutput(t *testing.T) {
	res := newTestRegistry().Execute(context.Background(), codeCall("console.log('a', 1); print('b'); undefined"))
	if res.Result != "a 1\nb" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCodeBlock_NoCode(t *testing.T) {
	res := newTestRegistry().Execute(context.Background(), session.ToolCode{ToolName: CodeBlockName})
	if res.Status != session.ResultError {
		t.Errorf("expected error, got %+v", res)
	}
}

func TestFetchText_HTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><script>var x=1;</script></head><body><nav>menu</nav><h1>Title</h1><p>Hello   world</p></body></html>`)
	}))
	defer srv.Close()

	f := NewFetchText(FetchConfig{Client: srv.Client()})
	out, err := f.Call(context.Background(), map[string]interface{}{"url": srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := out.(string)
	if !strings.Contains(text, "Title") || !strings.Contains(text, "Hello world") {
		t.Errorf("unexpected text: %q", text)
	}
	if strings.Contains(text, "var x") || strings.Contains(text, "menu") {
		t.Errorf("skipped elements leaked: %q", text)
	}
}

func TestFetchText_Truncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, strings.Repeat("x", 100))
	}))
	defer srv.Close()

	f := NewFetchText(FetchConfig{Client: srv.Client(), MaxChars: 10})
	out, err := f.Call(context.Background(), map[string]interface{}{"url": srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out.(string), strings.Repeat("x", 10)+"\n") {
		t.Errorf("unexpected text: %q", out)
	}
}

func TestFetchText_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetchText(FetchConfig{Client: srv.Client()})
	tests := []struct {
		url  string
		want string
	}{
		{"", "url is required"},
		{"ftp://example.com", "invalid url"},
		{srv.URL, "HTTP 404"},
	}
	for _, tt := range tests {
		_, err := f.Call(context.Background(), map[string]interface{}{"url": tt.url})
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%q: expected %q, got %v", tt.url, tt.want, err)
		}
	}
}

func TestFetchText_RateLimitHonoursContext(t *testing.T) {
	f := NewFetchText(FetchConfig{RequestsPerMinute: 1, Burst: 1})
	f.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Call(ctx, map[string]interface{}{"url": "http://example.invalid"})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("expected rate limit error, got %v", err)
	}
}

func TestDemoFailures(t *testing.T) {
	reg := NewRegistry(0)
	for _, tool := range DemoFailures(func() float64 { return 0.1 }) {
		reg.Register(tool)
	}

	tests := []struct {
		code   session.ToolCode
		status string
	}{
		{session.ToolCode{ToolName: "artificial_failure", ToolArguments: map[string]interface{}{"input": "x"}}, session.ResultError},
		{session.ToolCode{ToolName: "conditional_failure", ToolArguments: map[string]interface{}{"input": "x", "should_fail": false}}, session.ResultSuccess},
		{session.ToolCode{ToolName: "conditional_failure", ToolArguments: map[string]interface{}{"input": "x"}}, session.ResultError},
		{session.ToolCode{ToolName: "random_success_failure", ToolArguments: map[string]interface{}{"input": "x"}}, session.ResultSuccess},
		{session.ToolCode{ToolName: "delayed_failure", ToolArguments: map[string]interface{}{"delay_seconds": 0.01}}, session.ResultError},
	}
	for _, tt := range tests {
		res := reg.Execute(context.Background(), tt.code)
		if res.Status != tt.status {
			t.Errorf("%s: got %s (%s), want %s", tt.code.ToolName, res.Status, res.Error, tt.status)
		}
	}
}

func TestNewDefault(t *testing.T) {
	reg := NewDefault(Config{EnableFetch: true, EnableDemoFailure: true})
	for _, name := range []string{CodeBlockName, FetchTextName, "artificial_failure"} {
		if reg.Get(name) == nil {
			t.Errorf("%s not registered", name)
		}
	}
	if NewDefault(Config{}).Get(FetchTextName) != nil {
		t.Error("fetch_text should be opt-in")
	}
}
