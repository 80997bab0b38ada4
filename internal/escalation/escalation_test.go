package escalation

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/vinayprograms/agentkit/llm"
)

func TestGuidance_String(t *testing.T) {
	tests := []struct {
		g    Guidance
		want string
	}{
		{Guidance{Kind: AlternativeSuggestion, Text: "divide by 2"}, "Human suggested alternative: divide by 2"},
		{Guidance{Kind: ManualResult, Text: "42"}, "Manual result provided: 42"},
		{Guidance{Kind: Skip}, "Step skipped by human"},
		{Guidance{Kind: RetryWithParams, Text: "x=1"}, "Retry with new parameters: x=1"},
	}
	for _, tt := range tests {
		if got := tt.g.String(); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.g.Kind, got, tt.want)
		}
	}
}

func TestGuidance_Validate(t *testing.T) {
	if err := (Guidance{Kind: "bogus"}).Validate(); err == nil {
		t.Error("unknown kind should be invalid")
	}
	if err := (Guidance{}).Validate(); err == nil {
		t.Error("empty kind should be invalid")
	}
	if err := (PlanGuidance{Kind: NewPlan}).Validate(); err == nil {
		t.Error("new plan without steps should be invalid")
	}
	if err := (PlanGuidance{Kind: DirectAnswer, Answer: "4"}).Validate(); err != nil {
		t.Errorf("direct answer should be valid: %v", err)
	}
}

func TestConsole_ToolFailureRepromptsOnInvalidChoice(t *testing.T) {
	in := strings.NewReader("9\nabc\n\n2\n42\n")
	var out bytes.Buffer
	h := NewConsole(in, &out)

	g, err := h.ToolFailure(context.Background(), ToolFailureRequest{
		StepDescription: "divide",
		ToolName:        "raw_code_block",
		Error:           "division by zero",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(Guidance{Kind: ManualResult, Text: "42"}, g); diff != "" {
		t.Errorf("guidance mismatch (-want +got):\n%s", diff)
	}
	if n := strings.Count(out.String(), "Invalid choice"); n != 3 {
		t.Errorf("expected 3 reprompts, got %d\n%s", n, out.String())
	}
	if !strings.Contains(out.String(), "division by zero") {
		t.Error("prompt should show the error")
	}
}

func TestConsole_Skip(t *testing.T) {
	h := NewConsole(strings.NewReader("3\n"), &bytes.Buffer{})
	g, err := h.ToolFailure(context.Background(), ToolFailureRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Kind != Skip || g.String() != "Step skipped by human" {
		t.Errorf("unexpected guidance: %+v", g)
	}
}

func TestConsole_PlanFailureNewPlan(t *testing.T) {
	in := strings.NewReader("1\nfetch data\nsummarize\n\n")
	h := NewConsole(in, &bytes.Buffer{})

	g, err := h.PlanFailure(context.Background(), PlanFailureRequest{StepCount: 3, MaxSteps: 3, Query: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := PlanGuidance{Kind: NewPlan, Steps: []string{"fetch data", "summarize"}, Description: "Human-provided plan"}
	if diff := cmp.Diff(want, g); diff != "" {
		t.Errorf("plan guidance mismatch (-want +got):\n%s", diff)
	}
}

func TestConsole_PlanFailureEmptyNewPlanReprompts(t *testing.T) {
	in := strings.NewReader("1\n\n3\nfour\n")
	h := NewConsole(in, &bytes.Buffer{})

	g, err := h.PlanFailure(context.Background(), PlanFailureRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Kind != DirectAnswer || g.Answer != "four" {
		t.Errorf("unexpected guidance: %+v", g)
	}
}

func TestConsole_PlanFailureKinds(t *testing.T) {
	tests := []struct {
		input string
		want  PlanGuidance
	}{
		{"2\nadd a check\n", PlanGuidance{Kind: ModifyPlan, Modification: "add a check", Description: "Human-modified plan"}},
		{"3\n4\n", PlanGuidance{Kind: DirectAnswer, Answer: "4", Description: "Human-provided answer"}},
		{"4\nuse search\n", PlanGuidance{Kind: NewApproach, Approach: "use search", Description: "Human-suggested new approach"}},
	}
	for _, tt := range tests {
		h := NewConsole(strings.NewReader(tt.input), &bytes.Buffer{})
		g, err := h.PlanFailure(context.Background(), PlanFailureRequest{})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.want.Kind, err)
		}
		if diff := cmp.Diff(tt.want, g); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", tt.want.Kind, diff)
		}
	}
}

func TestConsole_EOF(t *testing.T) {
	h := NewConsole(strings.NewReader("7\n"), &bytes.Buffer{})
	_, err := h.ToolFailure(context.Background(), ToolFailureRequest{})
	if !errors.Is(err, ErrNoResponder) {
		t.Errorf("expected ErrNoResponder at EOF, got %v", err)
	}
}

func TestConsole_ContextCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	h := NewConsole(r, &bytes.Buffer{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.PlanFailure(ctx, PlanFailureRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestScripted_SkipsInvalidEntries(t *testing.T) {
	s := NewScripted(Script{
		ToolFailures: []Guidance{{Kind: "nonsense"}, {Kind: Skip}},
		PlanFailures: []PlanGuidance{{Kind: NewPlan}, {Kind: DirectAnswer, Answer: "4"}},
	})

	g, err := s.ToolFailure(context.Background(), ToolFailureRequest{ToolName: "t"})
	if err != nil || g.Kind != Skip {
		t.Errorf("expected skip, got %+v, %v", g, err)
	}
	pg, err := s.PlanFailure(context.Background(), PlanFailureRequest{StepCount: 3})
	if err != nil || pg.Kind != DirectAnswer {
		t.Errorf("expected direct answer, got %+v, %v", pg, err)
	}

	if _, err := s.ToolFailure(context.Background(), ToolFailureRequest{}); !errors.Is(err, ErrNoResponder) {
		t.Errorf("expected exhausted script, got %v", err)
	}
	if n := len(s.ToolRequests()); n != 2 {
		t.Errorf("expected 2 recorded tool requests, got %d", n)
	}
	if s.PlanRequests()[0].StepCount != 3 {
		t.Error("plan request not recorded")
	}
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	data := `
tool_failures:
  - type: manual_result
    text: "42"
plan_failures:
  - type: new_plan
    plan_text:
      - fetch
      - answer
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadScript(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if s.ToolFailures[0].Text != "42" {
		t.Errorf("unexpected tool failures: %+v", s.ToolFailures)
	}
	if diff := cmp.Diff([]string{"fetch", "answer"}, s.PlanFailures[0].Steps); diff != "" {
		t.Errorf("plan steps mismatch:\n%s", diff)
	}
}

func TestDecodeGuidance(t *testing.T) {
	if _, err := decodeGuidance([]byte(`{"type":"manual_result","text":"1"}`)); err != nil {
		t.Errorf("valid reply rejected: %v", err)
	}
	if _, err := decodeGuidance([]byte(`{"type":"later"}`)); err == nil {
		t.Error("invalid kind accepted")
	}
	if _, err := decodePlanGuidance([]byte(`not json`)); err == nil {
		t.Error("garbage accepted")
	}
}

// mockProvider returns queued replies in order.
type mockProvider struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (m *mockProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.replies) == 0 {
		return nil, errors.New("no reply")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return &llm.ChatResponse{Content: r}, nil
}

func (m *mockProvider) Name() string { return "mock" }

func TestSupervisor_ModelDecidesAfterRetry(t *testing.T) {
	p := &mockProvider{replies: []string{
		"I think you should skip it",
		"```json\n{\"type\": \"skip\"}\n```",
	}}
	s := NewSupervisor(SupervisorConfig{Provider: p})

	g, err := s.ToolFailure(context.Background(), ToolFailureRequest{ToolName: "t"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Kind != Skip {
		t.Errorf("expected skip, got %+v", g)
	}
	if p.calls != 2 {
		t.Errorf("expected 2 model calls, got %d", p.calls)
	}
}

func TestSupervisor_GivesUp(t *testing.T) {
	p := &mockProvider{replies: []string{"no", "still no"}}
	s := NewSupervisor(SupervisorConfig{Provider: p, MaxAttempts: 2})

	_, err := s.PlanFailure(context.Background(), PlanFailureRequest{})
	if !errors.Is(err, ErrNoResponder) {
		t.Errorf("expected ErrNoResponder, got %v", err)
	}
}

func TestSupervisor_HumanFirst(t *testing.T) {
	human := NewScripted(Script{PlanFailures: []PlanGuidance{{Kind: DirectAnswer, Answer: "4"}}})
	p := &mockProvider{}
	s := NewSupervisor(SupervisorConfig{Provider: p, Human: human})

	g, err := s.PlanFailure(context.Background(), PlanFailureRequest{})
	if err != nil || g.Answer != "4" {
		t.Errorf("expected human answer, got %+v, %v", g, err)
	}
	if p.calls != 0 {
		t.Error("model should not be asked when the human answers")
	}
}

func TestSupervisor_FallsBackWhenHumanGone(t *testing.T) {
	human := NewScripted(Script{})
	p := &mockProvider{replies: []string{`{"type": "direct_answer", "answer": "5"}`}}
	s := NewSupervisor(SupervisorConfig{Provider: p, Human: human})

	g, err := s.PlanFailure(context.Background(), PlanFailureRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Kind != DirectAnswer || g.Answer != "5" {
		t.Errorf("expected model answer, got %+v", g)
	}
}
