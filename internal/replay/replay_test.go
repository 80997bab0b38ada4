package replay

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/vinayprograms/taskloop/internal/session"
)

// sampleSession is a two-version run: a failed tool call answered by a
// human, then a successful call that achieves the goal.
func sampleSession() *session.Session {
	s := session.New("What is 15 + 27?")
	s.AddPerception(session.Perception{ResultRequirement: "a number", Reasoning: "nothing computed yet", Confidence: "0.1"})

	first := s.AddPlanVersion([]string{"Step 0: add the numbers"}, []*session.Step{
		session.NewStep(0, "add 15 and 27", session.TypeCode),
	})
	first.Code = &session.ToolCode{ToolName: "add", ToolArguments: map[string]interface{}{"a": 15, "b": 27}}
	first.Result = &session.ExecutionResult{
		Status:          session.ResultHumanIntervention,
		Result:          "Step skipped by human",
		Error:           "connection refused",
		DurationSeconds: 0.5,
	}
	first.Status = session.StatusCompleted
	first.Perception = &session.Perception{Reasoning: "skipped", Confidence: "0.2"}

	second := s.AddPlanVersion([]string{"Step 0: run code"}, []*session.Step{
		session.NewStep(0, "compute in code", session.TypeCode),
	})
	second.WasReplanned = true
	second.Code = &session.ToolCode{ToolName: "raw_code_block", ToolArguments: map[string]interface{}{"code": "var result = add(15, 27)\nresult"}}
	second.Result = &session.ExecutionResult{Status: session.ResultSuccess, Result: "42", DurationSeconds: 0.25}
	second.Status = session.StatusCompleted
	p := session.Perception{OriginalGoalAchieved: true, SolutionSummary: "42", Reasoning: "sum computed", Confidence: "0.95"}
	second.Perception = &p
	s.AddPerception(*first.Perception)
	s.AddPerception(p)
	s.MarkComplete(&p, "")
	return s
}

func TestReplay_Timeline(t *testing.T) {
	var buf bytes.Buffer
	if err := New(&buf, 0).Replay(sampleSession()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"SESSION",
		"What is 15 + 27?",
		"goal achieved",
		"QUERY",
		"PLAN v1",
		"PLAN v2",
		"replanned",
		"CODE",
		"raw_code_block",
		"HUMAN",
		"connection refused",
		"OK",
		"PERCEIVE",
		"COMPLETED",
		"Answer:",
		"SESSION STATISTICS",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "sum computed") {
		t.Error("perception reasoning should only show when verbose")
	}
}

func TestReplay_Verbose(t *testing.T) {
	var buf bytes.Buffer
	if err := New(&buf, 1).Replay(sampleSession()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"sum computed", "requirement:", "Step 0: run code", "── CODE ──", "var result = add(15, 27)", "a: 15"} {
		if !strings.Contains(out, want) {
			t.Errorf("verbose output missing %q", want)
		}
	}
}

func TestReplay_Incomplete(t *testing.T) {
	s := session.New("ambiguous request")
	st := s.AddPlanVersion(nil, []*session.Step{session.NewStep(0, "need more detail", session.TypeNOP)})
	st.Status = session.StatusClarificationNeeded

	var buf bytes.Buffer
	if err := New(&buf, 0).Replay(s); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"INCOMPLETE", "NOP", "clarification needed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}

	if err := New(&buf, 0).Replay(nil); err == nil {
		t.Error("expected error for nil session")
	}
}

func TestReplay_MaxContentSize(t *testing.T) {
	s := sampleSession()
	s.PlanVersions[1].Steps[0].Result.Result = strings.Repeat("x", 500)

	var buf bytes.Buffer
	if err := New(&buf, 1, WithMaxContentSize(200)).Replay(s); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "[truncated, 500 bytes total]") {
		t.Error("expected truncation marker")
	}
}

func TestComputeStats(t *testing.T) {
	stats := ComputeStats(sampleSession())
	if stats.PlanVersions != 2 || stats.Replans != 1 || stats.Perceptions != 3 {
		t.Errorf("unexpected plan stats: %+v", stats)
	}
	if stats.Steps != 2 || stats.Code != 2 {
		t.Errorf("unexpected step counts: %+v", stats)
	}
	if stats.Succeeded != 1 || stats.Failed != 1 || stats.HumanInterventions != 1 {
		t.Errorf("unexpected result counts: %+v", stats)
	}
	add := stats.Tools["add"]
	if add == nil || add.Calls != 1 || add.Failures != 1 || add.TotalSeconds != 0.5 {
		t.Errorf("unexpected add stats: %+v", add)
	}
}

func TestMultiReplayer(t *testing.T) {
	dir := t.TempDir()
	store, err := session.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	a := sampleSession()
	b := session.New("second query")
	for _, s := range []*session.Session{a, b} {
		if err := store.Save(s); err != nil {
			t.Fatal(err)
		}
	}
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0644)

	files, err := ExpandPaths([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 session logs, got %v", files)
	}

	var buf bytes.Buffer
	if err := NewMulti(&buf, 0).ReplayFiles(files); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "[1/2]") || !strings.Contains(out, "[2/2]") {
		t.Errorf("expected per-session headers:\n%s", out)
	}
	if strings.Index(out, "What is 15 + 27?") > strings.Index(out, "second query") {
		t.Error("sessions should be ordered by creation time")
	}

	if _, err := ExpandPaths([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestReplayFile(t *testing.T) {
	store, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := sampleSession()
	if err := store.Save(s); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := New(&buf, 0).ReplayFile(store.PathFor(s)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), s.ID) {
		t.Error("replay should show the session id")
	}
	if err := New(&buf, 0).ReplayFile(filepath.Join(t.TempDir(), "nope.jsonl")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWrapContent(t *testing.T) {
	line := "    1 │ v1 s0    │ " + strings.Repeat("word ", 20)
	got := strings.Split(wrapContent(line, 50), "\n")
	if len(got) < 2 {
		t.Fatalf("expected wrapping, got %q", got)
	}
	prefix := "    1 │ v1 s0    │ "
	if !strings.HasPrefix(got[0], prefix) {
		t.Errorf("first line lost its prefix: %q", got[0])
	}
	indent := strings.Repeat(" ", len([]rune(prefix)))
	for _, l := range got[1:] {
		if !strings.HasPrefix(l, indent) {
			t.Errorf("continuation not aligned: %q", l)
		}
	}

	if got := wrapContent("short", 50); got != "short" {
		t.Errorf("short line changed: %q", got)
	}
}

func TestPagerModel_Search(t *testing.T) {
	content := strings.Join([]string{"alpha", "beta", "gamma", "beta again"}, "\n")
	m := newPagerModel("test", content)
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 10})
	if !m.ready {
		t.Fatal("model should be ready after a size message")
	}

	m.searchQuery = "BETA"
	m.executeSearch()
	if len(m.searchLines) != 2 || m.searchLines[0] != 1 || m.searchLines[1] != 3 {
		t.Errorf("unexpected matches: %v", m.searchLines)
	}

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	if m.searchIndex != 1 {
		t.Errorf("expected second match selected, got %d", m.searchIndex)
	}
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("N")})
	if m.searchIndex != 0 {
		t.Errorf("expected first match selected, got %d", m.searchIndex)
	}

	m.searchQuery = "delta"
	m.executeSearch()
	if !m.searchFailed {
		t.Error("expected failed search")
	}
	if !strings.Contains(m.View(), "Pattern not found") {
		t.Error("view should report a failed search")
	}
}

func TestPagerModel_Reload(t *testing.T) {
	renders := 0
	m := newPagerModel("live", "v1")
	m.live = true
	m.render = func() (string, error) {
		renders++
		return "v2", nil
	}
	m.Update(tea.WindowSizeMsg{Width: 40, Height: 5})
	m.reload()
	if renders != 1 || m.content != "v2" {
		t.Errorf("expected reloaded content, got %q after %d renders", m.content, renders)
	}
	if !strings.Contains(m.View(), "LIVE") {
		t.Error("live view should show the live indicator")
	}
}
