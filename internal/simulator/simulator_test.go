package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/vinayprograms/taskloop/internal/escalation"
	"github.com/vinayprograms/taskloop/internal/ledger"
	"github.com/vinayprograms/taskloop/internal/loop"
	"github.com/vinayprograms/taskloop/internal/oracle"
	"github.com/vinayprograms/taskloop/internal/session"
	"github.com/vinayprograms/taskloop/internal/tools"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRunner solves every query unless it mentions "fail" and panics on
// "panic".
type fakeRunner struct {
	inFlight    int32
	maxInFlight int32
	delay       time.Duration
	mu          sync.Mutex
	seen        []string
}

func (f *fakeRunner) Run(ctx context.Context, q string) loop.Result {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		m := atomic.LoadInt32(&f.maxInFlight)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxInFlight, m, n) {
			break
		}
	}
	f.mu.Lock()
	f.seen = append(f.seen, q)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if q == "panic" {
		panic("boom")
	}
	s := session.New(q)
	if strings.Contains(q, "fail") {
		return loop.Result{Session: s, TotalSteps: 3, RetryCount: 2, Escalations: 1}
	}
	p := session.Perception{OriginalGoalAchieved: true, SolutionSummary: "answer to " + q, Confidence: "0.8"}
	s.AddPerception(p)
	s.MarkComplete(&p, "")
	return loop.Result{Session: s, TotalSteps: 1}
}

func TestSimulator_Report(t *testing.T) {
	led := ledger.Open(nil, 5)
	led.Record("raw_code_block", true, 0.1, "")
	led.Record("raw_code_block", false, 0.3, "boom")

	sim := New(&fakeRunner{}, led, Config{Concurrency: 2})
	report, err := sim.Run(context.Background(), []string{"one", "two fail", "three", "four fail"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	md := report.Metadata
	if md.TotalTests != 4 || md.SuccessfulTests != 2 || md.FailedTests != 2 {
		t.Errorf("unexpected counts: %+v", md)
	}
	if md.SuccessRate != 50 {
		t.Errorf("expected 50%% success, got %v", md.SuccessRate)
	}
	if md.TotalSteps != 8 || md.AverageSteps != 2 {
		t.Errorf("unexpected steps: total %d avg %v", md.TotalSteps, md.AverageSteps)
	}
	if md.TotalRetries != 4 || md.AverageRetries != 1 {
		t.Errorf("unexpected retries: total %d avg %v", md.TotalRetries, md.AverageRetries)
	}

	var ids []int
	for _, r := range report.TestResults {
		ids = append(ids, r.TestID)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4}, ids); diff != "" {
		t.Errorf("results out of order (-want +got):\n%s", diff)
	}
	first := report.TestResults[0]
	if !first.Success || first.FinalAnswer != "answer to one" || first.Confidence != 0.8 || first.PlanVersions != 0 {
		t.Errorf("unexpected first result: %+v", first)
	}
	if second := report.TestResults[1]; second.Success || second.FinalAnswer != "No answer" || second.Escalations != 1 {
		t.Errorf("unexpected second result: %+v", second)
	}

	st := report.ToolPerformance["raw_code_block"]
	if st.TotalCalls != 2 || st.FailedCalls != 1 {
		t.Errorf("unexpected tool performance: %+v", st)
	}
}

func TestSimulator_PanicBecomesFailedResult(t *testing.T) {
	sim := New(&fakeRunner{}, nil, Config{})
	report, err := sim.Run(context.Background(), []string{"panic", "ok"})
	if err != nil {
		t.Fatal(err)
	}
	r := report.TestResults[0]
	if r.Success || r.Error != "boom" || r.SessionID != "error_1" || r.FinalAnswer != "Error occurred" {
		t.Errorf("unexpected panic result: %+v", r)
	}
	if !report.TestResults[1].Success {
		t.Error("later queries should still run")
	}
	if len(report.ToolPerformance) != 0 {
		t.Errorf("expected no tool performance without a ledger, got %v", report.ToolPerformance)
	}
}

func TestSimulator_ConcurrencyBound(t *testing.T) {
	runner := &fakeRunner{delay: 20 * time.Millisecond}
	sim := New(runner, nil, Config{Concurrency: 3})
	queries := make([]string, 12)
	for i := range queries {
		queries[i] = "q"
	}
	if _, err := sim.Run(context.Background(), queries); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&runner.maxInFlight); got > 3 {
		t.Errorf("expected at most 3 sessions in flight, saw %d", got)
	}
}

func TestSimulator_Limit(t *testing.T) {
	runner := &fakeRunner{}
	sim := New(runner, nil, Config{Limit: 2})
	report, err := sim.Run(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if report.Metadata.TotalTests != 2 || len(runner.seen) != 2 {
		t.Errorf("expected 2 queries, got %d", report.Metadata.TotalTests)
	}
}

func TestSimulator_Interval(t *testing.T) {
	sim := New(&fakeRunner{}, nil, Config{Concurrency: 4, Interval: 30 * time.Millisecond})
	start := time.Now()
	if _, err := sim.Run(context.Background(), []string{"a", "b", "c"}); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 55*time.Millisecond {
		t.Errorf("starts should be spaced by the interval, took %v", elapsed)
	}
}

func TestSimulator_Errors(t *testing.T) {
	sim := New(&fakeRunner{}, nil, Config{})
	if _, err := sim.Run(context.Background(), nil); err == nil {
		t.Error("expected error for no queries")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sim.Run(ctx, []string{"a"}); err == nil {
		t.Error("expected error when cancelled before any query ran")
	}
}

// A real loop with scripted oracles: the first query is solved by a tool
// call, the second hits a failing tool and the scripted responder skips it.
func TestSimulator_WithLoop(t *testing.T) {
	reg := tools.NewRegistry(time.Second)
	reg.Register(tools.NewFunc("add", "Add two numbers", []string{"a", "b"},
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			a, _ := args["a"].(float64)
			b, _ := args["b"].(float64)
			return a + b, nil
		}))
	reg.Register(tools.NewFunc("broken", "Always fails", nil,
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, os.ErrNotExist
		}))

	perceiver := oracle.PerceiverFunc(func(ctx context.Context, in oracle.PerceptionInput) session.Perception {
		if in.SnapshotType == "step_result" && strings.Contains(in.RawInput, "42") {
			return session.Perception{OriginalGoalAchieved: true, SolutionSummary: "42", Confidence: "0.95"}
		}
		return session.Perception{Confidence: "0.5"}
	})
	decider := oracle.DeciderFunc(func(ctx context.Context, in oracle.DecisionInput) oracle.DecisionOutput {
		tool, args := "add", map[string]interface{}{"a": 15.0, "b": 27.0}
		if strings.Contains(in.OriginalQuery, "broken") {
			tool, args = "broken", map[string]interface{}{}
		}
		return oracle.DecisionOutput{
			Description:   "call " + tool,
			Type:          session.TypeCode,
			ToolName:      tool,
			ToolArguments: args,
			PlanText:      []string{"Step 0: call " + tool},
		}
	})

	responder := escalation.NewScripted(escalation.Script{
		ToolFailures: []escalation.Guidance{{Kind: escalation.Skip}, {Kind: escalation.Skip}, {Kind: escalation.Skip}},
	})
	led := ledger.Open(nil, 5)
	l, err := loop.New(loop.DefaultConfig(), loop.Deps{
		Perceiver:  perceiver,
		Decider:    decider,
		Executor:   reg,
		Escalation: responder,
		Ledger:     led,
	})
	if err != nil {
		t.Fatal(err)
	}

	report, err := New(l, l.Ledger(), Config{Concurrency: 2}).Run(context.Background(), []string{"What is 15 + 27?", "use the broken tool"})
	if err != nil {
		t.Fatal(err)
	}
	if !report.TestResults[0].Success || report.TestResults[0].FinalAnswer != "42" {
		t.Errorf("expected first query solved: %+v", report.TestResults[0])
	}
	if report.TestResults[1].Success {
		t.Errorf("expected second query to fail: %+v", report.TestResults[1])
	}
	if st := report.ToolPerformance["broken"]; st.FailedCalls == 0 {
		t.Errorf("expected broken tool failures in ledger: %+v", st)
	}

	path := filepath.Join(t.TempDir(), "out", DefaultReportName(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
	if !strings.HasSuffix(path, "simulation_results_20260102_030405.json") {
		t.Errorf("unexpected report name %s", path)
	}
	if err := report.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	for _, key := range []string{"simulation_metadata", "tool_performance", "test_results"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("report missing %s", key)
		}
	}
}

func TestReport_WriteSummary(t *testing.T) {
	r := &Report{
		Metadata: Metadata{TotalTests: 2, SuccessfulTests: 1, FailedTests: 1, SuccessRate: 50},
		ToolPerformance: map[string]ledger.Stats{
			"fetch_text": {TotalCalls: 4, SuccessfulCalls: 3},
			"unused":     {},
		},
	}
	var buf bytes.Buffer
	r.WriteSummary(&buf)
	out := buf.String()
	for _, want := range []string{"Total Tests: 2", "Success Rate: 50.00%", "fetch_text: 75.0% success rate (4 calls)"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "unused") {
		t.Error("tools with no calls should be omitted")
	}
}

func TestQueries(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	all := DefaultQueries(2, rnd)
	if len(all) != len(BaseQueries)+16 {
		t.Errorf("expected %d queries, got %d", len(BaseQueries)+16, len(all))
	}
	if all[len(BaseQueries)+3] != "Search for information about topic 0" {
		t.Errorf("unexpected variation %q", all[len(BaseQueries)+3])
	}
	if Variations(0, rnd) != nil {
		t.Error("zero rounds should generate nothing")
	}

	path := filepath.Join(t.TempDir(), "queries.yaml")
	os.WriteFile(path, []byte("queries:\n  - \"What is 15 + 27?\"\n  - \"  \"\nvariations: 1\n"), 0644)
	got, err := LoadQueries(path, rnd)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 9 || got[0] != "What is 15 + 27?" {
		t.Errorf("unexpected loaded queries: %v", got)
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	os.WriteFile(empty, []byte("queries: []\n"), 0644)
	if _, err := LoadQueries(empty, rnd); err == nil {
		t.Error("expected error for empty query file")
	}
}
