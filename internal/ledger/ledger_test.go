package ledger

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLedger_ScoreUnknownTool(t *testing.T) {
	l := Open(nil, 0)
	if got := l.Score("never_seen"); got != UnknownScore {
		t.Errorf("expected %v for unknown tool, got %v", UnknownScore, got)
	}
}

func TestLedger_RecordCounts(t *testing.T) {
	l := Open(nil, 0)
	l.Record("add", true, 1.0, "")
	l.Record("add", false, 3.0, "boom")
	st := l.Record("add", true, 2.0, "")

	if st.TotalCalls != 3 || st.SuccessfulCalls != 2 || st.FailedCalls != 1 {
		t.Errorf("unexpected counts: %+v", st)
	}
	if st.SuccessfulCalls+st.FailedCalls != st.TotalCalls {
		t.Error("successful + failed must equal total")
	}
	if math.Abs(st.AvgExecutionTime-2.0) > 1e-9 {
		t.Errorf("expected mean 2.0, got %v", st.AvgExecutionTime)
	}
	if got := l.Score("add"); math.Abs(got-2.0/3.0) > 1e-9 {
		t.Errorf("expected score 2/3, got %v", got)
	}
}

func TestLedger_IncrementalMean(t *testing.T) {
	l := Open(nil, 0)
	durations := []float64{0.5, 1.5, 4.0, 0.25, 10}
	var sum float64
	for i, d := range durations {
		sum += d
		st := l.Record("t", true, d, "")
		want := sum / float64(i+1)
		if math.Abs(st.AvgExecutionTime-want) > 1e-9 {
			t.Errorf("after %d calls expected mean %v, got %v", i+1, want, st.AvgExecutionTime)
		}
	}
}

func TestLedger_ErrorWindow(t *testing.T) {
	l := Open(nil, 5)
	for i := 0; i < 8; i++ {
		l.Record("flaky", false, 0.1, fmt.Sprintf("err-%d", i))
	}
	st, _ := l.Get("flaky")
	want := []string{"err-3", "err-4", "err-5", "err-6", "err-7"}
	if diff := cmp.Diff(want, st.LastErrors); diff != "" {
		t.Errorf("error window mismatch (-want +got):\n%s", diff)
	}
}

func TestLedger_SuccessDoesNotRecordError(t *testing.T) {
	l := Open(nil, 0)
	l.Record("t", true, 0.1, "ignored")
	st, _ := l.Get("t")
	if len(st.LastErrors) != 0 {
		t.Errorf("success should not record errors, got %v", st.LastErrors)
	}
}

func TestLedger_ScoreBounds(t *testing.T) {
	l := Open(nil, 0)
	for i := 0; i < 20; i++ {
		l.Record("t", i%3 == 0, 0.1, "e")
		if s := l.Score("t"); s < 0 || s > 1 {
			t.Fatalf("score out of range: %v", s)
		}
	}
}

func TestLedger_GetReturnsCopy(t *testing.T) {
	l := Open(nil, 0)
	l.Record("t", false, 0.1, "original")
	st, _ := l.Get("t")
	st.LastErrors[0] = "mutated"

	again, _ := l.Get("t")
	if again.LastErrors[0] != "original" {
		t.Error("Get should not expose internal state")
	}
}

func TestLedger_ConcurrentRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l := Open(NewFileStore(path), 0)

	var wg sync.WaitGroup
	tools := []string{"a", "b", "c"}
	for _, name := range tools {
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(name string, ok bool) {
				defer wg.Done()
				l.Record(name, ok, 0.01, "x")
			}(name, i%2 == 0)
		}
	}
	wg.Wait()

	for _, name := range tools {
		st, _ := l.Get(name)
		if st.TotalCalls != 50 {
			t.Errorf("%s: expected 50 calls, got %d", name, st.TotalCalls)
		}
		if st.SuccessfulCalls+st.FailedCalls != st.TotalCalls {
			t.Errorf("%s: counts do not add up: %+v", name, st)
		}
	}

	reloaded := Open(NewFileStore(path), 0)
	if diff := cmp.Diff(l.Snapshot(), reloaded.Snapshot()); diff != "" {
		t.Errorf("persisted ledger differs (-mem +disk):\n%s", diff)
	}
}

func TestLedger_WriteThrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l := Open(NewFileStore(path), 0)
	l.Record("add", true, 1.5, "")

	st, err := NewFileStore(path).Load()
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if st["add"].TotalCalls != 1 {
		t.Errorf("expected record on disk after Record, got %+v", st)
	}
}

func TestLedger_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	l := Open(NewFileStore(path), 0)
	if len(l.Tools()) != 0 {
		t.Errorf("expected empty ledger, got %v", l.Tools())
	}
	if l.Score("x") != UnknownScore {
		t.Error("expected unknown score")
	}
}

func TestFileStore_LegacyFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tool_performance.json")
	data := `{
  "add": {"total_calls": 4, "successful_calls": 3, "failed_calls": 1, "avg_execution_time": 0.2, "last_errors": ["bad input"]}
}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	l := Open(NewFileStore(path), 0)
	if got := l.Score("add"); got != 0.75 {
		t.Errorf("expected 0.75, got %v", got)
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer store.Close()

	l := Open(store, 0)
	l.Record("search", false, 2.0, "timeout")
	l.Record("search", true, 1.0, "")
	l.Record("add", true, 0.1, "")

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if diff := cmp.Diff(l.Snapshot(), loaded); diff != "" {
		t.Errorf("sqlite ledger differs (-mem +db):\n%s", diff)
	}
}
