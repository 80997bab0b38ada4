// Package simulator drives batches of queries through the loop and reports
// aggregate outcomes and tool reliability.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/taskloop/internal/ledger"
	"github.com/vinayprograms/taskloop/internal/loop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Runner processes one query. *loop.Loop implements it.
type Runner interface {
	Run(ctx context.Context, query string) loop.Result
}

// Config bounds a simulation.
type Config struct {
	// Concurrency is the number of sessions in flight. Defaults to 1.
	Concurrency int
	// Interval is the minimum spacing between session starts, to stay under
	// provider rate limits. Zero starts sessions as fast as Concurrency allows.
	Interval time.Duration
	// Limit caps the number of queries run. Zero runs them all.
	Limit int
}

// TestResult is the outcome of one query.
type TestResult struct {
	TestID        int       `json:"test_id"`
	Query         string    `json:"query"`
	ExecutionTime float64   `json:"execution_time"`
	Success       bool      `json:"success"`
	FinalAnswer   string    `json:"final_answer"`
	Confidence    float64   `json:"confidence"`
	StepCount     int       `json:"step_count"`
	RetryCount    int       `json:"retry_count"`
	Escalations   int       `json:"escalations"`
	PlanVersions  int       `json:"plan_versions"`
	SessionID     string    `json:"session_id"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Metadata aggregates a simulation.
type Metadata struct {
	Timestamp            time.Time `json:"timestamp"`
	TotalTests           int       `json:"total_tests"`
	SuccessfulTests      int       `json:"successful_tests"`
	FailedTests          int       `json:"failed_tests"`
	SuccessRate          float64   `json:"success_rate"`
	AverageExecutionTime float64   `json:"average_execution_time"`
	TotalSteps           int       `json:"total_steps"`
	AverageSteps         float64   `json:"average_steps"`
	TotalRetries         int       `json:"total_retries"`
	AverageRetries       float64   `json:"average_retries"`
}

// Report is the saved simulation output.
type Report struct {
	Metadata        Metadata                `json:"simulation_metadata"`
	ToolPerformance map[string]ledger.Stats `json:"tool_performance"`
	TestResults     []TestResult            `json:"test_results"`
}

// Simulator runs query batches.
type Simulator struct {
	runner Runner
	ledger *ledger.Ledger
	cfg    Config
	logger *logging.Logger
}

// New creates a simulator. led may be nil, in which case the report carries
// no tool performance.
func New(runner Runner, led *ledger.Ledger, cfg Config) *Simulator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Simulator{
		runner: runner,
		ledger: led,
		cfg:    cfg,
		logger: logging.New().WithComponent("simulator"),
	}
}

// Run processes queries and builds the report. Results keep query order.
// Cancelling ctx stops new sessions from starting; the report covers the
// sessions that did start.
func (s *Simulator) Run(ctx context.Context, queries []string) (*Report, error) {
	if s.cfg.Limit > 0 && len(queries) > s.cfg.Limit {
		queries = queries[:s.cfg.Limit]
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("no queries to simulate")
	}

	limit := rate.Inf
	if s.cfg.Interval > 0 {
		limit = rate.Every(s.cfg.Interval)
	}
	pacer := rate.NewLimiter(limit, 1)

	s.logger.Info("simulation started", map[string]interface{}{
		"queries":     len(queries),
		"concurrency": s.cfg.Concurrency,
		"interval":    s.cfg.Interval.String(),
	})

	results := make([]*TestResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i, q := range queries {
		if err := pacer.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			results[i] = s.runOne(gctx, i+1, q)
			return nil
		})
	}
	g.Wait()

	ran := make([]TestResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			ran = append(ran, *r)
		}
	}
	if len(ran) == 0 {
		return nil, fmt.Errorf("simulation cancelled before any query ran: %w", ctx.Err())
	}

	report := s.buildReport(ran)
	s.logger.Info("simulation finished", map[string]interface{}{
		"total":        report.Metadata.TotalTests,
		"successful":   report.Metadata.SuccessfulTests,
		"success_rate": report.Metadata.SuccessRate,
	})
	return report, nil
}

func (s *Simulator) runOne(ctx context.Context, id int, query string) (tr *TestResult) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("session panicked", map[string]interface{}{
				"test_id": id,
				"panic":   fmt.Sprint(p),
			})
			tr = &TestResult{
				TestID:        id,
				Query:         query,
				ExecutionTime: time.Since(start).Seconds(),
				FinalAnswer:   "Error occurred",
				SessionID:     fmt.Sprintf("error_%d", id),
				Error:         fmt.Sprint(p),
				Timestamp:     time.Now(),
			}
		}
	}()

	res := s.runner.Run(ctx, query)
	sess := res.Session
	tr = &TestResult{
		TestID:        id,
		Query:         query,
		ExecutionTime: time.Since(start).Seconds(),
		StepCount:     res.TotalSteps,
		RetryCount:    res.RetryCount,
		Escalations:   res.Escalations,
		Timestamp:     time.Now(),
	}
	if sess == nil {
		tr.FinalAnswer = "No answer"
		tr.SessionID = fmt.Sprintf("error_%d", id)
		tr.Error = "no session returned"
		return tr
	}
	tr.Success = sess.State.GoalAchieved
	tr.FinalAnswer = sess.State.FinalAnswer
	if tr.FinalAnswer == "" {
		tr.FinalAnswer = "No answer"
	}
	tr.Confidence = sess.State.Confidence
	tr.PlanVersions = len(sess.PlanVersions)
	tr.SessionID = sess.ID
	if err := ctx.Err(); err != nil && !tr.Success {
		tr.Error = err.Error()
	}

	s.logger.Info("test completed", map[string]interface{}{
		"test_id": id,
		"success": tr.Success,
		"steps":   tr.StepCount,
		"retries": tr.RetryCount,
		"seconds": tr.ExecutionTime,
	})
	return tr
}

func (s *Simulator) buildReport(results []TestResult) *Report {
	md := Metadata{Timestamp: time.Now(), TotalTests: len(results)}
	var totalTime float64
	for _, r := range results {
		if r.Success {
			md.SuccessfulTests++
		}
		totalTime += r.ExecutionTime
		md.TotalSteps += r.StepCount
		md.TotalRetries += r.RetryCount
	}
	md.FailedTests = md.TotalTests - md.SuccessfulTests
	n := float64(md.TotalTests)
	md.SuccessRate = float64(md.SuccessfulTests) / n * 100
	md.AverageExecutionTime = totalTime / n
	md.AverageSteps = float64(md.TotalSteps) / n
	md.AverageRetries = float64(md.TotalRetries) / n

	perf := map[string]ledger.Stats{}
	if s.ledger != nil {
		perf = s.ledger.Snapshot()
	}
	return &Report{Metadata: md, ToolPerformance: perf, TestResults: results}
}

// WriteFile saves the report as indented JSON.
func (r *Report) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// DefaultReportName names a report file after the current time.
func DefaultReportName(now time.Time) string {
	return fmt.Sprintf("simulation_results_%s.json", now.Format("20060102_150405"))
}

// WriteSummary prints the human-readable summary.
func (r *Report) WriteSummary(w io.Writer) {
	md := r.Metadata
	fmt.Fprintln(w, "SIMULATION REPORT")
	fmt.Fprintf(w, "Total Tests: %d\n", md.TotalTests)
	fmt.Fprintf(w, "Successful: %d\n", md.SuccessfulTests)
	fmt.Fprintf(w, "Failed: %d\n", md.FailedTests)
	fmt.Fprintf(w, "Success Rate: %.2f%%\n", md.SuccessRate)
	fmt.Fprintf(w, "Average Execution Time: %.2fs\n", md.AverageExecutionTime)
	fmt.Fprintf(w, "Total Steps: %d\n", md.TotalSteps)
	fmt.Fprintf(w, "Average Steps per Test: %.2f\n", md.AverageSteps)
	fmt.Fprintf(w, "Total Retries: %d\n", md.TotalRetries)
	fmt.Fprintf(w, "Average Retries per Test: %.2f\n", md.AverageRetries)

	if len(r.ToolPerformance) == 0 {
		return
	}
	names := make([]string, 0, len(r.ToolPerformance))
	for name := range r.ToolPerformance {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "\nTool Performance:")
	for _, name := range names {
		st := r.ToolPerformance[name]
		if st.TotalCalls == 0 {
			continue
		}
		fmt.Fprintf(w, "  %s: %.1f%% success rate (%d calls)\n", name, st.SuccessRate()*100, st.TotalCalls)
	}
}
