// Package loop runs the perceive, decide, execute cycle for a single query.
//
// A session moves through INIT, PERCEIVE_INITIAL, DECIDE_INITIAL and then
// alternates EXECUTE and EVALUATE until the goal is met, the plan is
// exhausted, the step ceiling is reached without a usable human answer, or a
// step cannot proceed.
package loop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/taskloop/internal/escalation"
	"github.com/vinayprograms/taskloop/internal/ledger"
	"github.com/vinayprograms/taskloop/internal/memory"
	"github.com/vinayprograms/taskloop/internal/oracle"
	"github.com/vinayprograms/taskloop/internal/session"
	"github.com/vinayprograms/taskloop/internal/tools"
)

// Defaults for Config.
const (
	DefaultMaxSteps            = 3
	DefaultMaxRetries          = 3
	DefaultFailureMemoryWindow = 3
	DefaultStrategy            = "exploratory"

	// directAnswerConfidence is recorded when a human answers the query.
	directAnswerConfidence = 0.9
	failureSummaryLimit    = 300
	failureRequirement     = "Tool failed"
)

// Config bounds a run.
type Config struct {
	MaxSteps            int
	MaxRetries          int
	FailureMemoryWindow int
	Strategy            string
}

// DefaultConfig returns the standard bounds.
func DefaultConfig() Config {
	return Config{
		MaxSteps:            DefaultMaxSteps,
		MaxRetries:          DefaultMaxRetries,
		FailureMemoryWindow: DefaultFailureMemoryWindow,
		Strategy:            DefaultStrategy,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSteps <= 0 {
		c.MaxSteps = d.MaxSteps
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.FailureMemoryWindow <= 0 {
		c.FailureMemoryWindow = d.FailureMemoryWindow
	}
	if c.Strategy == "" {
		c.Strategy = d.Strategy
	}
	return c
}

// Deps are the loop's collaborators. Perceiver, Decider, Executor and
// Escalation are required.
type Deps struct {
	Perceiver  oracle.Perceiver
	Decider    oracle.Decider
	Executor   tools.Executor
	Escalation escalation.Protocol
	Ledger     *ledger.Ledger
	Memory     memory.Searcher
	Recorder   memory.Recorder
	Store      session.Store
}

// Observer receives progress callbacks. Any field may be nil.
type Observer struct {
	OnStep       func(sess *session.Session, st *session.Step)
	OnEscalation func(sess *session.Session, kind, outcome string)
	OnComplete   func(sess *session.Session)
}

// Escalation kinds reported to Observer.OnEscalation.
const (
	EscalationToolFailure = "tool_failure"
	EscalationPlanFailure = "plan_failure"
)

// Loop drives sessions. It holds no per-session state, so one Loop may run
// many sessions concurrently.
type Loop struct {
	cfg        Config
	perceiver  oracle.Perceiver
	decider    oracle.Decider
	executor   tools.Executor
	escalation escalation.Protocol
	ledger     *ledger.Ledger
	memory     memory.Searcher
	recorder   memory.Recorder
	store      session.Store
	logger     *logging.Logger

	Observer Observer
}

// New creates a loop.
func New(cfg Config, deps Deps) (*Loop, error) {
	switch {
	case deps.Perceiver == nil:
		return nil, errors.New("loop: perceiver is required")
	case deps.Decider == nil:
		return nil, errors.New("loop: decider is required")
	case deps.Executor == nil:
		return nil, errors.New("loop: executor is required")
	case deps.Escalation == nil:
		return nil, errors.New("loop: escalation protocol is required")
	}
	led := deps.Ledger
	if led == nil {
		led = ledger.Open(nil, ledger.DefaultErrorWindow)
	}
	return &Loop{
		cfg:        cfg.withDefaults(),
		perceiver:  deps.Perceiver,
		decider:    deps.Decider,
		executor:   deps.Executor,
		escalation: deps.Escalation,
		ledger:     led,
		memory:     deps.Memory,
		recorder:   deps.Recorder,
		store:      deps.Store,
		logger:     logging.New().WithComponent("loop"),
	}, nil
}

// Ledger returns the reliability ledger the loop records into.
func (l *Loop) Ledger() *ledger.Ledger {
	return l.ledger
}

// Result is the outcome of one run.
type Result struct {
	Session *session.Session
	// StepCount is the step counter at exit. A human-provided plan resets it.
	StepCount int
	// TotalSteps counts every executed step.
	TotalSteps  int
	RetryCount  int
	Escalations int
	Duration    time.Duration
}

// run is the mutable state of one session.
type run struct {
	sess          *session.Session
	stepCount     int
	totalSteps    int
	retryCount    int
	escalations   int
	memory        []oracle.MemoryItem
	failureMemory []oracle.MemoryItem
}

// Run processes query to completion. It never fails: the returned session's
// State.GoalAchieved is the completion signal.
func (l *Loop) Run(ctx context.Context, query string) Result {
	start := time.Now()
	r := &run{sess: session.New(query)}

	ctx, span := l.startRunSpan(ctx, r.sess)
	defer func() { l.endRunSpan(span, r) }()

	l.logger.Info("session started", map[string]interface{}{
		"session_id": r.sess.ID,
		"query":      query,
	})

	// INIT
	r.memory = l.searchMemory(ctx, query)
	l.save(r)

	// PERCEIVE_INITIAL
	p := l.perceive(ctx, r, session.SnapshotUserQuery, query, r.memory, nil)
	r.sess.AddPerception(p)
	if p.OriginalGoalAchieved {
		r.sess.MarkComplete(&p, "")
		return l.finish(ctx, r, start)
	}

	// DECIDE_INITIAL
	d := l.decide(ctx, r, oracle.DecisionInput{
		PlanMode:         oracle.ModeInitial,
		PlanningStrategy: l.cfg.Strategy,
		OriginalQuery:    query,
		Perception:       &p,
	})
	step := r.sess.AddPlanVersion(d.PlanText, []*session.Step{d.Step(d.StepIndex)})
	l.save(r)

	for step != nil {
		if err := ctx.Err(); err != nil {
			l.logger.Warn("session cancelled", map[string]interface{}{
				"session_id": r.sess.ID,
				"error":      err.Error(),
			})
			break
		}
		if r.stepCount >= l.cfg.MaxSteps {
			break
		}

		stop := l.execute(ctx, r, step)
		l.save(r)
		if l.Observer.OnStep != nil {
			l.Observer.OnStep(r.sess, step)
		}
		if stop {
			break
		}

		step = l.evaluate(ctx, r, step)
		l.save(r)
	}

	return l.finish(ctx, r, start)
}

// execute runs one step and reports whether the session must stop.
func (l *Loop) execute(ctx context.Context, r *run, st *session.Step) bool {
	ctx, span := startPhaseSpan(ctx, "execute", r.sess.ID)
	defer endPhaseSpan(span, map[string]string{"step.type": st.Type, "step.index": fmt.Sprint(st.Index)}, nil)

	switch st.Type {
	case session.TypeCode:
		if st.Code == nil {
			l.structural(r, st, "CODE step has no executable content")
			return true
		}
		r.stepCount++
		r.totalSteps++
		st.Attempts++
		if !l.runTool(ctx, r, st) {
			return true
		}
		raw := resultText(st.Result)
		p := l.perceive(ctx, r, session.SnapshotStepResult, raw, r.failureMemory, r.sess.CurrentPlan().PlanText)
		st.Perception = &p
		r.sess.AddPerception(p)
		if !p.LocalGoalAchieved && !p.OriginalGoalAchieved {
			l.rememberFailure(r, st, raw)
		}
		return false

	case session.TypeConclude:
		if st.Conclusion == "" {
			l.structural(r, st, "CONCLUDE step has no conclusion")
			return true
		}
		r.stepCount++
		r.totalSteps++
		st.Attempts++
		st.Result = &session.ExecutionResult{Status: session.ResultSuccess, Result: st.Conclusion}
		st.Status = session.StatusCompleted
		p := l.perceive(ctx, r, session.SnapshotStepResult, st.Conclusion, r.failureMemory, r.sess.CurrentPlan().PlanText)
		st.Perception = &p
		r.sess.AddPerception(p)
		r.sess.MarkConcluded(&p, st.Conclusion)
		return true

	case session.TypeNOP:
		st.Status = session.StatusClarificationNeeded
		l.logger.Info("clarification needed", map[string]interface{}{
			"session_id":  r.sess.ID,
			"description": st.Description,
		})
		return true
	}

	l.structural(r, st, "unknown step type "+st.Type)
	return true
}

// runTool executes a CODE step, records it in the ledger and escalates a
// failure. It returns false when the escalation channel is gone.
func (l *Loop) runTool(ctx context.Context, r *run, st *session.Step) bool {
	tool := st.Code.ToolName
	start := time.Now()
	out := l.executor.Execute(ctx, *st.Code)
	dur := time.Since(start).Seconds()

	success := out.Status == session.ResultSuccess
	l.ledger.Record(tool, success, dur, out.Error)

	st.Status = session.StatusCompleted
	st.Result = &session.ExecutionResult{
		Status:          out.Status,
		Result:          out.Result,
		Error:           out.Error,
		DurationSeconds: dur,
	}
	if success {
		return true
	}

	if r.retryCount < l.cfg.MaxRetries {
		r.retryCount++
	}
	r.escalations++
	l.logger.Warn("tool failed, escalating", map[string]interface{}{
		"session_id": r.sess.ID,
		"tool":       tool,
		"error":      out.Error,
		"retries":    r.retryCount,
	})

	g, err := l.escalation.ToolFailure(ctx, escalation.ToolFailureRequest{
		SessionID:       r.sess.ID,
		StepDescription: st.Description,
		ToolName:        tool,
		Error:           out.Error,
	})
	if err != nil {
		l.logger.Error("tool failure escalation failed, aborting session", map[string]interface{}{
			"session_id": r.sess.ID,
			"error":      err.Error(),
		})
		l.notifyEscalation(r, EscalationToolFailure, "aborted")
		return false
	}
	l.notifyEscalation(r, EscalationToolFailure, string(g.Kind))

	st.Result = &session.ExecutionResult{
		Status:          session.ResultHumanIntervention,
		Result:          g.String(),
		Error:           out.Error,
		DurationSeconds: dur,
	}
	return true
}

// evaluate chooses the next step after st, or nil to stop.
func (l *Loop) evaluate(ctx context.Context, r *run, st *session.Step) *session.Step {
	p := st.Perception
	if p == nil {
		l.structural(r, st, "step has no perception")
		return nil
	}
	if p.OriginalGoalAchieved {
		r.sess.MarkComplete(p, "")
		return nil
	}

	if r.stepCount >= l.cfg.MaxSteps {
		return l.escalatePlan(ctx, r, st)
	}

	plan := r.sess.CurrentPlan()
	nextIndex := st.Index + 1
	if p.LocalGoalAchieved && nextIndex >= len(plan.PlanText) {
		l.logger.Info("plan exhausted without reaching the goal", map[string]interface{}{
			"session_id": r.sess.ID,
			"steps":      len(plan.PlanText),
		})
		return nil
	}

	in := oracle.DecisionInput{
		PlanMode:           oracle.ModeMidSession,
		PlanningStrategy:   l.cfg.Strategy,
		OriginalQuery:      r.sess.OriginalQuery,
		Perception:         p,
		CurrentPlanVersion: len(r.sess.PlanVersions),
		CurrentPlan:        plan.PlanText,
		CompletedSteps:     r.sess.CompletedSteps(),
		CurrentStep:        st,
	}
	d := l.decide(ctx, r, in)
	parent := st.Index

	if p.LocalGoalAchieved {
		next := d.Step(nextIndex)
		next.ParentIndex = &parent
		return r.sess.AddPlanVersion(d.PlanText, []*session.Step{next})
	}

	next := d.Step(d.StepIndex)
	next.WasReplanned = true
	next.ParentIndex = &parent
	return r.sess.AddPlanVersion(d.PlanText, []*session.Step{next})
}

// escalatePlan asks the human what to do once the step ceiling is reached.
func (l *Loop) escalatePlan(ctx context.Context, r *run, st *session.Step) *session.Step {
	r.escalations++
	plan := r.sess.CurrentPlan()
	l.logger.Warn("step ceiling reached, escalating", map[string]interface{}{
		"session_id": r.sess.ID,
		"steps":      r.stepCount,
		"max_steps":  l.cfg.MaxSteps,
	})

	g, err := l.escalation.PlanFailure(ctx, escalation.PlanFailureRequest{
		SessionID: r.sess.ID,
		Query:     r.sess.OriginalQuery,
		StepCount: r.stepCount,
		MaxSteps:  l.cfg.MaxSteps,
		PlanText:  plan.PlanText,
	})
	if err != nil {
		l.logger.Error("plan failure escalation failed, aborting session", map[string]interface{}{
			"session_id": r.sess.ID,
			"error":      err.Error(),
		})
		l.notifyEscalation(r, EscalationPlanFailure, "aborted")
		return nil
	}
	l.notifyEscalation(r, EscalationPlanFailure, string(g.Kind))

	switch g.Kind {
	case escalation.DirectAnswer:
		r.sess.MarkAnswered(g.Answer, directAnswerConfidence, "Human provided direct answer")
		return nil

	case escalation.NewPlan:
		planText := make([]string, len(g.Steps))
		for i, s := range g.Steps {
			planText[i] = fmt.Sprintf("Step %d: %s", i, s)
		}
		d := l.decide(ctx, r, oracle.DecisionInput{
			PlanMode:           oracle.ModeMidSession,
			PlanningStrategy:   l.cfg.Strategy,
			OriginalQuery:      r.sess.OriginalQuery,
			Perception:         st.Perception,
			CurrentPlanVersion: len(r.sess.PlanVersions),
			CurrentPlan:        planText,
			CompletedSteps:     r.sess.CompletedSteps(),
			HumanGuidance:      "Human-provided plan:\n" + strings.Join(planText, "\n"),
		})
		first := d.Step(0)
		if first.Description == "" && len(g.Steps) > 0 {
			first.Description = g.Steps[0]
		}
		r.stepCount = 0
		l.logger.Info("continuing with human plan", map[string]interface{}{
			"session_id": r.sess.ID,
			"steps":      len(planText),
		})
		return r.sess.AddPlanVersion(planText, []*session.Step{first})

	case escalation.ModifyPlan, escalation.NewApproach:
		// Recorded only. The step count is still at the ceiling.
		l.logger.Info("human guidance recorded, step ceiling still reached, ending session", map[string]interface{}{
			"session_id":   r.sess.ID,
			"kind":         string(g.Kind),
			"modification": g.Modification,
			"approach":     g.Approach,
		})
		return nil
	}

	l.logger.Error("unrecognised plan guidance, aborting session", map[string]interface{}{
		"session_id": r.sess.ID,
		"kind":       string(g.Kind),
	})
	return nil
}

func (l *Loop) perceive(ctx context.Context, r *run, snapshot, raw string, mem []oracle.MemoryItem, plan []string) session.Perception {
	ctx, span := startPhaseSpan(ctx, "perceive", r.sess.ID)
	start := time.Now()
	l.logger.PhaseStart("PERCEIVE", r.sess.ID, snapshot)

	p := l.perceiver.Perceive(ctx, oracle.NewPerceptionInput(raw, mem, plan, snapshot))

	verdict := "not_achieved"
	switch {
	case p.OriginalGoalAchieved:
		verdict = "original_achieved"
	case p.LocalGoalAchieved:
		verdict = "local_achieved"
	}
	l.logger.PhaseComplete("PERCEIVE", r.sess.ID, snapshot, time.Since(start), verdict)
	endPhaseSpan(span, map[string]string{"perception.verdict": verdict}, nil)
	return p
}

func (l *Loop) decide(ctx context.Context, r *run, in oracle.DecisionInput) oracle.DecisionOutput {
	ctx, span := startPhaseSpan(ctx, "decide", r.sess.ID)
	start := time.Now()
	l.logger.PhaseStart("DECIDE", r.sess.ID, in.PlanMode)

	d := l.decider.Decide(ctx, in)

	l.logger.PhaseComplete("DECIDE", r.sess.ID, in.PlanMode, time.Since(start), d.Type)
	endPhaseSpan(span, map[string]string{"decision.type": d.Type, "decision.mode": in.PlanMode}, nil)
	return d
}

func (l *Loop) searchMemory(ctx context.Context, query string) []oracle.MemoryItem {
	if l.memory == nil {
		return nil
	}
	entries := l.memory.Search(ctx, query)
	items := make([]oracle.MemoryItem, len(entries))
	for i, e := range entries {
		items[i] = oracle.MemoryItem{
			Query:             e.Query,
			ResultRequirement: e.ResultRequirement,
			SolutionSummary:   e.SolutionSummary,
		}
	}
	return items
}

// rememberFailure keeps the most recent failed steps for later perception.
func (l *Loop) rememberFailure(r *run, st *session.Step, raw string) {
	raw = oracle.Truncate(raw, failureSummaryLimit)
	r.failureMemory = append(r.failureMemory, oracle.MemoryItem{
		Query:             st.Description,
		ResultRequirement: failureRequirement,
		SolutionSummary:   raw,
	})
	if n := len(r.failureMemory); n > l.cfg.FailureMemoryWindow {
		r.failureMemory = r.failureMemory[n-l.cfg.FailureMemoryWindow:]
	}
}

func (l *Loop) structural(r *run, st *session.Step, reason string) {
	l.logger.Error("cannot advance session", map[string]interface{}{
		"session_id": r.sess.ID,
		"step":       st.Index,
		"reason":     reason,
	})
}

func (l *Loop) notifyEscalation(r *run, kind, outcome string) {
	if l.Observer.OnEscalation != nil {
		l.Observer.OnEscalation(r.sess, kind, outcome)
	}
}

func (l *Loop) save(r *run) {
	if l.store == nil {
		return
	}
	if err := l.store.Save(r.sess); err != nil {
		l.logger.Warn("failed to save session", map[string]interface{}{
			"session_id": r.sess.ID,
			"error":      err.Error(),
		})
	}
}

func (l *Loop) finish(ctx context.Context, r *run, start time.Time) Result {
	l.save(r)
	if r.sess.State.GoalAchieved && l.recorder != nil {
		if err := l.recorder.Record(ctx, r.sess); err != nil {
			l.logger.Warn("failed to remember session", map[string]interface{}{
				"session_id": r.sess.ID,
				"error":      err.Error(),
			})
		}
	}

	l.logger.Info("session finished", map[string]interface{}{
		"session_id":    r.sess.ID,
		"goal_achieved": r.sess.State.GoalAchieved,
		"steps":         r.totalSteps,
		"retries":       r.retryCount,
		"plan_versions": len(r.sess.PlanVersions),
		"duration_ms":   time.Since(start).Milliseconds(),
	})
	if l.Observer.OnComplete != nil {
		l.Observer.OnComplete(r.sess)
	}

	return Result{
		Session:     r.sess,
		StepCount:   r.stepCount,
		TotalSteps:  r.totalSteps,
		RetryCount:  r.retryCount,
		Escalations: r.escalations,
		Duration:    time.Since(start),
	}
}

// resultText renders a step result for perception.
func resultText(res *session.ExecutionResult) string {
	if res == nil {
		return ""
	}
	if res.Result != nil {
		return tools.Stringify(res.Result)
	}
	if res.Error != "" {
		return "Error: " + res.Error
	}
	return tools.Stringify(nil)
}
