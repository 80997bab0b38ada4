// Package session provides the task session model and its persistence.
package session

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Step types.
const (
	TypeCode     = "CODE"
	TypeConclude = "CONCLUDE"
	TypeNOP      = "NOP"
)

// Step status values.
const (
	StatusPending             = "pending"
	StatusCompleted           = "completed"
	StatusClarificationNeeded = "clarification_needed"
)

// Execution result status values.
const (
	ResultSuccess           = "success"
	ResultError             = "error"
	ResultHumanIntervention = "human_intervention"
)

// Snapshot types passed to the perception oracle.
const (
	SnapshotUserQuery  = "user_query"
	SnapshotStepResult = "step_result"
)

// DefaultConfidence is used when a completing perception carries no usable confidence.
const DefaultConfidence = 0.95

// ToolCode is the executable content of a CODE step.
type ToolCode struct {
	ToolName      string                 `json:"tool_name"`
	ToolArguments map[string]interface{} `json:"tool_arguments"`
}

// ExecutionResult is the outcome of running a step's ToolCode.
type ExecutionResult struct {
	Status          string      `json:"status"`
	Result          interface{} `json:"result,omitempty"`
	Error           string      `json:"error,omitempty"`
	DurationSeconds float64     `json:"duration_seconds,omitempty"`
}

// Succeeded reports whether the execution counts as a success.
func (r *ExecutionResult) Succeeded() bool {
	return r != nil && r.Status == ResultSuccess
}

// Perception is one judgment about the current context relative to the goal.
// Confidence stays a string as the oracle returns it; use ConfidenceValue to read it.
type Perception struct {
	Entities             []string `json:"entities"`
	ResultRequirement    string   `json:"result_requirement"`
	OriginalGoalAchieved bool     `json:"original_goal_achieved"`
	Reasoning            string   `json:"reasoning"`
	LocalGoalAchieved    bool     `json:"local_goal_achieved"`
	LocalReasoning       string   `json:"local_reasoning"`
	LastToolUseSummary   string   `json:"last_tooluse_summary"`
	SolutionSummary      string   `json:"solution_summary"`
	Confidence           string   `json:"confidence"`
}

// ConfidenceValue parses the confidence string and clamps it to [0,1].
// Returns fallback when the string is empty or not a number.
func (p *Perception) ConfidenceValue(fallback float64) float64 {
	if p == nil || p.Confidence == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(p.Confidence, 64)
	if err != nil {
		return fallback
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Step is a single unit of the plan.
type Step struct {
	Index        int              `json:"index"`
	Description  string           `json:"description"`
	Type         string           `json:"type"`
	Code         *ToolCode        `json:"code,omitempty"`
	Conclusion   string           `json:"conclusion,omitempty"`
	Result       *ExecutionResult `json:"execution_result,omitempty"`
	Status       string           `json:"status"`
	Perception   *Perception      `json:"perception,omitempty"`
	Attempts     int              `json:"attempts,omitempty"`
	WasReplanned bool             `json:"was_replanned,omitempty"`
	ParentIndex  *int             `json:"parent_index,omitempty"`
}

// NewStep creates a pending step.
func NewStep(index int, description, stepType string) *Step {
	return &Step{
		Index:       index,
		Description: description,
		Type:        stepType,
		Status:      StatusPending,
	}
}

// PlanVersion is one generation of the plan. Versions are never removed.
type PlanVersion struct {
	PlanText []string `json:"plan_text"`
	Steps    []*Step  `json:"steps"`
}

// State is the session's completion record.
type State struct {
	GoalAchieved    bool    `json:"original_goal_achieved"`
	FinalAnswer     string  `json:"final_answer,omitempty"`
	Confidence      float64 `json:"confidence"`
	ReasoningNote   string  `json:"reasoning_note,omitempty"`
	SolutionSummary string  `json:"solution_summary,omitempty"`
}

// Session is the record of one query's processing.
type Session struct {
	ID            string         `json:"session_id"`
	OriginalQuery string         `json:"original_query"`
	Perceptions   []Perception   `json:"perceptions"`
	PlanVersions  []*PlanVersion `json:"plan_versions"`
	State         State          `json:"state"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`

	mu sync.Mutex
}

// New creates a session for query with a fresh ID.
func New(query string) *Session {
	now := time.Now()
	return &Session{
		ID:            uuid.New().String(),
		OriginalQuery: query,
		Perceptions:   []Perception{},
		PlanVersions:  []*PlanVersion{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// AddPerception appends a perception to the history.
func (s *Session) AddPerception(p Perception) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Perceptions = append(s.Perceptions, p)
	s.UpdatedAt = time.Now()
}

// AddPlanVersion appends a plan generation and returns its first step, or nil
// when steps is empty.
func (s *Session) AddPlanVersion(planText []string, steps []*Step) *Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	text := append([]string(nil), planText...)
	copied := append([]*Step(nil), steps...)
	s.PlanVersions = append(s.PlanVersions, &PlanVersion{PlanText: text, Steps: copied})
	s.UpdatedAt = time.Now()
	if len(copied) == 0 {
		return nil
	}
	return copied[0]
}

// CurrentPlan returns the newest plan version, or nil before the first decision.
func (s *Session) CurrentPlan() *PlanVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.PlanVersions) == 0 {
		return nil
	}
	return s.PlanVersions[len(s.PlanVersions)-1]
}

// CompletedSteps returns every completed step across all plan versions, oldest first.
func (s *Session) CompletedSteps() []*Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Step
	for _, v := range s.PlanVersions {
		for _, st := range v.Steps {
			if st.Status == StatusCompleted {
				out = append(out, st)
			}
		}
	}
	return out
}

// MarkComplete records the goal as achieved. An empty answer falls back to the
// perception's solution summary.
func (s *Session) MarkComplete(p *Perception, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		p = &Perception{}
	}
	if answer == "" {
		answer = p.SolutionSummary
	}
	s.State = State{
		GoalAchieved:    true,
		FinalAnswer:     answer,
		Confidence:      p.ConfidenceValue(DefaultConfidence),
		ReasoningNote:   p.Reasoning,
		SolutionSummary: p.SolutionSummary,
	}
	s.UpdatedAt = time.Now()
}

// MarkConcluded records a concluding answer. Whether the goal counts as
// achieved is the perception's verdict on the conclusion.
func (s *Session) MarkConcluded(p *Perception, conclusion string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		p = &Perception{}
	}
	s.State = State{
		GoalAchieved:    p.OriginalGoalAchieved,
		FinalAnswer:     conclusion,
		Confidence:      p.ConfidenceValue(DefaultConfidence),
		ReasoningNote:   p.Reasoning,
		SolutionSummary: p.SolutionSummary,
	}
	s.UpdatedAt = time.Now()
}

// MarkAnswered records a human-provided answer with a fixed confidence.
func (s *Session) MarkAnswered(answer string, confidence float64, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = State{
		GoalAchieved:    true,
		FinalAnswer:     answer,
		Confidence:      confidence,
		ReasoningNote:   note,
		SolutionSummary: answer,
	}
	s.UpdatedAt = time.Now()
}

// Summary is a condensed view of the session used by reports and memory.
type Summary struct {
	SessionID     string   `json:"session_id"`
	Query         string   `json:"query"`
	FinalPlan     []string `json:"final_plan"`
	FinalSteps    []*Step  `json:"final_steps"`
	FinalAnswer   string   `json:"final_answer"`
	Confidence    float64  `json:"confidence"`
	ReasoningNote string   `json:"reasoning_note"`
	GoalAchieved  bool     `json:"original_goal_achieved"`
}

// Summarize builds the session summary.
func (s *Session) Summarize() Summary {
	completed := s.CompletedSteps()
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{
		SessionID:     s.ID,
		Query:         s.OriginalQuery,
		FinalPlan:     []string{},
		FinalSteps:    completed,
		FinalAnswer:   s.State.FinalAnswer,
		Confidence:    s.State.Confidence,
		ReasoningNote: s.State.ReasoningNote,
		GoalAchieved:  s.State.GoalAchieved,
	}
	if n := len(s.PlanVersions); n > 0 {
		sum.FinalPlan = s.PlanVersions[n-1].PlanText
	}
	return sum
}
