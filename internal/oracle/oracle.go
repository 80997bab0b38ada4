// Package oracle defines the perception and decision collaborators of the
// task loop, their wire shapes, and model-backed implementations.
package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/taskloop/internal/session"
)

// Decision modes.
const (
	ModeInitial    = "initial"
	ModeMidSession = "mid_session"
)

// Perceiver judges the current context against the goal. It never fails:
// unusable upstream output degrades to a default "not achieved" judgment.
type Perceiver interface {
	Perceive(ctx context.Context, in PerceptionInput) session.Perception
}

// Decider produces the next executable step. It never fails: unusable
// upstream output degrades to a NOP step.
type Decider interface {
	Decide(ctx context.Context, in DecisionInput) DecisionOutput
}

// PerceiverFunc adapts a function to Perceiver.
type PerceiverFunc func(ctx context.Context, in PerceptionInput) session.Perception

// Perceive calls f.
func (f PerceiverFunc) Perceive(ctx context.Context, in PerceptionInput) session.Perception {
	return f(ctx, in)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, in DecisionInput) DecisionOutput

// Decide calls f.
func (f DeciderFunc) Decide(ctx context.Context, in DecisionInput) DecisionOutput {
	return f(ctx, in)
}

// MemoryItem is one prior result offered to perception as context.
type MemoryItem struct {
	Query             string `json:"query"`
	ResultRequirement string `json:"result_requirement"`
	SolutionSummary   string `json:"solution_summary"`
}

// PerceptionInput is the request sent to the perception oracle.
type PerceptionInput struct {
	RunID          string                `json:"run_id"`
	SnapshotType   string                `json:"snapshot_type"`
	RawInput       string                `json:"raw_input"`
	MemoryExcerpt  map[string]MemoryItem `json:"memory_excerpt"`
	PrevObjective  string                `json:"prev_objective"`
	PrevConfidence *float64              `json:"prev_confidence"`
	Timestamp      string                `json:"timestamp"`
	SchemaVersion  int                   `json:"schema_version"`
	CurrentPlan    interface{}           `json:"current_plan"`
}

const noPlanYet = "Initial Query Mode, plan not created"

// NewPerceptionInput builds a perception request. Memory items are keyed
// memory_1..memory_n in order.
func NewPerceptionInput(raw string, memory []MemoryItem, currentPlan []string, snapshotType string) PerceptionInput {
	excerpt := make(map[string]MemoryItem, len(memory))
	for i, m := range memory {
		excerpt[fmt.Sprintf("memory_%d", i+1)] = m
	}

	var plan interface{} = noPlanYet
	if len(currentPlan) > 0 {
		plan = currentPlan
	}

	return PerceptionInput{
		RunID:         uuid.New().String(),
		SnapshotType:  snapshotType,
		RawInput:      raw,
		MemoryExcerpt: excerpt,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		SchemaVersion: 1,
		CurrentPlan:   plan,
	}
}

// DecisionInput is the request sent to the decision oracle.
type DecisionInput struct {
	PlanMode           string              `json:"plan_mode"`
	PlanningStrategy   string              `json:"planning_strategy"`
	OriginalQuery      string              `json:"original_query"`
	Perception         *session.Perception `json:"perception,omitempty"`
	CurrentPlanVersion int                 `json:"current_plan_version,omitempty"`
	CurrentPlan        []string            `json:"current_plan,omitempty"`
	CompletedSteps     []*session.Step     `json:"completed_steps,omitempty"`
	CurrentStep        *session.Step       `json:"current_step,omitempty"`
	HumanGuidance      string              `json:"human_guidance,omitempty"`
}

// DecisionOutput is the decision oracle's proposed step and plan.
// ToolName/ToolArguments name a tool call directly; otherwise Code is run
// by the generic code tool.
type DecisionOutput struct {
	StepIndex     int                    `json:"step_index"`
	Description   string                 `json:"description"`
	Type          string                 `json:"type"`
	Code          string                 `json:"code"`
	ToolName      string                 `json:"tool_name,omitempty"`
	ToolArguments map[string]interface{} `json:"tool_arguments,omitempty"`
	Conclusion    string                 `json:"conclusion"`
	PlanText      []string               `json:"plan_text"`
	RawText       string                 `json:"raw_text,omitempty"`
}

// CodeTool is the tool that runs a raw code block.
const CodeTool = "raw_code_block"

// Step converts the output into a pending session step at index.
func (d DecisionOutput) Step(index int) *session.Step {
	st := session.NewStep(index, d.Description, d.Type)
	switch d.Type {
	case session.TypeCode:
		if d.ToolName != "" {
			args := d.ToolArguments
			if args == nil {
				args = map[string]interface{}{}
			}
			st.Code = &session.ToolCode{ToolName: d.ToolName, ToolArguments: args}
		} else {
			st.Code = &session.ToolCode{
				ToolName:      CodeTool,
				ToolArguments: map[string]interface{}{"code": d.Code},
			}
		}
	case session.TypeConclude:
		st.Conclusion = d.Conclusion
	}
	return st
}
