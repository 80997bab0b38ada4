// Package escalation asks a human (or a stand-in) for guidance when the task
// loop cannot make progress on its own.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoResponder is returned when the responder channel is gone (EOF, closed
// connection, exhausted script). Invalid answers never produce an error; they
// are asked again.
var ErrNoResponder = errors.New("no escalation responder available")

// ToolFailureKind is the kind of guidance given for a failed tool call.
type ToolFailureKind string

const (
	AlternativeSuggestion ToolFailureKind = "alternative_suggestion"
	ManualResult          ToolFailureKind = "manual_result"
	Skip                  ToolFailureKind = "skip"
	RetryWithParams       ToolFailureKind = "retry_with_params"
)

// PlanFailureKind is the kind of guidance given when the step ceiling is reached.
type PlanFailureKind string

const (
	NewPlan      PlanFailureKind = "new_plan"
	ModifyPlan   PlanFailureKind = "modify_plan"
	DirectAnswer PlanFailureKind = "direct_answer"
	NewApproach  PlanFailureKind = "new_approach"
)

// ToolFailureRequest describes a failed step.
type ToolFailureRequest struct {
	SessionID       string `json:"session_id,omitempty"`
	StepDescription string `json:"step_description"`
	ToolName        string `json:"tool_name"`
	Error           string `json:"error"`
}

// PlanFailureRequest describes a session that hit the step ceiling.
type PlanFailureRequest struct {
	SessionID string   `json:"session_id,omitempty"`
	Query     string   `json:"query"`
	StepCount int      `json:"step_count"`
	MaxSteps  int      `json:"max_steps"`
	PlanText  []string `json:"plan_text"`
}

// Guidance is the answer to a ToolFailureRequest. Text carries the
// suggestion, result or parameters; it is unused for Skip.
type Guidance struct {
	Kind ToolFailureKind `json:"type" yaml:"type"`
	Text string          `json:"text,omitempty" yaml:"text,omitempty"`
}

// String renders the guidance as it is stored in the step result.
func (g Guidance) String() string {
	switch g.Kind {
	case AlternativeSuggestion:
		return "Human suggested alternative: " + g.Text
	case ManualResult:
		return "Manual result provided: " + g.Text
	case Skip:
		return "Step skipped by human"
	case RetryWithParams:
		return "Retry with new parameters: " + g.Text
	}
	return g.Text
}

// Validate reports whether the guidance is a usable answer.
func (g Guidance) Validate() error {
	switch g.Kind {
	case AlternativeSuggestion, ManualResult, Skip, RetryWithParams:
		return nil
	case "":
		return errors.New("guidance type is required")
	}
	return fmt.Errorf("unknown guidance type %q", g.Kind)
}

// PlanGuidance is the answer to a PlanFailureRequest. Only the field that
// matches Kind is meaningful.
type PlanGuidance struct {
	Kind         PlanFailureKind `json:"type" yaml:"type"`
	Steps        []string        `json:"plan_text,omitempty" yaml:"plan_text,omitempty"`
	Modification string          `json:"modification,omitempty" yaml:"modification,omitempty"`
	Answer       string          `json:"answer,omitempty" yaml:"answer,omitempty"`
	Approach     string          `json:"approach,omitempty" yaml:"approach,omitempty"`
	Description  string          `json:"description,omitempty" yaml:"description,omitempty"`
}

// Validate reports whether the plan guidance is a usable answer.
func (g PlanGuidance) Validate() error {
	switch g.Kind {
	case NewPlan:
		if len(g.Steps) == 0 {
			return errors.New("new plan needs at least one step")
		}
		return nil
	case ModifyPlan, DirectAnswer, NewApproach:
		return nil
	case "":
		return errors.New("plan guidance type is required")
	}
	return fmt.Errorf("unknown plan guidance type %q", g.Kind)
}

// Protocol resolves escalations. Implementations keep asking until they get a
// valid answer; an error means the channel to the responder is gone.
type Protocol interface {
	ToolFailure(ctx context.Context, req ToolFailureRequest) (Guidance, error)
	PlanFailure(ctx context.Context, req PlanFailureRequest) (PlanGuidance, error)
}

var toolFailureOptions = []struct {
	label string
	kind  ToolFailureKind
	ask   string
}{
	{"Suggest alternative approach", AlternativeSuggestion, "Enter your alternative approach"},
	{"Provide manual result", ManualResult, "Enter manual result"},
	{"Skip this step", Skip, ""},
	{"Retry with different parameters", RetryWithParams, "Enter new parameters"},
}

var planFailureOptions = []struct {
	label string
	kind  PlanFailureKind
	ask   string
	desc  string
}{
	{"Provide new plan steps", NewPlan, "", "Human-provided plan"},
	{"Modify existing plan", ModifyPlan, "Enter plan modification", "Human-modified plan"},
	{"Provide direct answer", DirectAnswer, "Enter direct answer", "Human-provided answer"},
	{"Start over with different approach", NewApproach, "Enter new approach", "Human-suggested new approach"},
}

func describeToolFailure(req ToolFailureRequest) string {
	tool := req.ToolName
	if tool == "" {
		tool = "Unknown"
	}
	desc := req.StepDescription
	if desc == "" {
		desc = "Unknown step"
	}
	return fmt.Sprintf("Tool failed: %s\nError: %s\nTool: %s", desc, req.Error, tool)
}

func describePlanFailure(req PlanFailureRequest) string {
	plan := "No plan"
	if len(req.PlanText) > 0 {
		plan = strings.Join(req.PlanText, "; ")
	}
	return fmt.Sprintf("Plan failed after %d steps\nOriginal query: %s\nCurrent plan: %s", req.StepCount, req.Query, plan)
}
