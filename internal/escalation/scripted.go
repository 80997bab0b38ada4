package escalation

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Script is a queue of prepared answers, usually loaded from YAML:
//
//	tool_failures:
//	  - type: manual_result
//	    text: "42"
//	plan_failures:
//	  - type: direct_answer
//	    answer: "42"
type Script struct {
	ToolFailures []Guidance     `yaml:"tool_failures"`
	PlanFailures []PlanGuidance `yaml:"plan_failures"`
}

// LoadScript reads a YAML script file.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("failed to read script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Script{}, fmt.Errorf("failed to parse script: %w", err)
	}
	return s, nil
}

// Scripted answers escalations from a Script. Invalid entries are skipped
// the same way a human is re-asked; an exhausted queue returns ErrNoResponder.
// It records every request it receives.
type Scripted struct {
	mu           sync.Mutex
	tool         []Guidance
	plan         []PlanGuidance
	toolRequests []ToolFailureRequest
	planRequests []PlanFailureRequest
}

// NewScripted creates a responder that replays s.
func NewScripted(s Script) *Scripted {
	return &Scripted{
		tool: append([]Guidance(nil), s.ToolFailures...),
		plan: append([]PlanGuidance(nil), s.PlanFailures...),
	}
}

// ToolFailure returns the next valid tool guidance.
func (s *Scripted) ToolFailure(ctx context.Context, req ToolFailureRequest) (Guidance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolRequests = append(s.toolRequests, req)

	for len(s.tool) > 0 {
		if err := ctx.Err(); err != nil {
			return Guidance{}, err
		}
		g := s.tool[0]
		s.tool = s.tool[1:]
		if g.Validate() == nil {
			return g, nil
		}
	}
	return Guidance{}, ErrNoResponder
}

// PlanFailure returns the next valid plan guidance.
func (s *Scripted) PlanFailure(ctx context.Context, req PlanFailureRequest) (PlanGuidance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planRequests = append(s.planRequests, req)

	for len(s.plan) > 0 {
		if err := ctx.Err(); err != nil {
			return PlanGuidance{}, err
		}
		g := s.plan[0]
		s.plan = s.plan[1:]
		if g.Validate() == nil {
			return g, nil
		}
	}
	return PlanGuidance{}, ErrNoResponder
}

// ToolRequests returns the tool failure escalations received so far.
func (s *Scripted) ToolRequests() []ToolFailureRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ToolFailureRequest(nil), s.toolRequests...)
}

// PlanRequests returns the plan failure escalations received so far.
func (s *Scripted) PlanRequests() []PlanFailureRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PlanFailureRequest(nil), s.planRequests...)
}
