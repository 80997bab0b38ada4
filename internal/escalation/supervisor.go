package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/taskloop/internal/llmjson"
)

// Supervisor answers escalations with a model when no human answers in time.
// If Human is set it is asked first; once HumanTimeout passes the model
// decides autonomously.
type Supervisor struct {
	provider     llm.Provider
	human        Protocol
	humanTimeout time.Duration
	maxAttempts  int
	logger       *logging.Logger
}

// SupervisorConfig holds supervisor configuration.
type SupervisorConfig struct {
	Provider     llm.Provider
	Human        Protocol
	HumanTimeout time.Duration
	// MaxAttempts bounds how many unusable model replies are tolerated
	// before giving up with ErrNoResponder.
	MaxAttempts int
}

// NewSupervisor creates a new supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	timeout := cfg.HumanTimeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &Supervisor{
		provider:     cfg.Provider,
		human:        cfg.Human,
		humanTimeout: timeout,
		maxAttempts:  attempts,
		logger:       logging.New().WithComponent("supervisor"),
	}
}

// ToolFailure asks the human, then the model.
func (s *Supervisor) ToolFailure(ctx context.Context, req ToolFailureRequest) (Guidance, error) {
	if s.human != nil {
		hctx, cancel := context.WithTimeout(ctx, s.humanTimeout)
		g, err := s.human.ToolFailure(hctx, req)
		cancel()
		if err == nil || !s.fallBack(ctx, err) {
			return g, err
		}
	}

	prompt := describeToolFailure(req) + `

Choose how the agent should handle this failure. Respond with a JSON object:
{"type": "alternative_suggestion" | "manual_result" | "skip" | "retry_with_params", "text": "<suggestion, result or parameters>"}`

	var g Guidance
	err := s.ask(ctx, prompt, func(content string) error {
		g = Guidance{}
		if err := llmjson.Decode(content, &g); err != nil {
			return err
		}
		return g.Validate()
	})
	return g, err
}

// PlanFailure asks the human, then the model.
func (s *Supervisor) PlanFailure(ctx context.Context, req PlanFailureRequest) (PlanGuidance, error) {
	if s.human != nil {
		hctx, cancel := context.WithTimeout(ctx, s.humanTimeout)
		g, err := s.human.PlanFailure(hctx, req)
		cancel()
		if err == nil || !s.fallBack(ctx, err) {
			return g, err
		}
	}

	prompt := describePlanFailure(req) + `

The agent ran out of steps. Choose how to proceed. Respond with a JSON object using one of:
{"type": "new_plan", "plan_text": ["<step>", ...]}
{"type": "modify_plan", "modification": "<change>"}
{"type": "direct_answer", "answer": "<answer>"}
{"type": "new_approach", "approach": "<approach>"}`

	var g PlanGuidance
	err := s.ask(ctx, prompt, func(content string) error {
		g = PlanGuidance{}
		if err := llmjson.Decode(content, &g); err != nil {
			return err
		}
		return g.Validate()
	})
	return g, err
}

// fallBack reports whether a human failure should hand over to the model.
func (s *Supervisor) fallBack(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("human input timeout, supervisor will decide", nil)
		return true
	}
	if errors.Is(err, ErrNoResponder) {
		s.logger.Warn("no human available, supervisor deciding autonomously", nil)
		return true
	}
	return false
}

func (s *Supervisor) ask(ctx context.Context, prompt string, accept func(string) error) error {
	if s.provider == nil {
		return ErrNoResponder
	}

	messages := []llm.Message{
		{Role: "system", Content: "You are making an autonomous decision because no human is available. Choose the most conservative safe path forward."},
		{Role: "user", Content: prompt},
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		resp, err := s.provider.Chat(ctx, llm.ChatRequest{Messages: messages})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("supervisor_llm_error", map[string]interface{}{"error": err.Error()})
			lastErr = err
			continue
		}

		if err := accept(resp.Content); err != nil {
			s.logger.Warn("unusable supervisor reply", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			})
			lastErr = err
			messages = append(messages,
				llm.Message{Role: "assistant", Content: resp.Content},
				llm.Message{Role: "user", Content: fmt.Sprintf("That reply was not usable (%s). Answer again with only the JSON object.", strings.TrimSpace(err.Error()))},
			)
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrNoResponder, lastErr)
}
