package oracle

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/taskloop/internal/session"
)

//go:embed prompts/perception.md
var defaultPerceptionPrompt string

//go:embed prompts/decision.md
var defaultDecisionPrompt string

// Catalog describes the tools a decision may use.
type Catalog interface {
	Descriptions() []string
}

// LLMPerceiver backs perception with a chat model.
type LLMPerceiver struct {
	provider llm.Provider
	prompt   string
	logger   *logging.Logger
}

// NewLLMPerceiver creates a model-backed perceiver. An empty prompt uses
// the built-in template.
func NewLLMPerceiver(provider llm.Provider, prompt string) *LLMPerceiver {
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultPerceptionPrompt
	}
	return &LLMPerceiver{
		provider: provider,
		prompt:   prompt,
		logger:   logging.New().WithComponent("perception"),
	}
}

// Perceive asks the model for a judgment.
func (p *LLMPerceiver) Perceive(ctx context.Context, in PerceptionInput) session.Perception {
	full, err := renderPrompt(p.prompt, "", in)
	if err != nil {
		p.logger.Error("failed to render perception request", map[string]interface{}{"error": err.Error()})
		return FailedPerception("Perception request could not be encoded.")
	}

	start := time.Now()
	resp, err := p.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{{Role: "user", Content: full}},
	})
	if err != nil {
		p.logger.Error("perception_llm_error", map[string]interface{}{"error": err.Error()})
		return unavailablePerception()
	}

	out, err := ParsePerception(resp.Content)
	if err != nil {
		p.logger.Warn("perception reply degraded to defaults", map[string]interface{}{
			"error": err.Error(),
		})
	}
	p.logger.Debug("perception complete", map[string]interface{}{
		"snapshot_type": in.SnapshotType,
		"original":      out.OriginalGoalAchieved,
		"local":         out.LocalGoalAchieved,
		"duration_ms":   time.Since(start).Milliseconds(),
	})
	return out
}

func unavailablePerception() session.Perception {
	p := FailedPerception("Perception model returned an error. Exiting to avoid loop.")
	p.ResultRequirement = "Perception model unavailable due to error."
	p.LocalReasoning = "Could not process input due to model error."
	return p
}

// LLMDecider backs decisions with a chat model.
type LLMDecider struct {
	provider llm.Provider
	prompt   string
	catalog  Catalog
	logger   *logging.Logger
}

// NewLLMDecider creates a model-backed decider. An empty prompt uses the
// built-in template; catalog may be nil.
func NewLLMDecider(provider llm.Provider, prompt string, catalog Catalog) *LLMDecider {
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultDecisionPrompt
	}
	return &LLMDecider{
		provider: provider,
		prompt:   prompt,
		catalog:  catalog,
		logger:   logging.New().WithComponent("decision"),
	}
}

// Decide asks the model for the next step.
func (d *LLMDecider) Decide(ctx context.Context, in DecisionInput) DecisionOutput {
	var tools string
	if d.catalog != nil {
		var sb strings.Builder
		sb.WriteString("### The ONLY Available Tools\n\n---\n\n")
		for _, desc := range d.catalog.Descriptions() {
			sb.WriteString(fmt.Sprintf("- `%s`\n", strings.TrimSpace(desc)))
		}
		tools = sb.String()
	}

	full, err := renderPrompt(d.prompt, tools, in)
	if err != nil {
		d.logger.Error("failed to render decision request", map[string]interface{}{"error": err.Error()})
		return FailedDecision("Decision request could not be encoded.", "")
	}

	resp, err := d.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{{Role: "user", Content: full}},
	})
	if err != nil {
		d.logger.Error("decision_llm_error", map[string]interface{}{"error": err.Error()})
		out := FailedDecision("Decision model unavailable due to error.", err.Error())
		out.Conclusion = "Model error prevented proper planning."
		out.PlanText = []string{"Step 0: Decision model returned an error. Exiting to avoid loop."}
		return out
	}

	out, err := ParseDecision(resp.Content)
	if err != nil {
		d.logger.Warn("decision reply degraded to NOP", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return out
}

func renderPrompt(template, extra string, payload interface{}) (string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(template))
	if extra != "" {
		sb.WriteString("\n\n")
		sb.WriteString(extra)
	}
	sb.WriteString("\n\n```json\n")
	sb.Write(data)
	sb.WriteString("\n```")
	return sb.String(), nil
}
