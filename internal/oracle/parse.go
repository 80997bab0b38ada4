package oracle

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/vinayprograms/taskloop/internal/llmjson"
	"github.com/vinayprograms/taskloop/internal/session"
)

// perceptionDefaults are applied to any field the model left out.
func perceptionDefaults() map[string]interface{} {
	return map[string]interface{}{
		"entities":               []interface{}{},
		"result_requirement":     "No requirement specified.",
		"original_goal_achieved": false,
		"reasoning":              "No reasoning given.",
		"local_goal_achieved":    false,
		"local_reasoning":        "No local reasoning given.",
		"last_tooluse_summary":   "None",
		"solution_summary":       "No summary.",
		"confidence":             "0.0",
	}
}

// decisionDefaults are applied to any field the model left out.
func decisionDefaults() map[string]interface{} {
	return map[string]interface{}{
		"step_index":  float64(0),
		"description": "Missing from LLM response",
		"type":        session.TypeNOP,
		"code":        "",
		"conclusion":  "",
		"plan_text":   []interface{}{"Step 0: No valid plan returned by LLM."},
	}
}

// FillPerception returns a copy of m with every missing or null perception
// field defaulted and loosely typed values coerced. It is idempotent.
func FillPerception(m map[string]interface{}) map[string]interface{} {
	out := fill(m, perceptionDefaults())

	if v, ok := out["confidence"].(float64); ok {
		out["confidence"] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	if _, ok := out["confidence"].(string); !ok {
		out["confidence"] = "0.0"
	}
	for _, key := range []string{"original_goal_achieved", "local_goal_achieved"} {
		out[key] = coerceBool(out[key])
	}
	if list, ok := out["entities"].([]interface{}); ok {
		out["entities"] = stringList(list)
	} else {
		out["entities"] = []interface{}{}
	}
	for _, key := range []string{"result_requirement", "reasoning", "local_reasoning", "last_tooluse_summary", "solution_summary"} {
		if _, ok := out[key].(string); !ok {
			out[key] = fmt.Sprint(out[key])
		}
	}
	return out
}

// FillDecision returns a copy of m with a nested next_step flattened into
// the top level, every missing or null field defaulted, and the step type
// normalized. It is idempotent.
func FillDecision(m map[string]interface{}) map[string]interface{} {
	flat := make(map[string]interface{}, len(m))
	for k, v := range m {
		flat[k] = v
	}
	if next, ok := flat["next_step"].(map[string]interface{}); ok {
		delete(flat, "next_step")
		for k, v := range next {
			flat[k] = v
		}
	}

	out := fill(flat, decisionDefaults())

	typ, _ := out["type"].(string)
	out["type"] = normalizeType(typ)
	if f, ok := out["step_index"].(float64); ok {
		out["step_index"] = math.Trunc(f)
	} else if n, err := strconv.Atoi(fmt.Sprint(out["step_index"])); err == nil {
		out["step_index"] = float64(n)
	} else {
		out["step_index"] = float64(0)
	}
	switch plan := out["plan_text"].(type) {
	case []interface{}:
		out["plan_text"] = stringList(plan)
	case string:
		if plan != "" {
			out["plan_text"] = []interface{}{plan}
		} else {
			out["plan_text"] = decisionDefaults()["plan_text"]
		}
	default:
		out["plan_text"] = decisionDefaults()["plan_text"]
	}
	for _, key := range []string{"description", "code", "conclusion"} {
		if _, ok := out[key].(string); !ok {
			out[key] = fmt.Sprint(out[key])
		}
	}
	if v, ok := out["tool_arguments"]; ok {
		if _, isMap := v.(map[string]interface{}); !isMap {
			delete(out, "tool_arguments")
		}
	}
	if v, ok := out["tool_name"]; ok {
		if _, isString := v.(string); !isString {
			delete(out, "tool_name")
		}
	}
	return out
}

func fill(m, defaults map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+len(defaults))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range defaults {
		if cur, ok := out[k]; !ok || cur == nil {
			out[k] = v
		}
	}
	return out
}

func stringList(list []interface{}) []interface{} {
	out := make([]interface{}, len(list))
	for i, e := range list {
		if str, ok := e.(string); ok {
			out[i] = str
		} else {
			out[i] = fmt.Sprint(e)
		}
	}
	return out
}

func coerceBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return err == nil && parsed
	}
	return false
}

func normalizeType(t string) string {
	switch strings.ToUpper(strings.TrimSpace(t)) {
	case session.TypeCode:
		return session.TypeCode
	case session.TypeConclude:
		return session.TypeConclude
	}
	return session.TypeNOP
}

// ParsePerception decodes a model reply into a perception, degrading to
// defaults when the reply holds no usable JSON.
func ParsePerception(content string) (session.Perception, error) {
	var raw map[string]interface{}
	if err := llmjson.Decode(content, &raw); err != nil {
		return FailedPerception("Perception failed to parse model output as JSON."), err
	}

	var p session.Perception
	if err := remarshal(FillPerception(raw), &p); err != nil {
		return FailedPerception("Perception output had unexpected field types."), err
	}
	return p, nil
}

// ParseDecision decodes a model reply into a decision, degrading to a NOP
// when the reply holds no usable JSON.
func ParseDecision(content string) (DecisionOutput, error) {
	var raw map[string]interface{}
	if err := llmjson.Decode(content, &raw); err != nil {
		return FailedDecision(fmt.Sprintf("Exception while parsing LLM output: %v", err), content), err
	}

	var d DecisionOutput
	if err := remarshal(FillDecision(raw), &d); err != nil {
		return FailedDecision(fmt.Sprintf("Decision output had unexpected field types: %v", err), content), err
	}
	return d, nil
}

// FailedPerception is the judgment used when the oracle could not answer.
func FailedPerception(reasoning string) session.Perception {
	return session.Perception{
		Entities:             []string{},
		ResultRequirement:    "N/A",
		OriginalGoalAchieved: false,
		Reasoning:            reasoning,
		LocalGoalAchieved:    false,
		LocalReasoning:       "Could not extract structured information.",
		LastToolUseSummary:   "None",
		SolutionSummary:      "Not ready yet",
		Confidence:           "0.0",
	}
}

// FailedDecision is the NOP step used when the oracle could not answer.
func FailedDecision(description, raw string) DecisionOutput {
	raw = Truncate(raw, 1000)
	return DecisionOutput{
		StepIndex:   0,
		Description: description,
		Type:        session.TypeNOP,
		PlanText:    []string{"Step 0: Exception occurred while processing LLM response."},
		RawText:     raw,
	}
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func remarshal(in interface{}, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
