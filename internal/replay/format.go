package replay

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vinayprograms/taskloop/internal/session"
	"github.com/vinayprograms/taskloop/internal/tools"
)

// Timeline event kinds.
const (
	eventQuery      = "query"
	eventPerception = "perception"
	eventPlan       = "plan"
	eventStep       = "step"
	eventResult     = "result"
)

// event is one row of the rendered timeline.
type event struct {
	kind       string
	version    int // 1-based plan version, 0 before the first plan
	query      string
	perception *session.Perception
	plan       *session.PlanVersion
	step       *session.Step
}

// buildTimeline orders a session's records: the query, the initial
// perception, then each plan version with its steps, results and the
// perception of each result.
func buildTimeline(sess *session.Session) []event {
	events := []event{{kind: eventQuery, query: sess.OriginalQuery}}
	if len(sess.Perceptions) > 0 {
		p := sess.Perceptions[0]
		events = append(events, event{kind: eventPerception, perception: &p})
	}
	for i, v := range sess.PlanVersions {
		n := i + 1
		events = append(events, event{kind: eventPlan, version: n, plan: v})
		for _, st := range v.Steps {
			events = append(events, event{kind: eventStep, version: n, step: st})
			if st.Result != nil {
				events = append(events, event{kind: eventResult, version: n, step: st})
			}
			if st.Perception != nil {
				events = append(events, event{kind: eventPerception, version: n, step: st, perception: st.Perception})
			}
		}
	}
	return events
}

// formatEvent formats a single timeline row.
func (r *Replayer) formatEvent(seq int, ev *event) {
	seqNum := seqStyle.Render(fmt.Sprintf("%d", seq))
	pos := posStyle.Render(position(ev))

	switch ev.kind {
	case eventQuery:
		fmt.Fprintf(r.output, "%s │ %s │ %s %s\n", seqNum, pos, flowStyle.Render("QUERY"), valueStyle.Render(ev.query))
	case eventPerception:
		r.fmtPerception(seqNum, pos, ev.perception)
	case eventPlan:
		r.fmtPlan(seqNum, pos, ev)
	case eventStep:
		r.fmtStep(seqNum, pos, ev.step)
	case eventResult:
		r.fmtResult(seqNum, pos, ev.step)
	default:
		fmt.Fprintf(r.output, "%s │ %s │ %s\n", seqNum, pos, dimStyle.Render(ev.kind))
	}
}

func position(ev *event) string {
	if ev.version == 0 {
		return "init"
	}
	if ev.step == nil {
		return fmt.Sprintf("v%d", ev.version)
	}
	return fmt.Sprintf("v%d s%d", ev.version, ev.step.Index)
}

func (r *Replayer) fmtPerception(seqNum, pos string, p *session.Perception) {
	var verdict string
	switch {
	case p.OriginalGoalAchieved:
		verdict = successStyle.Render("goal achieved")
	case p.LocalGoalAchieved:
		verdict = successStyle.Render("step achieved")
	default:
		verdict = warnStyle.Render("not achieved")
	}
	fmt.Fprintf(r.output, "%s │ %s │ %s %s %s\n", seqNum, pos,
		perceptionStyle.Render("PERCEIVE"),
		verdict,
		dimStyle.Render(fmt.Sprintf("(confidence %s)", p.Confidence)))

	if r.verbosity >= 1 {
		r.printField("requirement", p.ResultRequirement)
		r.printField("reasoning", p.Reasoning)
		r.printField("local", p.LocalReasoning)
		r.printField("summary", p.SolutionSummary)
	}
	if r.verbosity >= 2 {
		if len(p.Entities) > 0 {
			r.printField("entities", strings.Join(p.Entities, ", "))
		}
		r.printField("last tool use", p.LastToolUseSummary)
	}
}

func (r *Replayer) fmtPlan(seqNum, pos string, ev *event) {
	label := fmt.Sprintf("PLAN v%d", ev.version)
	note := fmt.Sprintf("(%d steps planned)", len(ev.plan.PlanText))
	for _, st := range ev.plan.Steps {
		if st.WasReplanned {
			note += " replanned"
			break
		}
	}
	fmt.Fprintf(r.output, "%s │ %s │ %s %s\n", seqNum, pos, planStyle.Render(label), dimStyle.Render(note))
	if r.verbosity >= 1 {
		for _, line := range ev.plan.PlanText {
			fmt.Fprintf(r.output, "%s%s\n", contentIndent, dimStyle.Render(line))
		}
	}
}

func (r *Replayer) fmtStep(seqNum, pos string, st *session.Step) {
	switch st.Type {
	case session.TypeCode:
		tool := "?"
		if st.Code != nil {
			tool = st.Code.ToolName
		}
		fmt.Fprintf(r.output, "%s │ %s │ %s %s %s\n", seqNum, pos,
			toolStyle.Render("CODE"),
			valueStyle.Render(tool),
			dimStyle.Render(truncateHint(st.Description, 80)))
		if st.Code != nil && r.verbosity >= 1 {
			r.printArgs(st.Code)
		}
	case session.TypeConclude:
		fmt.Fprintf(r.output, "%s │ %s │ %s %s\n", seqNum, pos,
			successStyle.Render("CONCLUDE"),
			valueStyle.Render(truncateHint(st.Conclusion, 100)))
	case session.TypeNOP:
		fmt.Fprintf(r.output, "%s │ %s │ %s %s\n", seqNum, pos,
			warnStyle.Render("NOP"),
			valueStyle.Render(truncateHint(st.Description, 100)))
	default:
		fmt.Fprintf(r.output, "%s │ %s │ %s %s\n", seqNum, pos,
			dimStyle.Render(st.Type),
			valueStyle.Render(truncateHint(st.Description, 100)))
	}
	if st.Status == session.StatusClarificationNeeded {
		fmt.Fprintf(r.output, "%s%s\n", contentIndent, warnStyle.Render("clarification needed"))
	}
}

// printArgs prints tool arguments in key order. Code blocks get their own
// block so multi-line source stays readable.
func (r *Replayer) printArgs(code *session.ToolCode) {
	keys := make([]string, 0, len(code.ToolArguments))
	for k := range code.ToolArguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := tools.Stringify(code.ToolArguments[k])
		if k == "code" && strings.Contains(v, "\n") {
			r.printBlock("CODE", v)
			continue
		}
		r.printField(k, truncateHint(v, 200))
	}
}

func (r *Replayer) fmtResult(seqNum, pos string, st *session.Step) {
	res := st.Result
	text := r.clip(tools.Stringify(res.Result))
	duration := ""
	if res.DurationSeconds > 0 {
		duration = dimStyle.Render(fmt.Sprintf(" (%.2fs)", res.DurationSeconds))
	}

	switch res.Status {
	case session.ResultSuccess:
		fmt.Fprintf(r.output, "%s │ %s │ %s%s %s\n", seqNum, pos,
			successStyle.Render("OK"), duration, valueStyle.Render(truncateHint(text, 100)))
	case session.ResultHumanIntervention:
		fmt.Fprintf(r.output, "%s │ %s │ %s%s %s\n", seqNum, pos,
			humanStyle.Render("HUMAN"), duration, valueStyle.Render(truncateHint(text, 100)))
		if res.Error != "" {
			fmt.Fprintf(r.output, "%s%s\n", contentIndent, errorStyle.Render(res.Error))
		}
	default:
		fmt.Fprintf(r.output, "%s │ %s │ %s%s %s\n", seqNum, pos,
			errorStyle.Render("FAILED"), duration, errorStyle.Render(truncateHint(res.Error, 100)))
	}

	if r.verbosity >= 1 && len(text) > 100 {
		r.printBlock("RESULT", text)
	}
}
