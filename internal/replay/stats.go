package replay

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/vinayprograms/taskloop/internal/session"
)

// ToolStats counts one tool's calls within a session.
type ToolStats struct {
	Calls        int
	Failures     int
	TotalSeconds float64
}

// Stats holds aggregate statistics for a session.
type Stats struct {
	Duration time.Duration

	PlanVersions int
	Replans      int
	Perceptions  int

	Steps     int
	Code      int
	Concludes int
	NOPs      int

	Succeeded          int
	Failed             int
	HumanInterventions int

	Tools map[string]*ToolStats
}

// ComputeStats calculates aggregate statistics from a session.
func ComputeStats(sess *session.Session) *Stats {
	stats := &Stats{
		PlanVersions: len(sess.PlanVersions),
		Perceptions:  len(sess.Perceptions),
		Tools:        make(map[string]*ToolStats),
	}
	if !sess.UpdatedAt.IsZero() && sess.UpdatedAt.After(sess.CreatedAt) {
		stats.Duration = sess.UpdatedAt.Sub(sess.CreatedAt)
	}

	for _, v := range sess.PlanVersions {
		for _, st := range v.Steps {
			stats.Steps++
			if st.WasReplanned {
				stats.Replans++
			}
			switch st.Type {
			case session.TypeCode:
				stats.Code++
			case session.TypeConclude:
				stats.Concludes++
			case session.TypeNOP:
				stats.NOPs++
			}

			if st.Code == nil || st.Result == nil {
				continue
			}
			ts := stats.Tools[st.Code.ToolName]
			if ts == nil {
				ts = &ToolStats{}
				stats.Tools[st.Code.ToolName] = ts
			}
			ts.Calls++
			ts.TotalSeconds += st.Result.DurationSeconds

			switch st.Result.Status {
			case session.ResultSuccess:
				stats.Succeeded++
			case session.ResultHumanIntervention:
				stats.HumanInterventions++
				stats.Failed++
				ts.Failures++
			default:
				stats.Failed++
				ts.Failures++
			}
		}
	}
	return stats
}

// PrintStats outputs statistics in a formatted way.
func PrintStats(w io.Writer, stats *Stats) {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("SESSION STATISTICS"))
	fmt.Fprintln(w)

	row := func(label string, value interface{}) {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(label), valueStyle.Render(fmt.Sprint(value)))
	}

	if stats.Duration > 0 {
		row("Duration:      ", stats.Duration.Round(time.Millisecond))
	}
	row("Plan versions: ", stats.PlanVersions)
	row("Replans:       ", stats.Replans)
	row("Perceptions:   ", stats.Perceptions)
	row("Steps:         ", fmt.Sprintf("%d (code %d, conclude %d, nop %d)", stats.Steps, stats.Code, stats.Concludes, stats.NOPs))
	row("Tool results:  ", fmt.Sprintf("%d ok, %d failed, %d human", stats.Succeeded, stats.Failed, stats.HumanInterventions))

	if len(stats.Tools) == 0 {
		return
	}
	names := make([]string, 0, len(stats.Tools))
	for name := range stats.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("Tools:"))
	for _, name := range names {
		ts := stats.Tools[name]
		fmt.Fprintf(w, "  %s %s\n",
			toolStyle.Render(name+":"),
			valueStyle.Render(fmt.Sprintf("%d calls, %d failed, %.2fs", ts.Calls, ts.Failures, ts.TotalSeconds)))
	}
}
