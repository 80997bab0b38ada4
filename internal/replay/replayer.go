package replay

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vinayprograms/taskloop/internal/session"
)

// Replayer formats session logs for review.
type Replayer struct {
	output         io.Writer
	verbosity      int // 0=normal, 1=verbose (-v), 2=very verbose (-vv)
	maxContentSize int // Maximum size of a rendered result (0 = unlimited)
}

// ReplayerOption configures a Replayer.
type ReplayerOption func(*Replayer)

// WithMaxContentSize limits how much of each result is rendered.
func WithMaxContentSize(size int) ReplayerOption {
	return func(r *Replayer) {
		r.maxContentSize = size
	}
}

// New creates a new Replayer.
func New(output io.Writer, verbosity int, opts ...ReplayerOption) *Replayer {
	r := &Replayer{
		output:         output,
		verbosity:      verbosity,
		maxContentSize: 50 * 1024,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReplayFile loads and replays a session log.
func (r *Replayer) ReplayFile(path string) error {
	sess, err := session.LoadFile(path)
	if err != nil {
		return err
	}
	return r.Replay(sess)
}

// ReplayFileInteractive loads and replays a session log in the pager.
func (r *Replayer) ReplayFileInteractive(path string) error {
	sess, err := session.LoadFile(path)
	if err != nil {
		return err
	}
	content, err := r.Render(sess)
	if err != nil {
		return err
	}
	return NewPager(fmt.Sprintf("Session: %s", sess.ID)).Run(content)
}

// ReplayFileLive shows a session log in the pager and re-renders it each
// time the loop rewrites it.
func (r *Replayer) ReplayFileLive(path string) error {
	render := func() (string, error) {
		sess, err := session.LoadFile(path)
		if err != nil {
			return "", err
		}
		return r.Render(sess)
	}

	sess, err := session.LoadFile(path)
	if err != nil {
		return err
	}
	return NewPager(fmt.Sprintf("Session: %s (LIVE)", sess.ID)).RunLive(path, render)
}

// Render returns the formatted timeline as a string.
func (r *Replayer) Render(sess *session.Session) (string, error) {
	var buf strings.Builder
	old := r.output
	r.output = &buf
	defer func() { r.output = old }()

	if err := r.Replay(sess); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Replay writes a formatted timeline of the session.
func (r *Replayer) Replay(sess *session.Session) error {
	if sess == nil {
		return fmt.Errorf("no session to replay")
	}
	r.printHeader(sess)
	r.printTimeline(sess)
	r.printSummary(sess)
	return nil
}

func (r *Replayer) printHeader(sess *session.Session) {
	status := warnStyle.Render("incomplete")
	if sess.State.GoalAchieved {
		status = successStyle.Render("goal achieved")
	}

	fmt.Fprintln(r.output)
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("SESSION"), valueStyle.Render(sess.ID))
	fmt.Fprintln(r.output, divider)
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Query:  "), valueStyle.Render(sess.OriginalQuery))
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Status: "), status)
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Created:"), valueStyle.Render(sess.CreatedAt.Format(time.RFC3339)))
	if !sess.UpdatedAt.IsZero() {
		fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Updated:"), valueStyle.Render(sess.UpdatedAt.Format(time.RFC3339)))
	}
	fmt.Fprintln(r.output)
}

func (r *Replayer) printTimeline(sess *session.Session) {
	events := buildTimeline(sess)
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("TIMELINE"), dimStyle.Render(fmt.Sprintf("(%d events)", len(events))))
	fmt.Fprintln(r.output, divider)
	for i := range events {
		r.formatEvent(i+1, &events[i])
	}
}

func (r *Replayer) printSummary(sess *session.Session) {
	fmt.Fprintln(r.output)
	fmt.Fprintln(r.output, divider)

	st := sess.State
	if st.GoalAchieved {
		fmt.Fprintln(r.output, successStyle.Render("COMPLETED"))
		fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Answer:    "), valueStyle.Render(st.FinalAnswer))
		fmt.Fprintf(r.output, "%s %.2f\n", labelStyle.Render("Confidence:"), st.Confidence)
		if st.ReasoningNote != "" {
			fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Reasoning: "), dimStyle.Render(st.ReasoningNote))
		}
	} else {
		fmt.Fprintln(r.output, warnStyle.Render("INCOMPLETE"))
	}

	PrintStats(r.output, ComputeStats(sess))
}

func (r *Replayer) clip(s string) string {
	if r.maxContentSize > 0 && len(s) > r.maxContentSize {
		return s[:r.maxContentSize] + fmt.Sprintf("\n... [truncated, %d bytes total]", len(s))
	}
	return s
}

// printContent prints verbose content with timeline indentation.
func (r *Replayer) printContent(content string) {
	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(r.output, "%s%s\n", contentIndent, line)
	}
}

func (r *Replayer) printField(label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(r.output, "%s%s %s\n", contentIndent, labelStyle.Render(label+":"), value)
}

func (r *Replayer) printBlock(title, content string) {
	fmt.Fprintf(r.output, "%s\n", strings.TrimRight(contentIndent, " "))
	fmt.Fprintf(r.output, "%s%s\n", contentIndent, blockHeaderStyle.Render("── "+title+" ──"))
	r.printContent(content)
}

func truncateHint(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
