// Package memory recalls previously solved queries so perception can reuse
// their results.
package memory

import (
	"context"
	"time"

	"github.com/vinayprograms/taskloop/internal/session"
)

// Entry is one remembered solution.
type Entry struct {
	SessionID         string    `json:"session_id"`
	Query             string    `json:"query"`
	ResultRequirement string    `json:"result_requirement"`
	SolutionSummary   string    `json:"solution_summary"`
	CreatedAt         time.Time `json:"created_at"`
	Score             float64   `json:"score,omitempty"`
}

// Searcher finds entries relevant to a query. It is best effort: failures
// yield no entries.
type Searcher interface {
	Search(ctx context.Context, query string) []Entry
}

// Recorder remembers a finished session.
type Recorder interface {
	Record(ctx context.Context, sess *session.Session) error
}

// EntryFor extracts the memory entry of a session. ok is false when the
// session did not achieve its goal.
func EntryFor(sess *session.Session) (Entry, bool) {
	if sess == nil || !sess.State.GoalAchieved || sess.OriginalQuery == "" {
		return Entry{}, false
	}
	e := Entry{
		SessionID:       sess.ID,
		Query:           sess.OriginalQuery,
		SolutionSummary: sess.State.SolutionSummary,
		CreatedAt:       sess.CreatedAt,
	}
	if e.SolutionSummary == "" {
		e.SolutionSummary = sess.State.FinalAnswer
	}
	for i := len(sess.Perceptions) - 1; i >= 0; i-- {
		p := sess.Perceptions[i]
		if p.OriginalGoalAchieved || i == len(sess.Perceptions)-1 {
			e.ResultRequirement = p.ResultRequirement
		}
		if p.OriginalGoalAchieved {
			break
		}
	}
	return e, true
}
