package replay

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/vinayprograms/taskloop/internal/session"
)

// MultiReplayer handles multiple session logs.
type MultiReplayer struct {
	output    io.Writer
	verbosity int
	opts      []ReplayerOption
}

// NewMulti creates a new MultiReplayer.
func NewMulti(output io.Writer, verbosity int, opts ...ReplayerOption) *MultiReplayer {
	return &MultiReplayer{
		output:    output,
		verbosity: verbosity,
		opts:      opts,
	}
}

// sessionInfo holds a parsed session with its source path.
type sessionInfo struct {
	Session *session.Session
	Source  string
}

// ReplayFiles outputs multiple sessions to the writer.
func (m *MultiReplayer) ReplayFiles(paths []string) error {
	sessions, err := m.loadSessions(paths)
	if err != nil {
		return err
	}
	return m.replayAll(m.output, sessions)
}

// ReplayFilesInteractive shows multiple sessions in the pager.
func (m *MultiReplayer) ReplayFilesInteractive(paths []string) error {
	sessions, err := m.loadSessions(paths)
	if err != nil {
		return err
	}

	var buf strings.Builder
	if err := m.replayAll(&buf, sessions); err != nil {
		return err
	}

	title := fmt.Sprintf("%d session(s)", len(sessions))
	if len(sessions) == 1 {
		title = fmt.Sprintf("Session: %s", sessions[0].Session.ID)
	}
	return NewPager(title).Run(buf.String())
}

// loadSessions loads all session logs, oldest first.
func (m *MultiReplayer) loadSessions(paths []string) ([]sessionInfo, error) {
	var sessions []sessionInfo
	for _, path := range paths {
		sess, err := session.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		sessions = append(sessions, sessionInfo{Session: sess, Source: path})
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].Session.CreatedAt.Before(sessions[j].Session.CreatedAt)
	})
	return sessions, nil
}

func (m *MultiReplayer) replayAll(w io.Writer, sessions []sessionInfo) error {
	r := New(w, m.verbosity, m.opts...)
	for i, info := range sessions {
		if len(sessions) > 1 {
			printSessionHeader(w, info, i+1, len(sessions))
		}
		if err := r.Replay(info.Session); err != nil {
			return fmt.Errorf("failed to replay %s: %w", info.Source, err)
		}
		if i < len(sessions)-1 {
			fmt.Fprintln(w)
		}
	}
	return nil
}

var (
	sessionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("6")) // Cyan background

	sessionDividerStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("6"))
)

// printSessionHeader prints a distinctive header for each session.
func printSessionHeader(w io.Writer, info sessionInfo, num, total int) {
	shortID := info.Session.ID
	if len(shortID) > 12 {
		shortID = shortID[:12]
	}

	outcome := "incomplete"
	if info.Session.State.GoalAchieved {
		outcome = "achieved"
	}
	header := fmt.Sprintf(" [%d/%d] %s │ %s │ %s ",
		num, total,
		shortID,
		info.Session.CreatedAt.Format("2006-01-02 15:04:05"),
		outcome)

	fmt.Fprintln(w)
	fmt.Fprintln(w, sessionDividerStyle.Render(strings.Repeat("━", 70)))
	fmt.Fprintln(w, sessionHeaderStyle.Render(header))
	fmt.Fprintln(w, sessionDividerStyle.Render(strings.Repeat("━", 70)))
}

// ExpandPaths turns files and directories into a list of session logs.
// Directories are searched recursively for *.jsonl files, which covers the
// date-partitioned session store.
func ExpandPaths(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}

		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), ".jsonl") {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("cannot read directory %s: %w", p, err)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}
