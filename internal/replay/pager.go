package replay

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/muesli/reflow/wordwrap"
)

// Pager is an interactive terminal pager for replays.
type Pager struct {
	title string
}

var (
	pagerTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	pagerInfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))
)

// NewPager creates a pager with the given title.
func NewPager(title string) *Pager {
	return &Pager{title: title}
}

// Run shows content until the user quits.
func (p *Pager) Run(content string) error {
	prog := tea.NewProgram(
		newPagerModel(p.title, content),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err := prog.Run()
	return err
}

// RunLive shows render's output and re-renders whenever filePath changes.
// Session logs are replaced by rename, so the parent directory is watched
// and events are filtered by name.
func (p *Pager) RunLive(filePath string, render func() (string, error)) error {
	content, err := render()
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(filePath)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filePath, err)
	}

	m := newPagerModel(p.title, content)
	m.live = true
	m.render = render
	m.watcher = watcher
	m.target = filepath.Clean(filePath)

	prog := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err = prog.Run()
	return err
}

// fileChangedMsg is sent when the watched log changes.
type fileChangedMsg struct{}

// pagerModel is the Bubble Tea model for the pager.
type pagerModel struct {
	viewport viewport.Model
	title    string
	content  string
	wrapped  string
	ready    bool

	live       bool
	render     func() (string, error)
	watcher    *fsnotify.Watcher
	target     string
	lastUpdate time.Time

	searching    bool
	searchInput  textinput.Model
	searchQuery  string
	searchLines  []int
	searchIndex  int
	searchFailed bool
}

func newPagerModel(title, content string) *pagerModel {
	return &pagerModel{title: title, content: content}
}

func (m *pagerModel) Init() tea.Cmd {
	if m.live && m.watcher != nil {
		return m.watchFile()
	}
	return nil
}

// watchFile waits for the next change to the target log.
func (m *pagerModel) watchFile() tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case ev, ok := <-m.watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(ev.Name) != m.target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					// let the writer settle
					time.Sleep(100 * time.Millisecond)
					return fileChangedMsg{}
				}
			case _, ok := <-m.watcher.Errors:
				if !ok {
					return nil
				}
			}
		}
	}
}

func (m *pagerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	if m.searching {
		if key, ok := msg.(tea.KeyMsg); ok {
			switch key.String() {
			case "enter":
				m.searchQuery = m.searchInput.Value()
				m.searching = false
				m.executeSearch()
				if len(m.searchLines) > 0 {
					m.jumpToMatch(0)
				}
				return m, nil
			case "esc", "ctrl+c":
				m.searching = false
				m.clearSearch()
				return m, nil
			}
		}
		m.searchInput, cmd = m.searchInput.Update(msg)
		return m, cmd
	}

	switch msg := msg.(type) {
	case fileChangedMsg:
		m.reload()
		cmds = append(cmds, m.watchFile())

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "esc":
			if m.searchQuery == "" {
				return m, tea.Quit
			}
			m.clearSearch()
		case "g":
			m.viewport.GotoTop()
		case "G":
			m.viewport.GotoBottom()
		case "f", "F":
			if m.live {
				m.viewport.GotoBottom()
			}
		case "/":
			m.searching = true
			m.searchInput = textinput.New()
			m.searchInput.Placeholder = "Search..."
			m.searchInput.CharLimit = 100
			m.searchInput.Width = 40
			m.searchInput.SetValue(m.searchQuery)
			m.searchInput.Focus()
			return m, textinput.Blink
		case "n":
			if len(m.searchLines) > 0 {
				m.searchIndex = (m.searchIndex + 1) % len(m.searchLines)
				m.jumpToMatch(m.searchIndex)
			}
		case "N":
			if len(m.searchLines) > 0 {
				m.searchIndex = (m.searchIndex - 1 + len(m.searchLines)) % len(m.searchLines)
				m.jumpToMatch(m.searchIndex)
			}
		}

	case tea.WindowSizeMsg:
		const headerHeight, footerHeight = 1, 1
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.setContent(m.content)
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// reload re-renders the log, keeping the scroll position.
func (m *pagerModel) reload() {
	if m.render == nil {
		return
	}
	content, err := m.render()
	if err != nil {
		return
	}
	offset := m.viewport.YOffset
	m.setContent(content)
	m.lastUpdate = time.Now()
	if limit := m.viewport.TotalLineCount() - m.viewport.Height; offset <= limit {
		m.viewport.YOffset = offset
	}
}

func (m *pagerModel) setContent(content string) {
	m.content = content
	m.wrapped = wrapContent(content, m.viewport.Width)
	m.viewport.SetContent(m.wrapped)
	if m.searchQuery != "" {
		m.executeSearch()
	}
}

func (m *pagerModel) clearSearch() {
	m.searchQuery = ""
	m.searchLines = nil
	m.searchFailed = false
}

// executeSearch finds all wrapped lines containing the query.
func (m *pagerModel) executeSearch() {
	m.searchLines = nil
	m.searchIndex = 0
	m.searchFailed = false
	if m.searchQuery == "" {
		return
	}

	query := strings.ToLower(m.searchQuery)
	for i, line := range strings.Split(m.wrapped, "\n") {
		if strings.Contains(strings.ToLower(line), query) {
			m.searchLines = append(m.searchLines, i)
		}
	}
	m.searchFailed = len(m.searchLines) == 0
}

// jumpToMatch centers the given match on screen.
func (m *pagerModel) jumpToMatch(index int) {
	if index < 0 || index >= len(m.searchLines) {
		return
	}
	target := m.searchLines[index] - m.viewport.Height/2
	maxOffset := m.viewport.TotalLineCount() - m.viewport.Height
	if target > maxOffset {
		target = maxOffset
	}
	if target < 0 {
		target = 0
	}
	m.viewport.YOffset = target
}

func (m *pagerModel) View() string {
	if !m.ready {
		return "\n  Loading..."
	}

	title := pagerTitleStyle.Render(m.title)
	rule := strings.Repeat("─", maxInt(0, m.viewport.Width-lipgloss.Width(title)))
	header := lipgloss.JoinHorizontal(lipgloss.Center, title, pagerInfoStyle.Render(rule))

	info := fmt.Sprintf(" %d%% ", m.scrollPercent())

	var footer string
	if m.searching {
		footer = warnStyle.Render("/") + m.searchInput.View()
	} else {
		help := m.helpText()
		fill := strings.Repeat("─", maxInt(0, m.viewport.Width-lipgloss.Width(help)-lipgloss.Width(info)))
		footer = pagerInfoStyle.Render(help) + pagerInfoStyle.Render(fill) + pagerInfoStyle.Render(info)
	}

	return header + "\n" + m.viewport.View() + "\n" + footer
}

func (m *pagerModel) helpText() string {
	switch {
	case m.searchFailed:
		return fmt.Sprintf(" %s │ /: search ", errorStyle.Render("Pattern not found"))
	case len(m.searchLines) > 0:
		match := warnStyle.Render(fmt.Sprintf("[%d/%d]", m.searchIndex+1, len(m.searchLines)))
		return fmt.Sprintf(" %s │ n/N: next/prev │ /: search │ esc: clear ", match)
	case m.live:
		live := successStyle.Bold(true).Render("● LIVE")
		return fmt.Sprintf(" %s │ q: quit │ /: search │ f: follow │ g/G: top/bottom ", live)
	default:
		return " q: quit │ /: search │ n/N: next/prev │ g/G: top/bottom "
	}
}

func (m *pagerModel) scrollPercent() int {
	total := m.viewport.TotalLineCount()
	if total <= m.viewport.Height {
		return 100
	}
	p := int(float64(m.viewport.YOffset) / float64(maxInt(1, total-m.viewport.Height)) * 100)
	if p > 100 {
		p = 100
	}
	return p
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// wrapContent wraps each line to width. Timeline rows (with │ columns) wrap
// their last column and indent continuation lines under it.
func wrapContent(content string, width int) string {
	if width <= 0 {
		return content
	}

	var result []string
	for _, line := range strings.Split(content, "\n") {
		if lipgloss.Width(line) <= width {
			result = append(result, line)
			continue
		}

		if lastPipe := strings.LastIndex(line, "│"); lastPipe > 0 && lastPipe < len(line)-len("│") {
			prefixWidth := lipgloss.Width(line[:lastPipe+len("│")]) + 1
			contentWidth := width - prefixWidth
			if contentWidth < 20 {
				contentWidth = 20
			}

			start := lastPipe + len("│")
			for start < len(line) && line[start] == ' ' {
				start++
			}
			wrapped := strings.Split(wordwrap.String(line[start:], contentWidth), "\n")
			indent := strings.Repeat(" ", prefixWidth)

			result = append(result, line[:start]+wrapped[0])
			for _, w := range wrapped[1:] {
				result = append(result, indent+w)
			}
			continue
		}

		result = append(result, strings.Split(wordwrap.String(line, width), "\n")...)
	}
	return strings.Join(result, "\n")
}
