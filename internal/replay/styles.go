// Package replay renders session logs as a readable timeline.
package replay

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Each part of the loop has a distinct, consistent color.
var (
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - metadata

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")) // White

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	// Query and plan flow - white
	flowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15"))

	// Perception - cyan
	perceptionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	// Decision / plan versions - magenta
	planStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("13"))

	// Tools - blue
	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12"))

	// Human intervention - yellow
	humanStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("11"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")) // Green

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")) // Red

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")) // Yellow

	seqStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Width(5).
			Align(lipgloss.Right)

	posStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Width(8)

	blockHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("8")).
				Italic(true)

	divider = lipgloss.NewStyle().
		Foreground(lipgloss.Color("8")).
		Render(strings.Repeat("━", 60))
)

// contentIndent lines up continuation text with the timeline's content column.
const contentIndent = "      │          │   "
