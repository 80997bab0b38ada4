package escalation

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

var noticeStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("214")).
	BorderStyle(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("240")).
	Padding(0, 1)

// formAsker drives the escalation menus as interactive terminal forms.
type formAsker struct {
	out io.Writer
}

// NewForm creates a human responder using interactive terminal forms. Use it
// only when stdin is a terminal; NewConsole serves pipes and scripts.
func NewForm(out io.Writer) *Human {
	return NewHuman(&formAsker{out: out})
}

func runForm(fields ...huh.Field) error {
	err := huh.NewForm(huh.NewGroup(fields...)).WithShowHelp(true).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrNoResponder
	}
	return err
}

func (a *formAsker) Show(text string) {
	fmt.Fprintln(a.out, noticeStyle.Render(text))
}

func (a *formAsker) Choose(ctx context.Context, title string, options []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	opts := make([]huh.Option[int], len(options))
	for i, label := range options {
		opts[i] = huh.NewOption(label, i+1)
	}

	var value int
	sel := huh.NewSelect[int]().
		Title(title).
		Options(opts...).
		Value(&value)
	if err := runForm(sel); err != nil {
		return 0, err
	}
	return value, nil
}

func (a *formAsker) Ask(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var value string
	inp := huh.NewInput().
		Title(prompt).
		Value(&value)
	if err := runForm(inp); err != nil {
		return "", err
	}
	return value, nil
}
