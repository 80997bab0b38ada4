package escalation

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/vinayprograms/agentkit/logging"
)

// Asker is the interaction surface a human responder is reached through.
type Asker interface {
	// Show displays informational text.
	Show(text string)
	// Choose presents options and returns the 1-based choice, or 0 when the
	// answer did not name an option.
	Choose(ctx context.Context, title string, options []string) (int, error)
	// Ask reads one free-text answer.
	Ask(ctx context.Context, prompt string) (string, error)
}

// Human implements Protocol by driving menus through an Asker.
type Human struct {
	asker  Asker
	logger *logging.Logger
}

// NewHuman creates a human responder on top of asker.
func NewHuman(asker Asker) *Human {
	return &Human{
		asker:  asker,
		logger: logging.New().WithComponent("escalation"),
	}
}

// NewConsole creates a human responder reading answers line by line from in
// and writing prompts to out.
func NewConsole(in io.Reader, out io.Writer) *Human {
	return NewHuman(newLineAsker(in, out))
}

// ToolFailure asks how to handle a failed tool call.
func (h *Human) ToolFailure(ctx context.Context, req ToolFailureRequest) (Guidance, error) {
	h.asker.Show(describeToolFailure(req))
	h.logger.Info("waiting for human input", map[string]interface{}{
		"escalation": "tool_failure",
		"tool":       req.ToolName,
	})

	labels := make([]string, len(toolFailureOptions))
	for i, o := range toolFailureOptions {
		labels[i] = o.label
	}

	for {
		choice, err := h.asker.Choose(ctx, "Human-in-the-Loop: Tool Failure", labels)
		if err != nil {
			return Guidance{}, err
		}
		if choice < 1 || choice > len(toolFailureOptions) {
			h.asker.Show("Invalid choice. Please enter 1-4.")
			continue
		}

		opt := toolFailureOptions[choice-1]
		g := Guidance{Kind: opt.kind}
		if opt.ask != "" {
			if g.Text, err = h.asker.Ask(ctx, opt.ask); err != nil {
				return Guidance{}, err
			}
		}
		return g, nil
	}
}

// PlanFailure asks how to proceed once the step ceiling is reached.
func (h *Human) PlanFailure(ctx context.Context, req PlanFailureRequest) (PlanGuidance, error) {
	h.asker.Show(describePlanFailure(req))
	h.logger.Info("waiting for human input", map[string]interface{}{
		"escalation": "plan_failure",
		"steps":      req.StepCount,
	})

	labels := make([]string, len(planFailureOptions))
	for i, o := range planFailureOptions {
		labels[i] = o.label
	}

	for {
		choice, err := h.asker.Choose(ctx, "Human-in-the-Loop: Plan Failure", labels)
		if err != nil {
			return PlanGuidance{}, err
		}
		if choice < 1 || choice > len(planFailureOptions) {
			h.asker.Show("Invalid choice. Please enter 1-4.")
			continue
		}

		opt := planFailureOptions[choice-1]
		g := PlanGuidance{Kind: opt.kind, Description: opt.desc}
		switch opt.kind {
		case NewPlan:
			g.Steps, err = h.readSteps(ctx)
			if err == nil && len(g.Steps) == 0 {
				h.asker.Show("A new plan needs at least one step.")
				continue
			}
		case ModifyPlan:
			g.Modification, err = h.asker.Ask(ctx, opt.ask)
		case DirectAnswer:
			g.Answer, err = h.asker.Ask(ctx, opt.ask)
		case NewApproach:
			g.Approach, err = h.asker.Ask(ctx, opt.ask)
		}
		if err != nil {
			return PlanGuidance{}, err
		}
		return g, nil
	}
}

// readSteps collects plan steps until an empty answer.
func (h *Human) readSteps(ctx context.Context) ([]string, error) {
	h.asker.Show("Enter plan steps (one per line, empty line to finish):")
	var steps []string
	for {
		step, err := h.asker.Ask(ctx, fmt.Sprintf("Step %d", len(steps)+1))
		if err != nil {
			return nil, err
		}
		if step == "" {
			return steps, nil
		}
		steps = append(steps, step)
	}
}

// lineAsker reads answers from a line-oriented stream. Lines are pumped by a
// single goroutine so a pending read can be abandoned on context cancellation.
type lineAsker struct {
	out   io.Writer
	in    io.Reader
	once  sync.Once
	lines chan string
}

func newLineAsker(in io.Reader, out io.Writer) *lineAsker {
	return &lineAsker{in: in, out: out}
}

func (a *lineAsker) start() {
	a.lines = make(chan string)
	go func() {
		defer close(a.lines)
		reader := bufio.NewReader(a.in)
		for {
			line, err := reader.ReadString('\n')
			if len(line) > 0 || err == nil {
				a.lines <- strings.TrimSpace(line)
			}
			if err != nil {
				return
			}
		}
	}()
}

func (a *lineAsker) readLine(ctx context.Context) (string, error) {
	a.once.Do(a.start)
	select {
	case line, ok := <-a.lines:
		if !ok {
			return "", ErrNoResponder
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (a *lineAsker) Show(text string) {
	fmt.Fprintf(a.out, "\n%s\n", text)
}

func (a *lineAsker) Choose(ctx context.Context, title string, options []string) (int, error) {
	fmt.Fprintf(a.out, "\n%s\n", title)
	for i, o := range options {
		fmt.Fprintf(a.out, "%d. %s\n", i+1, o)
	}
	fmt.Fprintf(a.out, "\nEnter your choice (1-%d): ", len(options))

	line, err := a.readLine(ctx)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(options) {
		return 0, nil
	}
	return n, nil
}

func (a *lineAsker) Ask(ctx context.Context, prompt string) (string, error) {
	fmt.Fprintf(a.out, "%s: ", prompt)
	return a.readLine(ctx)
}
