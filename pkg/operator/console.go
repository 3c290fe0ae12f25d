// Package operator implements the numbered console menu operators use to pick
// a workflow.
package operator

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/yourorg/edge-orchestrator/pkg/lifecycle"
	"github.com/yourorg/edge-orchestrator/pkg/orchestrator"
)

var phases = []lifecycle.Phase{lifecycle.PhaseLink, lifecycle.PhaseAttach}

// Console reads choices from in and writes menus to out.
type Console struct {
	in  *bufio.Reader
	out io.Writer
}

var _ orchestrator.Operator = (*Console)(nil)

// NewConsole creates a console operator.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out}
}

// SelectWorkflow prints the workflow menu and reads the choice.
func (c *Console) SelectWorkflow() (orchestrator.WorkflowKind, error) {
	labels := make([]string, len(orchestrator.Workflows))
	for i, k := range orchestrator.Workflows {
		labels[i] = k.Title()
	}
	n, err := c.choose(labels, "Which workflow do you want to start?")
	if err != nil {
		return 0, err
	}
	return orchestrator.Workflows[n-1], nil
}

// SelectPhase prints the sub-workflow menu of kind and reads the choice.
func (c *Console) SelectPhase(kind orchestrator.WorkflowKind) (lifecycle.Phase, error) {
	labels := make([]string, len(phases))
	for i, p := range phases {
		labels[i] = kind.PhaseTitle(p)
	}
	n, err := c.choose(labels, "Which sub-workflow do you want to start?")
	if err != nil {
		return 0, err
	}
	return phases[n-1], nil
}

// PromptText asks for a free-text value.
func (c *Console) PromptText(label string) (string, error) {
	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "%s: ", label)
	return c.readLine()
}

func (c *Console) choose(labels []string, question string) (int, error) {
	fmt.Fprintln(c.out)
	for i, label := range labels {
		fmt.Fprintf(c.out, "%d. %s\n", i+1, label)
	}
	fmt.Fprintf(c.out, "%s ", question)

	line, err := c.readLine()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(labels) {
		return 0, fmt.Errorf("%w: %q", orchestrator.ErrInvalidSelection, line)
	}
	return n, nil
}

func (c *Console) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read operator input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
