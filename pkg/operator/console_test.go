package operator

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/edge-orchestrator/pkg/lifecycle"
	"github.com/yourorg/edge-orchestrator/pkg/orchestrator"
)

func TestSelectWorkflow(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader("3\n"), &out)

	kind, err := c.SelectWorkflow()
	require.NoError(t, err)
	assert.Equal(t, orchestrator.WorkflowReplace, kind)

	menu := out.String()
	assert.Contains(t, menu, "1. Commission a new store/branch edge router\n")
	assert.Contains(t, menu, "5. Configure changes to existing store/branch edge routers\n")
	assert.True(t, strings.HasSuffix(menu, "Which workflow do you want to start? "))
}

func TestSelectWorkflowRejectsBadInput(t *testing.T) {
	for _, input := range []string{"0\n", "6\n", "two\n", "\n"} {
		c := NewConsole(strings.NewReader(input), io.Discard)
		_, err := c.SelectWorkflow()
		assert.ErrorIs(t, err, orchestrator.ErrInvalidSelection, "input %q", input)
	}
}

func TestSelectPhase(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader(" 2 \n"), &out)

	phase, err := c.SelectPhase(orchestrator.WorkflowReclassification)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.PhaseAttach, phase)
	assert.Contains(t, out.String(), "1. Specify routers and templates\n")
	assert.Contains(t, out.String(), "2. Upload data and reattach routers\n")
}

func TestPromptText(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader("mapping.xlsx"), &out)

	got, err := c.PromptText(orchestrator.PromptMappingFile)
	require.NoError(t, err)
	assert.Equal(t, "mapping.xlsx", got)
	assert.Equal(t, "\nPlease provide the name of your mapping file: ", out.String())
}

func TestPromptTextClosedInput(t *testing.T) {
	c := NewConsole(strings.NewReader(""), io.Discard)

	_, err := c.PromptText("anything")
	assert.ErrorIs(t, err, io.EOF)
}

func TestConsoleDrivesAsk(t *testing.T) {
	c := NewConsole(strings.NewReader("1\n1\nmap.xlsx\n"), io.Discard)

	req, err := orchestrator.Ask(c)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.Request{
		Kind:        orchestrator.WorkflowCommission,
		Phase:       lifecycle.PhaseLink,
		MappingFile: "map.xlsx",
	}, req)
}
