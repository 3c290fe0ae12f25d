package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yourorg/edge-orchestrator/pkg/catalog"
	"github.com/yourorg/edge-orchestrator/pkg/controller"
	"github.com/yourorg/edge-orchestrator/pkg/controller/controllertest"
	"github.com/yourorg/edge-orchestrator/pkg/lifecycle"
	"github.com/yourorg/edge-orchestrator/pkg/mapping"
	"github.com/yourorg/edge-orchestrator/pkg/templateinput"
)

type scriptedOperator struct {
	kind    WorkflowKind
	phase   lifecycle.Phase
	answers map[string]string
	err     error
	asked   []string
}

func (s *scriptedOperator) SelectWorkflow() (WorkflowKind, error) {
	return s.kind, s.err
}

func (s *scriptedOperator) SelectPhase(WorkflowKind) (lifecycle.Phase, error) {
	return s.phase, nil
}

func (s *scriptedOperator) PromptText(label string) (string, error) {
	s.asked = append(s.asked, label)
	return s.answers[label], nil
}

type invocation struct {
	method   string
	phase    lifecycle.Phase
	arg      string
	snapshot *catalog.Snapshot
	exchange lifecycle.Exchange
}

type stubRunner struct {
	calls []invocation
}

func (r *stubRunner) record(inv invocation) (*lifecycle.Report, error) {
	r.calls = append(r.calls, inv)
	return &lifecycle.Report{RunID: "run-1", Workflow: inv.method}, nil
}

func (r *stubRunner) Commission(_ context.Context, s *catalog.Snapshot, ex lifecycle.Exchange, p lifecycle.Phase) (*lifecycle.Report, error) {
	return r.record(invocation{method: "Commission", phase: p, snapshot: s, exchange: ex})
}

func (r *stubRunner) Reclassify(_ context.Context, s *catalog.Snapshot, ex lifecycle.Exchange, p lifecycle.Phase) (*lifecycle.Report, error) {
	return r.record(invocation{method: "Reclassify", phase: p, snapshot: s, exchange: ex})
}

func (r *stubRunner) Decommission(_ context.Context, s *catalog.Snapshot, hostname string) (*lifecycle.Report, error) {
	return r.record(invocation{method: "Decommission", arg: hostname, snapshot: s})
}

func (r *stubRunner) Replace(_ context.Context, s *catalog.Snapshot, ex lifecycle.Exchange) (*lifecycle.Report, error) {
	return r.record(invocation{method: "Replace", snapshot: s, exchange: ex})
}

func (r *stubRunner) Reconfigure(_ context.Context, s *catalog.Snapshot, name string) (*lifecycle.Report, error) {
	return r.record(invocation{method: "Reconfigure", arg: name, snapshot: s})
}

type nullExchange struct{ path string }

func (nullExchange) LoadRows(mapping.Kind) ([]mapping.Row, error) { return nil, nil }

func (nullExchange) ExportInputSets(string, []*templateinput.InputSet) error { return nil }

func (nullExchange) ImportInputSets(string) ([]*templateinput.InputSet, error) { return nil, nil }

func newTestDispatcher(t *testing.T) (*Dispatcher, *stubRunner, *controllertest.Fake, *[]string) {
	t.Helper()

	fake := controllertest.New()
	fake.DeviceTemplates = []controller.Template{{TemplateID: "T1", TemplateName: "branch"}}
	fake.Devices = []controller.Device{{UUID: "U1", ChassisNumber: "C1", HostName: "edge-1"}}

	runner := &stubRunner{}
	var opened []string
	open := func(path string) (lifecycle.Exchange, error) {
		if path == "missing.xlsx" {
			return nil, errors.New("no such file")
		}
		opened = append(opened, path)
		return nullExchange{path: path}, nil
	}
	return NewDispatcher(runner, fake, open, "vedges", zaptest.NewLogger(t)), runner, fake, &opened
}

func TestDispatchRoutesEveryWorkflow(t *testing.T) {
	tests := []struct {
		name   string
		req    Request
		method string
		arg    string
		mapped bool
	}{
		{"commission link", Request{Kind: WorkflowCommission, Phase: lifecycle.PhaseLink, MappingFile: "map.xlsx"}, "Commission", "", true},
		{"commission attach", Request{Kind: WorkflowCommission, Phase: lifecycle.PhaseAttach, MappingFile: "map.xlsx"}, "Commission", "", true},
		{"decommission", Request{Kind: WorkflowDecommission, Hostname: "edge-1"}, "Decommission", "edge-1", false},
		{"replace", Request{Kind: WorkflowReplace, MappingFile: "map.xlsx"}, "Replace", "", true},
		{"reclassify", Request{Kind: WorkflowReclassification, Phase: lifecycle.PhaseAttach, MappingFile: "map.xlsx"}, "Reclassify", "", true},
		{"reconfigure", Request{Kind: WorkflowReconfigure, TemplateName: "branch"}, "Reconfigure", "branch", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			d, runner, fake, opened := newTestDispatcher(t)

			_, err := d.Dispatch(context.Background(), tt.req)
			require.NoError(t, err)

			require.Len(t, runner.calls, 1)
			got := runner.calls[0]
			assert.Equal(t, tt.method, got.method)
			assert.Equal(t, tt.arg, got.arg)
			assert.Equal(t, tt.req.Phase, got.phase)
			require.NotNil(t, got.snapshot)
			assert.Len(t, got.snapshot.Templates(), 1)
			assert.Len(t, got.snapshot.Devices(), 1)

			if tt.mapped {
				assert.Equal(t, []string{"map.xlsx"}, *opened)
				assert.Equal(t, nullExchange{path: "map.xlsx"}, got.exchange)
			} else {
				assert.Empty(t, *opened)
				assert.Nil(t, got.exchange)
			}

			// one snapshot per invocation
			assert.Len(t, fake.CallsTo("ListDeviceTemplates"), 1)
			assert.Len(t, fake.CallsTo("ListDevices"), 1)
			assert.Equal(t, "vedges", fake.CallsTo("ListDevices")[0].Args[0])
		})
	}
}

func TestDispatchRejectsIncompleteRequests(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"unknown workflow", Request{Kind: 9}},
		{"zero workflow", Request{}},
		{"missing phase", Request{Kind: WorkflowCommission, MappingFile: "map.xlsx"}},
		{"missing mapping", Request{Kind: WorkflowReplace}},
		{"missing hostname", Request{Kind: WorkflowDecommission}},
		{"missing template", Request{Kind: WorkflowReconfigure}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			d, runner, fake, _ := newTestDispatcher(t)

			_, err := d.Dispatch(context.Background(), tt.req)
			require.Error(t, err)
			assert.Empty(t, runner.calls)
			assert.Empty(t, fake.Calls())
		})
	}
}

func TestDispatchInvalidSelectionError(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), Request{Kind: 6})
	assert.ErrorIs(t, err, ErrInvalidSelection)
}

func TestDispatchStopsWhenMappingCannotOpen(t *testing.T) {
	d, runner, fake, _ := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), Request{Kind: WorkflowReplace, MappingFile: "missing.xlsx"})
	require.Error(t, err)
	assert.Empty(t, runner.calls)
	assert.Empty(t, fake.Calls())
}

func TestDispatchCatalogFailure(t *testing.T) {
	d, runner, fake, _ := newTestDispatcher(t)
	fake.Errors["ListDevices"] = errors.New("controller unavailable")

	_, err := d.Dispatch(context.Background(), Request{Kind: WorkflowDecommission, Hostname: "edge-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load controller catalog")
	assert.Empty(t, runner.calls)
}

func TestInteractiveAsksOnlyWhatTheWorkflowNeeds(t *testing.T) {
	tests := []struct {
		name  string
		op    *scriptedOperator
		asked []string
		want  Request
	}{
		{
			name: "commission",
			op: &scriptedOperator{kind: WorkflowCommission, phase: lifecycle.PhaseLink,
				answers: map[string]string{PromptMappingFile: "map.xlsx"}},
			asked: []string{PromptMappingFile},
			want:  Request{Kind: WorkflowCommission, Phase: lifecycle.PhaseLink, MappingFile: "map.xlsx"},
		},
		{
			name:  "decommission",
			op:    &scriptedOperator{kind: WorkflowDecommission, answers: map[string]string{PromptHostname: "edge-1"}},
			asked: []string{PromptHostname},
			want:  Request{Kind: WorkflowDecommission, Hostname: "edge-1"},
		},
		{
			name:  "replace",
			op:    &scriptedOperator{kind: WorkflowReplace, answers: map[string]string{PromptMappingFile: "rma.xlsx"}},
			asked: []string{PromptMappingFile},
			want:  Request{Kind: WorkflowReplace, MappingFile: "rma.xlsx"},
		},
		{
			name:  "reconfigure",
			op:    &scriptedOperator{kind: WorkflowReconfigure, answers: map[string]string{PromptTemplate: "branch"}},
			asked: []string{PromptTemplate},
			want:  Request{Kind: WorkflowReconfigure, TemplateName: "branch"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req, err := Ask(tt.op)
			require.NoError(t, err)
			assert.Equal(t, tt.want, req)
			assert.Equal(t, tt.asked, tt.op.asked)
		})
	}
}

func TestInteractiveRunsSelectedWorkflow(t *testing.T) {
	d, runner, _, _ := newTestDispatcher(t)
	op := &scriptedOperator{kind: WorkflowDecommission, answers: map[string]string{PromptHostname: "edge-1"}}

	report, err := d.Interactive(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, "Decommission", report.Workflow)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "edge-1", runner.calls[0].arg)
}

func TestInteractiveSelectionError(t *testing.T) {
	d, runner, _, _ := newTestDispatcher(t)
	op := &scriptedOperator{err: ErrInvalidSelection}

	_, err := d.Interactive(context.Background(), op)
	assert.ErrorIs(t, err, ErrInvalidSelection)
	assert.Empty(t, runner.calls)
}

func TestWorkflowLabels(t *testing.T) {
	for _, k := range Workflows {
		assert.NotEqual(t, "unknown", k.Title())
	}
	assert.NotEmpty(t, WorkflowCommission.PhaseTitle(lifecycle.PhaseLink))
	assert.NotEmpty(t, WorkflowReclassification.PhaseTitle(lifecycle.PhaseAttach))
	assert.Empty(t, WorkflowReplace.PhaseTitle(lifecycle.PhaseLink))
}
