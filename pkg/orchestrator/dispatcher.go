// Package orchestrator selects a lifecycle workflow from operator input and
// runs it against a fresh catalog snapshot.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/yourorg/edge-orchestrator/pkg/catalog"
	"github.com/yourorg/edge-orchestrator/pkg/lifecycle"
)

// WorkflowKind identifies a workflow in the operator menu.
type WorkflowKind int

// Workflows in menu order
const (
	WorkflowCommission WorkflowKind = iota + 1
	WorkflowDecommission
	WorkflowReplace
	WorkflowReclassification
	WorkflowReconfigure
)

// Workflows lists every workflow in menu order.
var Workflows = []WorkflowKind{
	WorkflowCommission,
	WorkflowDecommission,
	WorkflowReplace,
	WorkflowReclassification,
	WorkflowReconfigure,
}

// Title returns the menu label.
func (k WorkflowKind) Title() string {
	switch k {
	case WorkflowCommission:
		return "Commission a new store/branch edge router"
	case WorkflowDecommission:
		return "Decommission a closed store/branch edge router"
	case WorkflowReplace:
		return "Replace (RMA) a broken store/branch edge router"
	case WorkflowReclassification:
		return "Store reclassification"
	case WorkflowReconfigure:
		return "Configure changes to existing store/branch edge routers"
	default:
		return "unknown"
	}
}

// HasPhases reports whether the workflow is split into link and attach.
func (k WorkflowKind) HasPhases() bool {
	return k == WorkflowCommission || k == WorkflowReclassification
}

// NeedsMapping reports whether the workflow reads a mapping file.
func (k WorkflowKind) NeedsMapping() bool {
	return k == WorkflowCommission || k == WorkflowReplace || k == WorkflowReclassification
}

// PhaseTitle returns the sub-menu label of phase for this workflow.
func (k WorkflowKind) PhaseTitle(phase lifecycle.Phase) string {
	switch {
	case k == WorkflowCommission && phase == lifecycle.PhaseLink:
		return "Link templates and get template input variables"
	case k == WorkflowCommission && phase == lifecycle.PhaseAttach:
		return "Upload data and get config down to routers"
	case k == WorkflowReclassification && phase == lifecycle.PhaseLink:
		return "Specify routers and templates"
	case k == WorkflowReclassification && phase == lifecycle.PhaseAttach:
		return "Upload data and reattach routers"
	default:
		return ""
	}
}

// ErrInvalidSelection is returned for a menu choice out of range.
var ErrInvalidSelection = errors.New("invalid selection")

// Prompt labels
const (
	PromptMappingFile = "Please provide the name of your mapping file"
	PromptHostname    = "Please provide the hostname of router"
	PromptTemplate    = "Please provide the template name"
)

// Operator chooses the workflow and supplies its inputs.
type Operator interface {
	SelectWorkflow() (WorkflowKind, error)
	SelectPhase(kind WorkflowKind) (lifecycle.Phase, error)
	PromptText(label string) (string, error)
}

// Request is a fully specified workflow invocation.
type Request struct {
	Kind         WorkflowKind
	Phase        lifecycle.Phase
	MappingFile  string
	Hostname     string
	TemplateName string
}

// Validate checks that the request carries the inputs its workflow needs.
func (r Request) Validate() error {
	switch r.Kind {
	case WorkflowCommission, WorkflowReclassification:
		if r.Phase != lifecycle.PhaseLink && r.Phase != lifecycle.PhaseAttach {
			return fmt.Errorf("%w: phase %d", ErrInvalidSelection, r.Phase)
		}
	case WorkflowDecommission:
		if r.Hostname == "" {
			return errors.New("host name is required")
		}
	case WorkflowReconfigure:
		if r.TemplateName == "" {
			return errors.New("template name is required")
		}
	case WorkflowReplace:
	default:
		return fmt.Errorf("%w: workflow %d", ErrInvalidSelection, r.Kind)
	}
	if r.Kind.NeedsMapping() && r.MappingFile == "" {
		return errors.New("mapping file is required")
	}
	return nil
}

// ExchangeOpener opens the mapping workbook at path.
type ExchangeOpener func(path string) (lifecycle.Exchange, error)

// Runner is the set of lifecycle operations the dispatcher drives.
type Runner interface {
	Commission(ctx context.Context, snapshot *catalog.Snapshot, ex lifecycle.Exchange, phase lifecycle.Phase) (*lifecycle.Report, error)
	Reclassify(ctx context.Context, snapshot *catalog.Snapshot, ex lifecycle.Exchange, phase lifecycle.Phase) (*lifecycle.Report, error)
	Decommission(ctx context.Context, snapshot *catalog.Snapshot, hostname string) (*lifecycle.Report, error)
	Replace(ctx context.Context, snapshot *catalog.Snapshot, ex lifecycle.Exchange) (*lifecycle.Report, error)
	Reconfigure(ctx context.Context, snapshot *catalog.Snapshot, templateName string) (*lifecycle.Report, error)
}

// Dispatcher runs workflows.
type Dispatcher struct {
	runner         Runner
	catalog        catalog.Lister
	openExchange   ExchangeOpener
	deviceCategory string
	logger         *zap.Logger
}

// NewDispatcher creates a dispatcher. Catalog snapshots are taken from lister
// once per workflow invocation.
func NewDispatcher(runner Runner, lister catalog.Lister, open ExchangeOpener, deviceCategory string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		runner:         runner,
		catalog:        lister,
		openExchange:   open,
		deviceCategory: deviceCategory,
		logger:         logger,
	}
}

// Interactive asks op for a workflow and its inputs, then runs it.
func (d *Dispatcher) Interactive(ctx context.Context, op Operator) (*lifecycle.Report, error) {
	req, err := Ask(op)
	if err != nil {
		return nil, err
	}
	return d.Dispatch(ctx, req)
}

// Ask collects a request from op.
func Ask(op Operator) (Request, error) {
	kind, err := op.SelectWorkflow()
	if err != nil {
		return Request{}, err
	}
	req := Request{Kind: kind}

	if kind.HasPhases() {
		if req.Phase, err = op.SelectPhase(kind); err != nil {
			return Request{}, err
		}
	}
	if kind.NeedsMapping() {
		if req.MappingFile, err = op.PromptText(PromptMappingFile); err != nil {
			return Request{}, err
		}
	}
	switch kind {
	case WorkflowDecommission:
		req.Hostname, err = op.PromptText(PromptHostname)
	case WorkflowReconfigure:
		req.TemplateName, err = op.PromptText(PromptTemplate)
	}
	if err != nil {
		return Request{}, err
	}
	return req, req.Validate()
}

// Dispatch runs the workflow described by req.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*lifecycle.Report, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var ex lifecycle.Exchange
	if req.Kind.NeedsMapping() {
		var err error
		if ex, err = d.openExchange(req.MappingFile); err != nil {
			return nil, err
		}
	}

	snapshot, err := catalog.Fetch(ctx, d.catalog, d.deviceCategory)
	if err != nil {
		return nil, fmt.Errorf("failed to load controller catalog: %w", err)
	}

	d.logger.Info("dispatching workflow",
		zap.String("workflow", req.Kind.Title()),
		zap.Int("templates", len(snapshot.Templates())),
		zap.Int("devices", len(snapshot.Devices())))

	switch req.Kind {
	case WorkflowCommission:
		return d.runner.Commission(ctx, snapshot, ex, req.Phase)
	case WorkflowDecommission:
		return d.runner.Decommission(ctx, snapshot, req.Hostname)
	case WorkflowReplace:
		return d.runner.Replace(ctx, snapshot, ex)
	case WorkflowReclassification:
		return d.runner.Reclassify(ctx, snapshot, ex, req.Phase)
	default:
		return d.runner.Reconfigure(ctx, snapshot, req.TemplateName)
	}
}
