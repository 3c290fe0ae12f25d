// Package lifecycle implements the device lifecycle workflows: commission,
// decommission, replace, reclassification and reconfigure-and-rollout. Each
// workflow drives the controller through a state machine so that steps run in
// the only order the controller accepts.
package lifecycle

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/edge-orchestrator/pkg/catalog"
	"github.com/yourorg/edge-orchestrator/pkg/controller"
	"github.com/yourorg/edge-orchestrator/pkg/mapping"
	"github.com/yourorg/edge-orchestrator/pkg/metrics"
	"github.com/yourorg/edge-orchestrator/pkg/rollout"
	"github.com/yourorg/edge-orchestrator/pkg/templateinput"
)

// Workflow names
const (
	WorkflowCommission       = "commission"
	WorkflowDecommission     = "decommission"
	WorkflowReplace          = "replace"
	WorkflowReclassification = "reclassification"
	WorkflowReconfigure      = "reconfigure"
)

// Phase selects the half of a two-phase workflow.
type Phase int

// Phases of commission and reclassification
const (
	// PhaseLink resolves templates and devices and exports their input.
	PhaseLink Phase = iota + 1
	// PhaseAttach imports the edited input and attaches the templates.
	PhaseAttach
)

func (p Phase) String() string {
	switch p {
	case PhaseLink:
		return "link"
	case PhaseAttach:
		return "attach"
	default:
		return "unknown"
	}
}

// Exchange is the mapping workbook: mapping rows in, input sets out and back.
type Exchange interface {
	LoadRows(kind mapping.Kind) ([]mapping.Row, error)
	ExportInputSets(sheet string, sets []*templateinput.InputSet) error
	ImportInputSets(sheet string) ([]*templateinput.InputSet, error)
}

// Waiter blocks until a controller action reaches a terminal state.
type Waiter interface {
	Await(ctx context.Context, actionID string) (controller.ActionStatus, error)
}

// Settings tune the workflows.
type Settings struct {
	// RowConcurrency is the number of mapping rows processed at once.
	RowConcurrency int
	// RolloutPacing is the pause between two devices of a rollout.
	RolloutPacing time.Duration
	MissingPolicy catalog.MissingPolicy
	// CloneSuffix overrides the plan's suffix when set.
	CloneSuffix string
	Plan        *rollout.Plan
}

// DefaultSettings returns sequential processing with the built-in plan.
func DefaultSettings() Settings {
	return Settings{
		RowConcurrency: 1,
		RolloutPacing:  60 * time.Second,
		MissingPolicy:  catalog.MissingDrop,
		Plan:           rollout.DefaultPlan(),
	}
}

// Dependencies contains all dependencies needed by the workflows
type Dependencies struct {
	Client   controller.Client
	Waiter   Waiter
	Tracker  *rollout.Tracker
	Recorder Recorder
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	// Out receives operator progress lines.
	Out io.Writer
}

// Operations runs the lifecycle workflows.
type Operations struct {
	client   controller.Client
	waiter   Waiter
	tracker  *rollout.Tracker
	recorder Recorder
	metrics  *metrics.Metrics
	logger   *zap.Logger
	out      io.Writer
	settings Settings
	locks    *deviceLocks
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewOperations creates the workflow runner.
func NewOperations(deps Dependencies, settings Settings) *Operations {
	if settings.RowConcurrency < 1 {
		settings.RowConcurrency = 1
	}
	if settings.MissingPolicy == "" {
		settings.MissingPolicy = catalog.MissingDrop
	}
	if settings.Plan == nil {
		settings.Plan = rollout.DefaultPlan()
	}

	o := &Operations{
		client:   deps.Client,
		waiter:   deps.Waiter,
		tracker:  deps.Tracker,
		recorder: deps.Recorder,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		out:      deps.Out,
		settings: settings,
		locks:    newDeviceLocks(),
		sleep:    sleepContext,
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.tracker == nil {
		o.tracker = rollout.NewTracker(o.logger)
	}
	if o.recorder == nil {
		o.recorder = NopRecorder{}
	}
	if o.out == nil {
		o.out = io.Discard
	}
	return o
}

// Tracker returns the run progress tracker.
func (o *Operations) Tracker() *rollout.Tracker {
	return o.tracker
}

func (o *Operations) resolver(snapshot *catalog.Snapshot) *catalog.Resolver {
	return catalog.NewResolver(snapshot, o.settings.MissingPolicy)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
