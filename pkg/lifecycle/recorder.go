package lifecycle

import (
	"context"
	"time"
)

type runIDKey struct{}

// WithRunID returns a context carrying runID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run ID carried by ctx, if any.
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey{}).(string); ok {
		return v
	}
	return ""
}

// RunInfo describes a workflow run when it starts.
type RunInfo struct {
	RunID    string
	Workflow string
	Detail   string
}

// StepEvent describes a finished workflow step.
type StepEvent struct {
	RunID    string
	Workflow string
	Step     string
	Subject  string
	Duration time.Duration
	Err      error
}

// Recorder receives run and step outcomes. Implementations must not block
// the workflow on their own failures.
type Recorder interface {
	RunStarted(ctx context.Context, run RunInfo)
	StepCompleted(ctx context.Context, step StepEvent)
	RunFinished(ctx context.Context, report *Report)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RunStarted(context.Context, RunInfo)      {}
func (NopRecorder) StepCompleted(context.Context, StepEvent) {}
func (NopRecorder) RunFinished(context.Context, *Report)     {}
