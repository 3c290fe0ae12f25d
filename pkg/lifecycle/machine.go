package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

const stateStart = "start"

// machine runs the steps of one workflow instance. A step's side effect runs
// only when the state machine permits the step, and the transition is taken
// only when the side effect succeeded.
type machine struct {
	ops      *Operations
	workflow string
	subject  string
	fsm      *fsm.FSM
}

func (o *Operations) newMachine(workflow, subject string, events fsm.Events) *machine {
	m := &machine{ops: o, workflow: workflow, subject: subject}
	m.fsm = fsm.NewFSM(stateStart, events, fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			o.logger.Debug("workflow transition",
				zap.String("workflow", workflow),
				zap.String("subject", subject),
				zap.String("step", e.Event),
				zap.String("from", e.Src),
				zap.String("to", e.Dst))
		},
	})
	return m
}

func (m *machine) state() string {
	return m.fsm.Current()
}

func (m *machine) step(ctx context.Context, event string, fn func(ctx context.Context) error) error {
	if !m.fsm.Can(event) {
		return &StepError{
			Workflow: m.workflow,
			Step:     event,
			Subject:  m.subject,
			Err:      fmt.Errorf("not permitted in state %q", m.fsm.Current()),
		}
	}

	start := time.Now()
	err := fn(ctx)
	m.ops.metrics.ObserveStep(m.workflow, event, err)
	m.ops.recorder.StepCompleted(ctx, StepEvent{
		RunID:    RunIDFromContext(ctx),
		Workflow: m.workflow,
		Step:     event,
		Subject:  m.subject,
		Duration: time.Since(start),
		Err:      err,
	})
	if err != nil {
		m.ops.logger.Error("workflow step failed",
			zap.String("workflow", m.workflow),
			zap.String("step", event),
			zap.String("subject", m.subject),
			zap.Error(err))
		return &StepError{Workflow: m.workflow, Step: event, Subject: m.subject, Err: err}
	}

	if err := m.fsm.Event(ctx, event); err != nil {
		return &StepError{Workflow: m.workflow, Step: event, Subject: m.subject, Err: err}
	}
	return nil
}
