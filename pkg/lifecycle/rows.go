package lifecycle

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// rowTask is one unit of a run: a mapping row or a rollout device.
type rowTask struct {
	number  int
	subject string
	// err is set for rows that were malformed on load
	err error
	run func(ctx context.Context) error
}

// begin registers a run and returns a context carrying its ID.
func (o *Operations) begin(ctx context.Context, workflow, detail string) (context.Context, string) {
	runID := RunIDFromContext(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = WithRunID(ctx, runID)
	}
	o.tracker.StartTracking(runID, workflow, 0)
	o.recorder.RunStarted(ctx, RunInfo{RunID: runID, Workflow: workflow, Detail: detail})
	return ctx, runID
}

// finish closes the run and returns the aggregate row error.
func (o *Operations) finish(ctx context.Context, report *Report) (*Report, error) {
	o.tracker.StopTracking(report.RunID)
	o.recorder.RunFinished(ctx, report)

	err := report.Err()
	if err != nil {
		o.logger.Warn("run finished with failures",
			zap.String("run_id", report.RunID),
			zap.String("workflow", report.Workflow),
			zap.Int("succeeded", report.Succeeded()),
			zap.Int("failed", report.Failed()))
	}
	return report, err
}

// single finishes a run made of one subject.
func (o *Operations) single(ctx context.Context, workflow, subject string, err error) (*Report, error) {
	runID := RunIDFromContext(ctx)
	o.tracker.RecordRow(runID, err == nil)
	o.metrics.ObserveRow(workflow, err)
	return o.finish(ctx, &Report{
		RunID:    runID,
		Workflow: workflow,
		Rows:     []RowResult{{Subject: subject, Err: err}},
	})
}

// runTasks runs tasks with at most concurrency in flight. A failed task does
// not stop the others; results keep task order.
func (o *Operations) runTasks(ctx context.Context, workflow string, tasks []rowTask, concurrency int) *Report {
	runID := RunIDFromContext(ctx)
	report := &Report{RunID: runID, Workflow: workflow, Rows: make([]RowResult, len(tasks))}
	o.tracker.SetTotal(runID, len(tasks))

	var g errgroup.Group
	g.SetLimit(max(concurrency, 1))
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			o.tracker.SetCurrent(runID, task.subject)

			err := task.err
			if err == nil {
				err = ctx.Err()
			}
			if err == nil {
				err = task.run(ctx)
			}

			report.Rows[i] = RowResult{Row: task.number, Subject: task.subject, Err: err}
			o.tracker.RecordRow(runID, err == nil)
			o.metrics.ObserveRow(workflow, err)
			if err != nil {
				o.logger.Error("row failed",
					zap.String("run_id", runID),
					zap.String("workflow", workflow),
					zap.Int("row", task.number),
					zap.String("subject", task.subject),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// deviceLocks serializes lifecycle transitions per device UUID.
type deviceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newDeviceLocks() *deviceLocks {
	return &deviceLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the locks of every UUID in a fixed order and returns the
// release function.
func (l *deviceLocks) lock(uuids ...string) func() {
	keys := make([]string, 0, len(uuids))
	seen := make(map[string]bool, len(uuids))
	for _, u := range uuids {
		if u != "" && !seen[u] {
			seen[u] = true
			keys = append(keys, u)
		}
	}
	sort.Strings(keys)

	held := make([]*sync.Mutex, 0, len(keys))
	for _, k := range keys {
		l.mu.Lock()
		m, ok := l.locks[k]
		if !ok {
			m = &sync.Mutex{}
			l.locks[k] = m
		}
		l.mu.Unlock()

		m.Lock()
		held = append(held, m)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
