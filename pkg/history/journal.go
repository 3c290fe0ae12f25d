package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourorg/edge-orchestrator/pkg/lifecycle"
)

// Store writes journal records.
type Store interface {
	CreateRun(ctx context.Context, run *WorkflowRun) error
	CompleteRun(ctx context.Context, runID string, status RunStatus, succeeded, failed int, errText string, completedAt time.Time) error
	AddStep(ctx context.Context, step *StepRecord) error
}

// GormStore is the database-backed Store.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store on db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateRun(ctx context.Context, run *WorkflowRun) error {
	return s.db.WithContext(ctx).Create(run).Error
}

func (s *GormStore) CompleteRun(ctx context.Context, runID string, status RunStatus, succeeded, failed int, errText string, completedAt time.Time) error {
	return s.db.WithContext(ctx).
		Model(&WorkflowRun{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"status":       status,
			"succeeded":    succeeded,
			"failed":       failed,
			"error":        errText,
			"completed_at": completedAt,
		}).Error
}

func (s *GormStore) AddStep(ctx context.Context, step *StepRecord) error {
	return s.db.WithContext(ctx).Create(step).Error
}

// DefaultQueueSize bounds the records waiting to be written.
const DefaultQueueSize = 256

type record struct {
	kind string
	run  string
	op   func(ctx context.Context, store Store) error
}

// Journal records workflow runs in a Store. Writes happen on a background
// goroutine in submission order; when the queue is full the record is dropped
// and logged. Journal implements lifecycle.Recorder.
type Journal struct {
	store  Store
	logger *zap.Logger
	queue  chan record
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var _ lifecycle.Recorder = (*Journal)(nil)

// NewJournal starts a journal writing to store.
func NewJournal(store Store, logger *zap.Logger, queueSize int) *Journal {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	j := &Journal{
		store:  store,
		logger: logger,
		queue:  make(chan record, queueSize),
	}
	j.wg.Add(1)
	go j.writeLoop()
	return j
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	for r := range j.queue {
		// records outlive the workflow context
		if err := r.op(context.Background(), j.store); err != nil {
			j.logger.Warn("failed to write history record",
				zap.String("record", r.kind),
				zap.String("run_id", r.run),
				zap.Error(err))
		}
	}
}

func (j *Journal) submit(r record) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- r:
	default:
		j.logger.Warn("history queue full, record dropped",
			zap.String("record", r.kind),
			zap.String("run_id", r.run))
	}
}

// RunStarted records a new run.
func (j *Journal) RunStarted(_ context.Context, info lifecycle.RunInfo) {
	run := &WorkflowRun{
		ID:        info.RunID,
		Workflow:  info.Workflow,
		Detail:    info.Detail,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	j.submit(record{kind: "run", run: info.RunID, op: func(ctx context.Context, s Store) error {
		return s.CreateRun(ctx, run)
	}})
}

// StepCompleted records one step outcome.
func (j *Journal) StepCompleted(_ context.Context, ev lifecycle.StepEvent) {
	step := &StepRecord{
		RunID:      ev.RunID,
		Step:       ev.Step,
		Subject:    ev.Subject,
		Success:    ev.Err == nil,
		DurationMs: ev.Duration.Milliseconds(),
		RecordedAt: time.Now().UTC(),
	}
	if ev.Err != nil {
		step.Error = ev.Err.Error()
	}
	j.submit(record{kind: "step", run: ev.RunID, op: func(ctx context.Context, s Store) error {
		return s.AddStep(ctx, step)
	}})
}

// RunFinished records the run outcome.
func (j *Journal) RunFinished(_ context.Context, report *lifecycle.Report) {
	succeeded, failed := report.Succeeded(), report.Failed()
	var errText string
	if err := report.Err(); err != nil {
		errText = err.Error()
	}
	completedAt := time.Now().UTC()
	j.submit(record{kind: "run_finished", run: report.RunID, op: func(ctx context.Context, s Store) error {
		return s.CompleteRun(ctx, report.RunID, StatusFor(succeeded, failed), succeeded, failed, errText, completedAt)
	}})
}

// Close stops accepting records and waits for queued ones to be written or
// for ctx to end.
func (j *Journal) Close(ctx context.Context) error {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.queue)
	}
	j.mu.Unlock()

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("history journal not drained: %w", ctx.Err())
	}
}
