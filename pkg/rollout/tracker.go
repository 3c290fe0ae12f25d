package rollout

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const recentRunsKept = 20

// RunState is the live progress of a workflow run.
type RunState struct {
	RunID         string     `json:"run_id"`
	Workflow      string     `json:"workflow"`
	TotalRows     int        `json:"total_rows"`
	ProcessedRows int        `json:"processed_rows"`
	SuccessCount  int        `json:"success_count"`
	FailureCount  int        `json:"failure_count"`
	Current       string     `json:"current,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	LastUpdate    time.Time  `json:"last_update"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Tracker tracks the progress of workflow runs
type Tracker struct {
	mu     sync.RWMutex
	logger *zap.Logger
	active map[string]*RunState
	recent []*RunState
}

// NewTracker creates a new run tracker
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{
		logger: logger,
		active: make(map[string]*RunState),
	}
}

// StartTracking starts tracking a run
func (t *Tracker) StartTracking(runID, workflow string, totalRows int) {
	now := time.Now()

	t.mu.Lock()
	t.active[runID] = &RunState{
		RunID:      runID,
		Workflow:   workflow,
		TotalRows:  totalRows,
		StartedAt:  now,
		LastUpdate: now,
	}
	t.mu.Unlock()

	t.logger.Info("started tracking run",
		zap.String("run_id", runID),
		zap.String("workflow", workflow),
		zap.Int("rows", totalRows))
}

// SetTotal updates the number of rows of a run once it is known.
func (t *Tracker) SetTotal(runID string, totalRows int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.active[runID]; ok {
		state.TotalRows = totalRows
		state.LastUpdate = time.Now()
	}
}

// SetCurrent records the row or device being processed
func (t *Tracker) SetCurrent(runID, current string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.active[runID]; ok {
		state.Current = current
		state.LastUpdate = time.Now()
	}
}

// RecordRow records the outcome of one row
func (t *Tracker) RecordRow(runID string, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.active[runID]
	if !ok {
		return
	}
	if success {
		state.SuccessCount++
	} else {
		state.FailureCount++
	}
	state.ProcessedRows++
	state.LastUpdate = time.Now()
}

// StopTracking moves a run to the recent history
func (t *Tracker) StopTracking(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.active[runID]
	if !ok {
		return
	}
	delete(t.active, runID)

	now := time.Now()
	state.CompletedAt = &now
	state.Current = ""
	state.LastUpdate = now

	t.recent = append(t.recent, state)
	if len(t.recent) > recentRunsKept {
		t.recent = t.recent[len(t.recent)-recentRunsKept:]
	}

	t.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.String("workflow", state.Workflow),
		zap.Int("succeeded", state.SuccessCount),
		zap.Int("failed", state.FailureCount))
}

// GetState returns the state of an active or recent run
func (t *Tracker) GetState(runID string) *RunState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if state, ok := t.active[runID]; ok {
		stateCopy := *state
		return &stateCopy
	}
	for _, state := range t.recent {
		if state.RunID == runID {
			stateCopy := *state
			return &stateCopy
		}
	}
	return nil
}

// GetAllActive returns all active run states, oldest first
func (t *Tracker) GetAllActive() []*RunState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make([]*RunState, 0, len(t.active))
	for _, state := range t.active {
		stateCopy := *state
		states = append(states, &stateCopy)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].StartedAt.Before(states[j].StartedAt)
	})
	return states
}

// GetRecent returns finished runs, most recent first
func (t *Tracker) GetRecent() []*RunState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make([]*RunState, 0, len(t.recent))
	for i := len(t.recent) - 1; i >= 0; i-- {
		stateCopy := *t.recent[i]
		states = append(states, &stateCopy)
	}
	return states
}

// GetProgress calculates current progress percentage
func (t *Tracker) GetProgress(runID string) float64 {
	state := t.GetState(runID)
	if state == nil || state.TotalRows == 0 {
		return 0
	}
	return float64(state.ProcessedRows) / float64(state.TotalRows) * 100
}
