// Package action waits for asynchronous controller actions to finish.
package action

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/edge-orchestrator/pkg/controller"
	"github.com/yourorg/edge-orchestrator/pkg/metrics"
)

// StatusReader reads the status of a controller action.
type StatusReader interface {
	GetActionStatus(ctx context.Context, actionID string) (controller.ActionStatus, error)
}

// Config bounds the polling loop.
type Config struct {
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	MaxWait      time.Duration `json:"max_wait" yaml:"max_wait"`
}

// DefaultConfig returns the default polling configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval: 2 * time.Second,
		MaxWait:      10 * time.Minute,
	}
}

// FailedError is returned when an action ends in the failed state.
type FailedError struct {
	ActionID string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("action %s failed", e.ActionID)
}

// TimeoutError is returned when an action does not finish within MaxWait.
type TimeoutError struct {
	ActionID   string
	Waited     time.Duration
	LastStatus controller.ActionStatus
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("action %s not finished after %s (last status %q)", e.ActionID, e.Waited, e.LastStatus)
}

// State is the observed progress of an action being awaited.
type State struct {
	ActionID   string                  `json:"action_id"`
	Status     controller.ActionStatus `json:"status"`
	Polls      int                     `json:"polls"`
	StartedAt  time.Time               `json:"started_at"`
	LastUpdate time.Time               `json:"last_update"`
}

// Tracker polls actions to a terminal state.
type Tracker struct {
	mu      sync.RWMutex
	client  StatusReader
	config  Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	active  map[string]*State
}

// NewTracker creates a new action tracker.
func NewTracker(client StatusReader, config Config, logger *zap.Logger, m *metrics.Metrics) *Tracker {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	return &Tracker{
		client:  client,
		config:  config,
		logger:  logger,
		metrics: m,
		active:  make(map[string]*State),
	}
}

// Await polls actionID every PollInterval, starting one interval from now,
// until it is done or failed. It returns a *FailedError alongside
// ActionFailed, a *TimeoutError once MaxWait has elapsed, and the context
// error if ctx ends first.
func (t *Tracker) Await(ctx context.Context, actionID string) (controller.ActionStatus, error) {
	waitCtx := ctx
	if t.config.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, t.config.MaxWait)
		defer cancel()
	}

	state := t.begin(actionID)
	defer t.end(actionID)

	ticker := time.NewTicker(t.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return t.expired(ctx, state)
		case <-ticker.C:
		}

		status, err := t.client.GetActionStatus(waitCtx, actionID)
		if err != nil {
			if waitCtx.Err() != nil {
				return t.expired(ctx, state)
			}
			return "", fmt.Errorf("failed to poll action %s: %w", actionID, err)
		}
		t.record(state, status)

		switch status {
		case controller.ActionDone:
			t.finished(state)
			return status, nil
		case controller.ActionFailed:
			t.finished(state)
			return status, &FailedError{ActionID: actionID}
		}
	}
}

func (t *Tracker) expired(ctx context.Context, state *State) (controller.ActionStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("stopped waiting for action %s: %w", state.ActionID, err)
	}

	t.mu.RLock()
	last := state.Status
	t.mu.RUnlock()

	waited := time.Since(state.StartedAt)
	t.metrics.ObserveActionWait("timeout", waited)
	t.logger.Warn("action did not finish in time",
		zap.String("action_id", state.ActionID),
		zap.Duration("waited", waited),
		zap.String("last_status", string(last)))
	return "", &TimeoutError{ActionID: state.ActionID, Waited: t.config.MaxWait, LastStatus: last}
}

func (t *Tracker) begin(actionID string) *State {
	now := time.Now()
	state := &State{ActionID: actionID, StartedAt: now, LastUpdate: now}

	t.mu.Lock()
	t.active[actionID] = state
	t.mu.Unlock()

	t.logger.Info("waiting for action", zap.String("action_id", actionID))
	return state
}

func (t *Tracker) record(state *State, status controller.ActionStatus) {
	t.mu.Lock()
	state.Status = status
	state.Polls++
	state.LastUpdate = time.Now()
	polls := state.Polls
	t.mu.Unlock()

	t.logger.Debug("polled action",
		zap.String("action_id", state.ActionID),
		zap.String("status", string(status)),
		zap.Int("polls", polls))
}

func (t *Tracker) finished(state *State) {
	elapsed := time.Since(state.StartedAt)
	t.metrics.ObserveActionWait(string(state.Status), elapsed)
	t.logger.Info("action finished",
		zap.String("action_id", state.ActionID),
		zap.String("status", string(state.Status)),
		zap.Int("polls", state.Polls),
		zap.Duration("elapsed", elapsed))
}

func (t *Tracker) end(actionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, actionID)
}

// GetState returns a copy of the state of an action currently awaited.
func (t *Tracker) GetState(actionID string) (*State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, ok := t.active[actionID]
	if !ok {
		return nil, false
	}
	copied := *state
	return &copied, true
}

// GetAllActive returns copies of all actions currently awaited.
func (t *Tracker) GetAllActive() []*State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make([]*State, 0, len(t.active))
	for _, state := range t.active {
		copied := *state
		states = append(states, &copied)
	}
	return states
}
