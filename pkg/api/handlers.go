package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourorg/edge-orchestrator/pkg/action"
	"github.com/yourorg/edge-orchestrator/pkg/rollout"
)

// RunSource reports workflow run progress.
type RunSource interface {
	GetAllActive() []*rollout.RunState
	GetRecent() []*rollout.RunState
	GetState(runID string) *rollout.RunState
	GetProgress(runID string) float64
}

// ActionSource reports controller actions being awaited.
type ActionSource interface {
	GetAllActive() []*action.State
}

// Handlers contains all API handlers
type Handlers struct {
	logger  *zap.Logger
	runs    RunSource
	actions ActionSource
	ready   func(ctx context.Context) error
}

// NewHandlers creates new API handlers
func NewHandlers(logger *zap.Logger, runs RunSource, actions ActionSource, ready func(ctx context.Context) error) *Handlers {
	return &Handlers{
		logger:  logger,
		runs:    runs,
		actions: actions,
		ready:   ready,
	}
}

// HealthCheck returns the health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// Readiness returns the readiness status
func (h *Handlers) Readiness(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			h.logger.Warn("readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready": false,
				"error": err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"ready": true,
	})
}

// RunView is a run with its completion percentage.
type RunView struct {
	*rollout.RunState
	Progress float64 `json:"progress"`
}

// ListRuns lists active runs and the most recent finished ones
func (h *Handlers) ListRuns(c *gin.Context) {
	limit := getIntParam(c, "limit", 20)

	active := h.runs.GetAllActive()
	views := make([]RunView, 0, len(active))
	for _, state := range active {
		views = append(views, RunView{RunState: state, Progress: h.runs.GetProgress(state.RunID)})
	}

	recent := h.runs.GetRecent()
	if limit >= 0 && len(recent) > limit {
		recent = recent[:limit]
	}

	c.JSON(http.StatusOK, gin.H{
		"active": views,
		"recent": recent,
	})
}

// GetRun returns one run
func (h *Handlers) GetRun(c *gin.Context) {
	runID := c.Param("run_id")

	state := h.runs.GetState(runID)
	if state == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	c.JSON(http.StatusOK, RunView{RunState: state, Progress: h.runs.GetProgress(runID)})
}

// ListActions lists controller actions currently awaited
func (h *Handlers) ListActions(c *gin.Context) {
	var states []*action.State
	if h.actions != nil {
		states = h.actions.GetAllActive()
	}
	if states == nil {
		states = []*action.State{}
	}
	c.JSON(http.StatusOK, gin.H{
		"actions": states,
		"total":   len(states),
	})
}

func getIntParam(c *gin.Context, key string, defaultValue int) int {
	val := c.Query(key)
	if val == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return i
}
