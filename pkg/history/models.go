package history

import (
	"time"
)

// RunStatus represents the status of a workflow run
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// StatusFor derives the run status from its row counts.
func StatusFor(succeeded, failed int) RunStatus {
	switch {
	case failed == 0:
		return RunStatusSuccess
	case succeeded == 0:
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}

// WorkflowRun is one invocation of a lifecycle workflow.
type WorkflowRun struct {
	ID          string     `gorm:"primaryKey;size:64" json:"id"`
	Workflow    string     `gorm:"size:32;not null;index" json:"workflow"`
	Detail      string     `gorm:"size:255" json:"detail,omitempty"`
	Status      RunStatus  `gorm:"type:enum('running','success','partial','failed');default:'running'" json:"status"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Error       string     `gorm:"type:text" json:"error,omitempty"`
	StartedAt   time.Time  `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Steps []StepRecord `gorm:"foreignKey:RunID" json:"steps,omitempty"`
}

// TableName returns the table name for WorkflowRun
func (WorkflowRun) TableName() string {
	return "workflow_runs"
}

// Duration returns the run duration
func (r *WorkflowRun) Duration() *time.Duration {
	if r.CompletedAt == nil {
		return nil
	}
	d := r.CompletedAt.Sub(r.StartedAt)
	return &d
}

// StepRecord is one workflow step acting on a device or template.
type StepRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID      string    `gorm:"size:64;not null;index" json:"run_id"`
	Step       string    `gorm:"size:64;not null" json:"step"`
	Subject    string    `gorm:"size:255;index" json:"subject"`
	Success    bool      `json:"success"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	RecordedAt time.Time `gorm:"not null" json:"recorded_at"`
}

// TableName returns the table name for StepRecord
func (StepRecord) TableName() string {
	return "workflow_steps"
}
