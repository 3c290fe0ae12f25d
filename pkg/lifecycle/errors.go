package lifecycle

import (
	"fmt"
	"strings"
)

// StepError names the workflow step that failed and the device or template it
// was acting on.
type StepError struct {
	Workflow string
	Step     string
	Subject  string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: step %s for %s: %v", e.Workflow, e.Step, e.Subject, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// RowError is the failure of one mapping row or rollout device.
type RowError struct {
	Row     int
	Subject string
	Err     error
}

func (e RowError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d (%s): %v", e.Row, e.Subject, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Subject, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}

// RowErrors collects the failed rows of a run.
type RowErrors []RowError

func (e RowErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d row(s) failed: %s", len(e), strings.Join(msgs, "; "))
}

// Unwrap exposes the row failures to errors.Is and errors.As.
func (e RowErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, err := range e {
		errs[i] = err
	}
	return errs
}

// RowResult is the outcome of one row.
type RowResult struct {
	Row     int    `json:"row,omitempty"`
	Subject string `json:"subject"`
	Err     error  `json:"-"`
}

// Report summarizes a run.
type Report struct {
	RunID    string
	Workflow string
	Rows     []RowResult
}

// Succeeded returns the number of rows without error.
func (r *Report) Succeeded() int {
	n := 0
	for _, row := range r.Rows {
		if row.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the number of rows with an error.
func (r *Report) Failed() int {
	return len(r.Rows) - r.Succeeded()
}

// Err returns the failed rows as RowErrors, or nil.
func (r *Report) Err() error {
	var errs RowErrors
	for _, row := range r.Rows {
		if row.Err != nil {
			errs = append(errs, RowError{Row: row.Row, Subject: row.Subject, Err: row.Err})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}
