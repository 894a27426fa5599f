package domain

import (
	"fmt"
	"time"
)

// RunStatus enumerates the lifecycle of a persisted batch run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusRunning        RunStatus = "running"
	RunStatusSucceeded      RunStatus = "succeeded"
	RunStatusPartialFailure RunStatus = "partial_failure"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCanceled       RunStatus = "canceled"
)

// Terminal reports whether no further work will happen for the run.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusPartialFailure, RunStatusFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// RunMode selects which segments a run drains.
type RunMode string

const (
	RunModeAll         RunMode = "all"
	RunModeRetryFailed RunMode = "retry_failed"
)

// ParseRunMode defaults unknown input to RunModeAll.
func ParseRunMode(v string) RunMode {
	if RunMode(v) == RunModeRetryFailed {
		return RunModeRetryFailed
	}
	return RunModeAll
}

// Run is the persisted record of one batch submission.
type Run struct {
	ID              string
	Mode            RunMode
	Status          RunStatus
	Total           int
	Completed       int
	Message         string
	CancelRequested bool
	Outcome         *Outcome
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OutcomeStatus summarises how a batch ended.
type OutcomeStatus string

const (
	OutcomeSuccess        OutcomeStatus = "success"
	OutcomePartialFailure OutcomeStatus = "partial_failure"
	OutcomeCanceled       OutcomeStatus = "canceled"
)

// Failure records why a single segment failed.
type Failure struct {
	SegmentID string `json:"segment_id"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
}

// Outcome is the result of draining one batch queue. Failures are data, not
// errors.
type Outcome struct {
	Status    OutcomeStatus `json:"status"`
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Skipped   int           `json:"skipped"`
	Succeeded []string      `json:"succeeded"`
	Failed    []Failure     `json:"failed"`
}

// Success reports whether every attempted segment succeeded.
func (o Outcome) Success() bool {
	return o.Status == OutcomeSuccess
}

// Summary renders the user-facing message for the outcome.
func (o Outcome) Summary() string {
	switch o.Status {
	case OutcomeSuccess:
		return "Generation complete!"
	case OutcomeCanceled:
		return fmt.Sprintf("Generation canceled after %d of %d segments.", o.Completed, o.Total)
	default:
		return fmt.Sprintf("%d of %d segments failed to generate. Retry the failed segments.", len(o.Failed), o.Total)
	}
}

// RunStatus maps the outcome onto the persisted run status.
func (o Outcome) RunStatus() RunStatus {
	switch o.Status {
	case OutcomeSuccess:
		return RunStatusSucceeded
	case OutcomeCanceled:
		return RunStatusCanceled
	default:
		return RunStatusPartialFailure
	}
}
