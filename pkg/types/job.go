package types

import "encoding/json"

// JobState is the server-reported state of an asynchronous job. A job starts
// PROCESSING upon submission and transitions to COMPLETE or FAILED strictly
// via server-reported state; the client never infers completion any other
// way.
type JobState string

const (
	JobStateProcessing JobState = "PROCESSING"
	JobStateFailed     JobState = "FAILED"
	JobStateComplete   JobState = "COMPLETE"
)

// Terminal reports whether the state ends the job's lifecycle.
func (s JobState) Terminal() bool {
	return s == JobStateFailed || s == JobStateComplete
}

// JobStatus is one observation of an asynchronous server-side job.
type JobStatus struct {
	// ID is the server-assigned job identifier.
	ID string `json:"job_id"`

	// State is the server-reported job state.
	State JobState `json:"state"`

	// ProgressMessage describes the current processing phase.
	ProgressMessage string `json:"progress_message,omitempty"`

	// ProgressCurrent is the units of work completed so far.
	ProgressCurrent int64 `json:"progress_current,omitempty"`

	// ProgressTotal is the total units of work, when known.
	ProgressTotal int64 `json:"progress_total,omitempty"`

	// ErrorMessage carries the failure summary when State is FAILED.
	ErrorMessage string `json:"error_message,omitempty"`

	// ErrorDetails carries the full failure detail when State is FAILED.
	ErrorDetails string `json:"error_details,omitempty"`

	// ResponseBody is the job result when State is COMPLETE.
	ResponseBody json.RawMessage `json:"response_body,omitempty"`
}

// ProgressFunc receives progress observations from long-running operations.
// A nil ProgressFunc is silent.
type ProgressFunc func(message string, current, total int64)
