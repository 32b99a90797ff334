// Package jobs drives asynchronous server-side jobs to a terminal state.
//
// The polling loop resets its deadline whenever the job reports progress, so
// a long but healthy job (a large bulk upload, say) is never killed merely
// for taking a long time. Only jobs that stop reporting progress for the
// full timeout are abandoned.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tessera/tessera/internal/errors"
	"github.com/tessera/tessera/internal/remote"
	"github.com/tessera/tessera/pkg/types"
)

// API is the subset of the remote surface the driver consumes.
type API interface {
	SubmitJob(ctx context.Context, kind remote.JobKind, entityID string, body any) (string, error)
	GetJobStatus(ctx context.Context, kind remote.JobKind, entityID, jobID string) (*types.JobStatus, error)
}

// Driver submits long-running requests and polls them to completion.
type Driver struct {
	api          API
	pollInterval time.Duration
}

// NewDriver creates a driver polling at the given interval.
func NewDriver(api API, pollInterval time.Duration) *Driver {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Driver{api: api, pollInterval: pollInterval}
}

// Run submits the request and waits for the job to reach a terminal state.
func (d *Driver) Run(ctx context.Context, kind remote.JobKind, entityID string, body any, timeout time.Duration, progress types.ProgressFunc) (json.RawMessage, error) {
	jobID, err := d.api.SubmitJob(ctx, kind, entityID, body)
	if err != nil {
		return nil, fmt.Errorf("jobs: failed to submit %s job: %w", kind, err)
	}
	return d.Wait(ctx, kind, entityID, jobID, timeout, progress)
}

// Wait polls the job until it completes, fails, or stalls past the timeout.
//
// On every PROCESSING observation the (message, current) pair is compared to
// the previous observation; a change reports progress to the sink and resets
// the deadline clock. FAILED raises a job error carrying the server's error
// message and details; a stall past timeout raises a timeout error carrying
// the total elapsed duration.
func (d *Driver) Wait(ctx context.Context, kind remote.JobKind, entityID, jobID string, timeout time.Duration, progress types.ProgressFunc) (json.RawMessage, error) {
	start := time.Now()
	lastProgress := start
	var lastMessage string
	var lastCurrent int64
	seen := false

	for {
		status, err := d.api.GetJobStatus(ctx, kind, entityID, jobID)
		if err != nil {
			return nil, fmt.Errorf("jobs: failed to poll %s job %s: %w", kind, jobID, err)
		}

		switch status.State {
		case types.JobStateComplete:
			return status.ResponseBody, nil

		case types.JobStateFailed:
			return nil, errors.NewJobError(jobID, status.ErrorMessage, status.ErrorDetails)

		case types.JobStateProcessing:
			if !seen || status.ProgressMessage != lastMessage || status.ProgressCurrent != lastCurrent {
				seen = true
				lastMessage = status.ProgressMessage
				lastCurrent = status.ProgressCurrent
				lastProgress = time.Now()
				if progress != nil {
					progress(status.ProgressMessage, status.ProgressCurrent, status.ProgressTotal)
				}
			} else if time.Since(lastProgress) > timeout {
				return nil, errors.NewTimeoutError(errors.CodeJobTimeout,
					fmt.Sprintf("%s job %s made no progress for %s", kind, jobID, timeout),
					time.Since(start))
			}

		default:
			return nil, fmt.Errorf("jobs: %s job %s reported unknown state %q", kind, jobID, status.State)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.pollInterval):
		}
	}
}
