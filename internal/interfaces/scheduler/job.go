package scheduler

import "context"

// Job is a unit of work executed by the worker pool. Different job types can
// be scheduled (refresh jobs, cleanup jobs, notification jobs).
type Job interface {
	// Execute runs the job. The context carries the job timeout and is
	// cancelled on shutdown.
	Execute(ctx context.Context) error

	// UserID returns the user this job works on behalf of, for logging.
	UserID() string

	// Description returns a human-readable description of the job.
	Description() string
}
