package qcontrol

import (
	"context"
	"time"
)

// Job is one unit of fan-out work, usually a single qubit's pulse.
type Job struct {
	ID        string
	Fn        func(ctx context.Context) error
	StartTime time.Time
}

// JobResult is delivered to the submitter once a worker finished the job.
type JobResult struct {
	ID       string
	Err      error
	Duration time.Duration
}

type task struct {
	ctx  context.Context
	job  Job
	done func(JobResult)
}
