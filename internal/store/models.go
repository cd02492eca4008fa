// Package store contains the job history layer for fieldtasks.
package store

import (
	"time"

	"fieldtasks/internal/outcome"

	"github.com/google/uuid"
)

// Job is one accepted task submission and its lifecycle.
type Job struct {
	ID           uuid.UUID
	Task         string
	Status       JobStatus
	CallbackURL  string
	Location     *string
	ErrorKind    *string
	ErrorMessage *string
	Stderr       *string
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// JobStatus represents the state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// JobResult is the terminal state recorded for a job.
type JobResult struct {
	Status       JobStatus
	Location     *string
	ErrorKind    *string
	ErrorMessage *string
	Stderr       *string
	FinishedAt   time.Time
}

// ResultFromOutcome converts a pipeline outcome into a JobResult.
func ResultFromOutcome(o outcome.Outcome, finishedAt time.Time) JobResult {
	if o.Succeeded() {
		location := o.Location
		return JobResult{
			Status:     JobStatusSucceeded,
			Location:   &location,
			FinishedAt: finishedAt,
		}
	}

	kind := string(o.Failure.Kind)
	message := o.Failure.Message
	if message == "" && o.Failure.Err != nil {
		message = o.Failure.Err.Error()
	}
	res := JobResult{
		Status:       JobStatusFailed,
		ErrorKind:    &kind,
		ErrorMessage: &message,
		FinishedAt:   finishedAt,
	}
	if o.Failure.Stderr != "" {
		stderr := o.Failure.Stderr
		res.Stderr = &stderr
	}
	return res
}
