package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("job not found")

// JobStore handles the persistence of the job history.
type JobStore interface {
	// CreateJob inserts a new pending job.
	CreateJob(ctx context.Context, job *Job) error

	// GetJobByID returns a job by its ID, or ErrNotFound.
	GetJobByID(ctx context.Context, id uuid.UUID) (*Job, error)

	// MarkRunning moves a pending job to running.
	MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error

	// MarkFinished records the terminal result of a job.
	MarkFinished(ctx context.Context, id uuid.UUID, result JobResult) error
}

// Store is the full history backend used by the server.
type Store interface {
	JobStore

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}
