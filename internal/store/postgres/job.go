package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fieldtasks/internal/store"

	"github.com/google/uuid"
)

const jobColumns = "id, task, status, callback_url, location, error_kind, error_message, stderr, created_at, started_at, finished_at"

// CreateJob inserts a new pending job row.
func (s *Store) CreateJob(ctx context.Context, job *store.Job) error {
	query := `
		INSERT INTO jobs (id, task, status, callback_url, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Task,
		job.Status,
		job.CallbackURL,
		job.CreatedAt,
	)
	return err
}

func (s *Store) GetJobByID(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE id = $1"

	var job store.Job
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.Task, &job.Status, &job.CallbackURL,
		&job.Location, &job.ErrorKind, &job.ErrorMessage, &job.Stderr,
		&job.CreatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &job, nil
}

// MarkRunning moves a pending job to running.
func (s *Store) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := `
		UPDATE jobs
		SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4
	`

	res, err := s.db.ExecContext(ctx, query, store.JobStatusRunning, startedAt, id, store.JobStatusPending)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

// MarkFinished records the terminal result of a job. Jobs that already
// reached a terminal status are left untouched.
func (s *Store) MarkFinished(ctx context.Context, id uuid.UUID, result store.JobResult) error {
	query := `
		UPDATE jobs
		SET status = $1, location = $2, error_kind = $3, error_message = $4, stderr = $5, finished_at = $6
		WHERE id = $7 AND status NOT IN ($8, $9)
	`

	res, err := s.db.ExecContext(ctx, query,
		result.Status,
		result.Location,
		result.ErrorKind,
		result.ErrorMessage,
		result.Stderr,
		result.FinishedAt,
		id,
		store.JobStatusSucceeded,
		store.JobStatusFailed,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, store.ErrNotFound)
	}
	return nil
}
