// Package memory implements an in-process job history, used when no
// database is configured.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fieldtasks/internal/store"

	"github.com/google/uuid"
)

// Store keeps jobs in a map. It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]store.Job
}

// New creates an empty Store.
func New() *Store {
	return &Store{jobs: make(map[uuid.UUID]store.Job)}
}

func (s *Store) CreateJob(_ context.Context, job *store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *Store) GetJobByID(_ context.Context, id uuid.UUID) (*store.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &job, nil
}

func (s *Store) MarkRunning(_ context.Context, id uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != store.JobStatusPending {
		return fmt.Errorf("job %s: %w", id, store.ErrNotFound)
	}
	job.Status = store.JobStatusRunning
	job.StartedAt = &startedAt
	s.jobs[id] = job
	return nil
}

func (s *Store) MarkFinished(_ context.Context, id uuid.UUID, result store.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.Terminal() {
		return fmt.Errorf("job %s: %w", id, store.ErrNotFound)
	}
	finishedAt := result.FinishedAt
	job.Status = result.Status
	job.Location = result.Location
	job.ErrorKind = result.ErrorKind
	job.ErrorMessage = result.ErrorMessage
	job.Stderr = result.Stderr
	job.FinishedAt = &finishedAt
	s.jobs[id] = job
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
