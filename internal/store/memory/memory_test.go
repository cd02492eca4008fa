package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fieldtasks/internal/outcome"
	"fieldtasks/internal/store"

	"github.com/google/uuid"
)

var _ store.Store = (*Store)(nil)

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	id := uuid.New()
	if err := s.CreateJob(ctx, &store.Job{
		ID:          id,
		Task:        "render_index",
		Status:      store.JobStatusPending,
		CallbackURL: "http://example.com/cb",
		CreatedAt:   time.Now(),
	}); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if err := s.MarkRunning(ctx, id, time.Now()); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}

	result := store.ResultFromOutcome(outcome.Success("file:///tmp/index.pdf"), time.Now())
	if err := s.MarkFinished(ctx, id, result); err != nil {
		t.Fatalf("MarkFinished failed: %v", err)
	}

	job, err := s.GetJobByID(ctx, id)
	if err != nil {
		t.Fatalf("GetJobByID failed: %v", err)
	}
	if job.Status != store.JobStatusSucceeded {
		t.Errorf("got status %s, want %s", job.Status, store.JobStatusSucceeded)
	}
	if job.Location == nil || *job.Location != "file:///tmp/index.pdf" {
		t.Errorf("got location %v", job.Location)
	}
	if job.StartedAt == nil || job.FinishedAt == nil {
		t.Error("expected timestamps to be set")
	}

	if err := s.MarkFinished(ctx, id, result); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected second MarkFinished to fail with ErrNotFound, got %v", err)
	}
}

func TestCreateJob_Duplicate(t *testing.T) {
	s := New()
	job := &store.Job{ID: uuid.New(), Status: store.JobStatusPending}
	if err := s.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if err := s.CreateJob(context.Background(), job); err == nil {
		t.Error("expected duplicate insert to fail")
	}
}

func TestGetJobByID_NotFound(t *testing.T) {
	_, err := New().GetJobByID(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFailureResult(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := uuid.New()
	_ = s.CreateJob(ctx, &store.Job{ID: id, Status: store.JobStatusPending})

	o := outcome.Failed(&outcome.Failure{
		Kind:    outcome.KindNonZeroExit,
		Message: "Exited with 2: gs",
		Stderr:  "bad pdf\n",
	})
	if err := s.MarkFinished(ctx, id, store.ResultFromOutcome(o, time.Now())); err != nil {
		t.Fatalf("MarkFinished failed: %v", err)
	}

	job, _ := s.GetJobByID(ctx, id)
	if job.Status != store.JobStatusFailed {
		t.Errorf("got status %s, want failed", job.Status)
	}
	if job.ErrorKind == nil || *job.ErrorKind != "non-zero-exit" {
		t.Errorf("got error kind %v", job.ErrorKind)
	}
	if job.ErrorMessage == nil || *job.ErrorMessage != "Exited with 2: gs" {
		t.Errorf("got error message %v", job.ErrorMessage)
	}
	if job.Stderr == nil || *job.Stderr != "bad pdf\n" {
		t.Errorf("got stderr %v", job.Stderr)
	}
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := uuid.New()
			if err := s.CreateJob(ctx, &store.Job{ID: id, Status: store.JobStatusPending}); err != nil {
				t.Errorf("CreateJob failed: %v", err)
				return
			}
			if err := s.MarkRunning(ctx, id, time.Now()); err != nil {
				t.Errorf("MarkRunning failed: %v", err)
			}
			if _, err := s.GetJobByID(ctx, id); err != nil {
				t.Errorf("GetJobByID failed: %v", err)
			}
		}()
	}
	wg.Wait()
}
