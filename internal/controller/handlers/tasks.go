package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"fieldtasks/internal/store"
	"fieldtasks/internal/worker"
	"fieldtasks/pkg/api"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxPayloadBytes = 1 << 20

// ErrorKindRejected marks jobs that were recorded but never queued.
const ErrorKindRejected = "rejected"

// SubmitTask returns the handler for PUT /<task>. The payload is validated
// against the endpoint, recorded as a pending job and handed to the worker
// pool; the caller gets 202 with the job id.
func (h *Handlers) SubmitTask(task string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer("fieldtasks/controller").Start(r.Context(), "submit_task",
			trace.WithAttributes(attribute.String("task", task)),
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		var req api.TaskRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes)).Decode(&req); err != nil {
			h.httpError(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if err := req.Validate(task); err != nil {
			h.respondJson(w, http.StatusBadRequest, api.ErrorResponse{
				Error:   "Invalid task payload",
				Code:    "400",
				Details: err.Error(),
			})
			return
		}

		job := &store.Job{
			ID:          uuid.New(),
			Task:        task,
			Status:      store.JobStatusPending,
			CallbackURL: req.CallbackURL,
			CreatedAt:   time.Now().UTC(),
		}
		span.SetAttributes(attribute.String("job.id", job.ID.String()))
		log := h.log(ctx).With("job_id", job.ID.String(), "task", task)

		if err := h.store.CreateJob(ctx, job); err != nil {
			log.Error("failed to record job", "error", err)
			span.SetStatus(codes.Error, "record job")
			h.httpError(w, "Failed to record job", http.StatusInternalServerError)
			return
		}

		if err := h.submitter.Submit(ctx, worker.Job{ID: job.ID, Request: &req}); err != nil {
			h.reject(r, job, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "submit job")

			if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrStopped) {
				w.Header().Set("Retry-After", "1")
				h.httpError(w, "Service is busy, try again later", http.StatusServiceUnavailable)
				return
			}
			h.httpError(w, "Failed to enqueue job", http.StatusInternalServerError)
			return
		}

		log.Info("task accepted", "callback_url", req.CallbackURL)
		h.respondJson(w, http.StatusAccepted, api.SubmitTaskResponse{JobID: job.ID.String()})
	}
}

// reject records a job that could not be queued as failed.
func (h *Handlers) reject(r *http.Request, job *store.Job, cause error) {
	kind := ErrorKindRejected
	message := cause.Error()
	result := store.JobResult{
		Status:       store.JobStatusFailed,
		ErrorKind:    &kind,
		ErrorMessage: &message,
		FinishedAt:   time.Now().UTC(),
	}
	if err := h.store.MarkFinished(r.Context(), job.ID, result); err != nil {
		h.log(r.Context()).Warn("failed to record rejected job", "job_id", job.ID.String(), "error", err)
	}
}
