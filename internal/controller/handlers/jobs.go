package handlers

import (
	"errors"
	"net/http"

	"fieldtasks/internal/store"
	"fieldtasks/pkg/api"

	"github.com/google/uuid"
)

// GetJob handles GET /jobs/{id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	job, err := h.store.GetJobByID(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		h.httpError(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log(ctx).Error("failed to load job", "job_id", jobID.String(), "error", err)
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, jobStatusResponse(job))
}

func jobStatusResponse(job *store.Job) api.JobStatusResponse {
	resp := api.JobStatusResponse{
		ID:          job.ID.String(),
		Task:        job.Task,
		Status:      string(job.Status),
		CallbackURL: job.CallbackURL,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		FinishedAt:  job.FinishedAt,
	}
	if job.Location != nil {
		resp.Location = *job.Location
	}
	if job.Status == store.JobStatusFailed {
		resp.Error = &api.TaskError{}
		if job.ErrorKind != nil {
			resp.Error.Kind = *job.ErrorKind
		}
		if job.ErrorMessage != nil {
			resp.Error.Message = *job.ErrorMessage
		}
		if job.Stderr != nil {
			resp.Error.Stderr = *job.Stderr
		}
	}
	return resp
}
