// Package handlers contains HTTP handlers for the task API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"fieldtasks/internal/logger"
	"fieldtasks/internal/store"
	"fieldtasks/internal/worker"
	"fieldtasks/pkg/api"
)

// Store combines the history operations the handlers need.
type Store interface {
	Ping(ctx context.Context) error
	store.JobStore
}

// Submitter accepts jobs for asynchronous execution.
type Submitter interface {
	Submit(ctx context.Context, job worker.Job) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store     Store
	submitter Submitter
	logger    *slog.Logger
}

// New creates a new Handlers instance.
func New(s Store, submitter Submitter, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{store: s, submitter: submitter, logger: log}
}

func (h *Handlers) log(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx, h.logger)
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}
