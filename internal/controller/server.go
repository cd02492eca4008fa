// Package controller contains the HTTP front end of the task service.
package controller

import (
	"context"
	"net/http"
	"time"

	"fieldtasks/internal/controller/handlers"
	"fieldtasks/internal/controller/middleware"
	"fieldtasks/pkg/api"
)

// Options configures the server's optional middleware and endpoints.
type Options struct {
	APIToken       string       // Bearer token for task and job routes; empty disables auth
	RateLimit      float64      // Requests per second per client; 0 is unlimited
	RateLimitBurst int
	Metrics        http.Handler // Served at /metrics when set
}

// Server is the HTTP server for the task API.
type Server struct {
	httpServer *http.Server
}

// New creates a new server.
func New(addr string, h *handlers.Handlers, opts Options) *Server {
	protect := func(next http.Handler) http.Handler { return next }
	if opts.APIToken != "" {
		protect = middleware.RequireToken(opts.APIToken)
	}
	limit := middleware.NewRateLimiter(opts.RateLimit, opts.RateLimitBurst).Middleware()

	mux := http.NewServeMux()

	for _, task := range api.Tasks {
		mux.Handle("PUT /"+task, limit(protect(h.SubmitTask(task))))
	}
	mux.Handle("GET /jobs/{id}", protect(http.HandlerFunc(h.GetJob)))

	// Probes
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)

	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      middleware.RequestID(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
