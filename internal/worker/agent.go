// Package worker runs accepted tasks on a bounded pool of goroutines.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"fieldtasks/internal/outcome"
	"fieldtasks/internal/store"
	"fieldtasks/pkg/api"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("job queue is full")

	// ErrStopped is returned by Submit once the agent is shutting down.
	ErrStopped = errors.New("worker is stopped")
)

// Runner executes one task request.
type Runner interface {
	Run(ctx context.Context, jobID string, req *api.TaskRequest) (api.TaskResponse, outcome.Outcome)
}

// Notifier delivers a task response to its callback URL.
type Notifier interface {
	Notify(ctx context.Context, callbackURL string, rsp api.TaskResponse) error
}

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	Concurrency int // Maximum tasks running at once (default: CPU count)
	QueueSize   int // Accepted tasks waiting for a slot (default: 256)
	Logger      *slog.Logger
}

// Job is a task accepted by the front end.
type Job struct {
	ID      uuid.UUID
	Request *api.TaskRequest

	trace propagation.MapCarrier
}

// Agent pulls accepted jobs off an in-memory queue and runs them.
type Agent struct {
	runner   Runner
	notifier Notifier
	jobs     store.JobStore
	config   AgentConfig
	logger   *slog.Logger
	tracer   trace.Tracer

	queue   chan Job
	mu      sync.RWMutex
	stopped bool
	done    chan struct{}
}

// New creates a new worker agent.
func New(runner Runner, notifier Notifier, jobs store.JobStore, config AgentConfig) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = runtime.NumCPU()
	}

	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	a := &Agent{
		runner:   runner,
		notifier: notifier,
		jobs:     jobs,
		config:   config,
		logger:   config.Logger,
		tracer:   otel.Tracer("fieldtasks/worker"),
		queue:    make(chan Job, config.QueueSize),
		done:     make(chan struct{}),
	}
	a.registerMetrics()
	return a
}

func (a *Agent) registerMetrics() {
	meter := otel.Meter("fieldtasks/worker")
	_, err := meter.Int64ObservableGauge("fieldtasks.queue.depth",
		metric.WithDescription("Accepted tasks waiting for a worker slot"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(len(a.queue)))
			return nil
		}),
	)
	if err != nil {
		a.logger.Warn("failed to register queue depth gauge", "error", err)
	}
}

// Submit enqueues job without blocking. The caller's trace context is carried
// over to the span that processes the job.
func (a *Agent) Submit(ctx context.Context, job Job) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.stopped {
		return ErrStopped
	}

	job.trace = propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, job.trace)

	select {
	case a.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run dispatches queued jobs until ctx is cancelled. On shutdown it stops
// accepting new jobs, runs everything already queued and waits for in-flight
// jobs to finish.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("worker starting", "concurrency", a.config.Concurrency, "queue_size", a.config.QueueSize)

	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	dispatch := func(job Job) {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			a.process(job)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			a.mu.Lock()
			a.stopped = true
			a.mu.Unlock()

			a.logger.Info("context cancelled, draining queued jobs", "queued", len(a.queue))
			for {
				select {
				case job := <-a.queue:
					dispatch(job)
					continue
				default:
				}
				break
			}

			wg.Wait()
			close(a.done)
			return ctx.Err()

		case job := <-a.queue:
			dispatch(job)
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// process runs a single job. Its context is independent of Run's.
func (a *Agent) process(job Job) {
	traceCtx := context.Background()
	if job.trace != nil {
		traceCtx = otel.GetTextMapPropagator().Extract(traceCtx, job.trace)
	}

	ctx, span := a.tracer.Start(traceCtx, "process_task",
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.String("task", job.Request.Task),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	logger := a.logger.With("job_id", job.ID.String(), "task", job.Request.Task)
	logger.Info("processing task")

	if err := a.jobs.MarkRunning(ctx, job.ID, time.Now()); err != nil {
		logger.Warn("failed to mark job running", "error", err)
	}

	rsp, o := a.runner.Run(ctx, job.ID.String(), job.Request)

	if err := a.jobs.MarkFinished(ctx, job.ID, store.ResultFromOutcome(o, time.Now())); err != nil {
		logger.Warn("failed to record job result", "error", err)
	}

	if o.Succeeded() {
		logger.Info("task succeeded", "location", o.Location)
	} else {
		span.RecordError(o.Failure)
		span.SetStatus(codes.Error, string(o.Failure.Kind))
		logger.Error("task failed", "kind", o.Failure.Kind, "error", o.Failure.Message)
	}

	if err := a.notifier.Notify(ctx, job.Request.CallbackURL, rsp); err != nil {
		span.RecordError(err)
		logger.Error("failed to deliver callback", "callback_url", job.Request.CallbackURL, "error", err)
	}
}
