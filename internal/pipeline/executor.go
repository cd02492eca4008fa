// Package pipeline runs a chain of supervised processes whose final output
// streams into a persistence sink, and reduces every completion and failure
// signal of the chain into exactly one outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"fieldtasks/internal/outcome"
	"fieldtasks/internal/persist"
	"fieldtasks/internal/process"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Job is one pipeline run.
type Job struct {
	ID          string
	Stages      []process.Spec
	Destination persist.Destination

	// Input, when set, is streamed into the first stage's stdin. Run takes
	// ownership and closes it if it is an io.Closer.
	Input io.Reader
}

// Config configures an Executor.
type Config struct {
	Logger *slog.Logger

	// KillGrace is how long a stage stopped after a failure may take to
	// exit before its group is sent SIGKILL (default: 5s).
	KillGrace time.Duration
}

// Executor runs pipelines.
type Executor struct {
	supervisor *process.Supervisor
	sink       persist.Sink
	logger     *slog.Logger
	killGrace  time.Duration
	tracer     trace.Tracer
	metrics    *metrics
}

// New creates an Executor writing to sink.
func New(supervisor *process.Supervisor, sink persist.Sink, cfg Config) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	return &Executor{
		supervisor: supervisor,
		sink:       sink,
		logger:     cfg.Logger,
		killGrace:  cfg.KillGrace,
		tracer:     otel.Tracer("fieldtasks/pipeline"),
		metrics:    newMetrics(cfg.Logger),
	}
}

// Run executes job and returns its outcome. Run returns only after every
// stage has exited and the sink write has been released.
func (e *Executor) Run(ctx context.Context, job Job) outcome.Outcome {
	ctx, span := e.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.Int("pipeline.stages", len(job.Stages)),
			attribute.String("sink.key", job.Destination.Key),
		),
	)
	defer span.End()

	start := time.Now()
	o := e.run(ctx, job)
	e.metrics.record(ctx, o, time.Since(start))

	if o.Succeeded() {
		span.SetAttributes(attribute.String("sink.location", o.Location))
	} else {
		span.SetAttributes(attribute.String("failure.kind", string(o.Failure.Kind)))
		span.RecordError(o.Failure)
		span.SetStatus(codes.Error, o.Failure.Message)
	}
	return o
}

func (e *Executor) run(ctx context.Context, job Job) outcome.Outcome {
	r := &execution{
		executor: e,
		job:      job,
		logger:   e.logger.With("job_id", job.ID),
		latch:    outcome.NewLatch[outcome.Outcome](),
	}

	if len(job.Stages) == 0 {
		r.closeInput()
		return outcome.Failed(outcome.Failf(outcome.KindSpawn, "pipeline has no stages"))
	}

	// Stages and the sink outlive ctx; cancellation is handled below so that
	// it goes through the same stop path as every other failure.
	procCtx := context.WithoutCancel(ctx)

	var upstream *os.File
	for _, spec := range job.Stages {
		h, err := e.supervisor.Start(procCtx, spec, upstream)
		if upstream != nil {
			// The child holds its own copy now.
			upstream.Close()
		}
		if err != nil {
			r.fail(&outcome.Failure{
				Kind:    outcome.KindSpawn,
				Message: fmt.Sprintf("%s failed to start: %v", outcome.CommandLine(spec.Command, spec.Args), err),
				Command: spec.Command,
				Args:    spec.Args,
				Err:     err,
			})
			if len(r.stages) > 0 {
				r.stages[0].Stdin().Close()
			}
			r.wg.Wait()
			return r.result()
		}
		r.stages = append(r.stages, h)
		upstream = h.Stdout()
	}

	last := r.stages[len(r.stages)-1]
	r.upload = e.sink.Write(procCtx, job.Destination, &stageReader{
		r:      last.Stdout(),
		settle: r.settle,
		failed: func(err error) { r.streamFailed(last, err) },
	})

	for _, h := range r.stages {
		r.wg.Add(1)
		go r.watch(h)
	}

	r.wg.Add(1)
	go r.feed(r.stages[0].Stdin())

	r.wg.Add(1)
	go r.persisted(last)

	select {
	case <-r.latch.Done():
	case <-ctx.Done():
		r.fail(&outcome.Failure{
			Kind:    outcome.KindCanceled,
			Message: fmt.Sprintf("pipeline canceled: %v", ctx.Err()),
			Err:     ctx.Err(),
		})
	}

	r.wg.Wait()
	return r.result()
}

// execution is the state of one pipeline execution.
type execution struct {
	executor *Executor
	job      Job
	logger   *slog.Logger
	stages   []*process.Handle
	upload   persist.Handle
	latch    *outcome.Latch[outcome.Outcome]

	wg        sync.WaitGroup
	stopOnce  sync.Once
	inputOnce sync.Once
}

func (r *execution) result() outcome.Outcome {
	o, _ := r.latch.Value()
	return o
}

// fail aborts the sink with f, offers f to the job latch and stops every
// stage that is still running. Only the first failure is reported.
func (r *execution) fail(f *outcome.Failure) {
	if r.upload != nil {
		r.upload.Abort(f)
	}
	if r.latch.Resolve(outcome.Failed(f)) {
		r.logger.Warn("pipeline failed",
			"kind", f.Kind,
			"error", f.Message,
			"stderr", f.Stderr,
		)
	}
	r.stop()
}

func (r *execution) stop() {
	r.stopOnce.Do(func() {
		r.closeInput()
		for _, h := range r.stages {
			r.wg.Add(1)
			go func(h *process.Handle) {
				defer r.wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), r.executor.killGrace)
				defer cancel()
				if err := h.Stop(ctx); err != nil {
					r.logger.Warn("failed to stop stage", "command", h.Command(), "error", err)
				}
			}(h)
		}
	})
}

func (r *execution) closeInput() {
	r.inputOnce.Do(func() {
		if c, ok := r.job.Input.(io.Closer); ok {
			if err := c.Close(); err != nil {
				r.logger.Debug("closing pipeline input", "error", err)
			}
		}
	})
}

// watch turns a stage's exit into a failure when it is non-zero, signaled or
// timed out. A clean exit does nothing on its own.
func (r *execution) watch(h *process.Handle) {
	defer r.wg.Done()

	<-h.Done()
	if !Failed(h) {
		return
	}
	r.fail(ExitFailure(h, h.Exit()))
}

// Failed reports whether an exited stage failed. A stage that hit its
// timeout has failed even when it exited 0 on the termination signal.
func Failed(h *process.Handle) bool {
	return h.TimedOut() || !h.Exit().Success()
}

// ExitFailure describes a stage that exited unsuccessfully.
func ExitFailure(h *process.Handle, status process.ExitStatus) *outcome.Failure {
	cmdline := outcome.CommandLine(h.Command(), h.Args())
	f := &outcome.Failure{
		Command:  h.Command(),
		Args:     h.Args(),
		Stderr:   h.Diagnostics().String(),
		TimedOut: h.TimedOut(),
	}

	if status.Signal != 0 || f.TimedOut {
		f.Kind = outcome.KindSignaled
	} else {
		f.Kind = outcome.KindNonZeroExit
	}

	switch {
	case f.TimedOut:
		f.Message = fmt.Sprintf("Timed out after %s (%s): %s", h.Spec().Timeout, status, cmdline)
	case status.Signal != 0:
		f.Message = fmt.Sprintf("Exited after %s: %s", process.SignalName(status.Signal), cmdline)
	default:
		f.Message = fmt.Sprintf("Exited with %d: %s", status.Code, cmdline)
	}
	return f
}

// feed copies the job input into the first stage. Without input the stage
// sees EOF immediately.
func (r *execution) feed(stdin io.WriteCloser) {
	defer r.wg.Done()
	defer stdin.Close()

	if r.job.Input == nil {
		return
	}
	defer r.closeInput()

	src := &trackedReader{r: r.job.Input}
	if _, err := io.Copy(stdin, src); err != nil {
		if src.err != nil {
			first := r.stages[0]
			r.fail(&outcome.Failure{
				Kind:    outcome.KindUpstreamFetch,
				Message: fmt.Sprintf("fetching input for %s failed: %v", first.Command(), src.err),
				Command: first.Command(),
				Args:    first.Args(),
				Err:     src.err,
			})
			return
		}
		// The stage stopped reading; its exit status tells the story.
		r.logger.Debug("first stage closed stdin early", "error", err)
	}
}

// persisted reconciles the sink result with the stages' exit statuses.
func (r *execution) persisted(last *process.Handle) {
	defer r.wg.Done()

	<-r.upload.Done()
	res := r.upload.Result()
	last.Stdout().Close()

	if res.Err != nil {
		var f *outcome.Failure
		if errors.As(res.Err, &f) {
			// Aborted with the originating failure.
			r.latch.Resolve(outcome.Failed(f))
			return
		}
		for _, h := range r.stages {
			if h.TimedOut() || r.exitedWithFailure(h) {
				// The stage's own exit reports the failure.
				r.stop()
				return
			}
		}
		r.fail(&outcome.Failure{
			Kind:    outcome.KindSink,
			Message: fmt.Sprintf("persisting %s failed: %v", r.job.Destination.Key, res.Err),
			Command: last.Command(),
			Args:    last.Args(),
			Err:     res.Err,
		})
		return
	}

	// Claim success only once every stage has exited cleanly; a failing
	// stage is reported by its watcher.
	for _, h := range r.stages {
		<-h.Done()
		if Failed(h) {
			return
		}
	}
	if r.latch.Resolve(outcome.Success(res.Location)) {
		r.logger.Info("pipeline succeeded", "location", res.Location)
	}
}

// settle is called when the final stage's stdout reaches EOF. It holds the
// EOF back until every stage has exited so that a sink never commits the
// output of a failed pipeline.
func (r *execution) settle() error {
	for _, h := range r.stages {
		<-h.Done()
		if Failed(h) {
			return errStageFailed
		}
	}
	return nil
}

func (r *execution) exitedWithFailure(h *process.Handle) bool {
	select {
	case <-h.Done():
		return Failed(h)
	default:
		return false
	}
}

// streamFailed handles a read error on the final stage's stdout.
func (r *execution) streamFailed(h *process.Handle, err error) {
	if h.TimedOut() || r.latch.Claimed() {
		return
	}
	r.fail(&outcome.Failure{
		Kind:    outcome.KindStream,
		Message: fmt.Sprintf("reading output of %s failed: %v", outcome.CommandLine(h.Command(), h.Args()), err),
		Command: h.Command(),
		Args:    h.Args(),
		Stderr:  h.Diagnostics().String(),
		Err:     err,
	})
}

var errStageFailed = errors.New("pipeline stage failed")

// stageReader wraps the final stage's stdout. EOF is passed through only
// once settle agrees; other read errors are reported to failed once.
type stageReader struct {
	r      io.Reader
	once   sync.Once
	settle func() error
	failed func(error)
}

func (s *stageReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	switch {
	case err == io.EOF:
		if serr := s.settle(); serr != nil {
			return n, serr
		}
	case err != nil:
		s.once.Do(func() { s.failed(err) })
	}
	return n, err
}

// trackedReader remembers the first non-EOF read error so it can be told
// apart from a write error during io.Copy.
type trackedReader struct {
	r   io.Reader
	err error
}

func (t *trackedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}
