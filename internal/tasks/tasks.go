// Package tasks turns validated task payloads into pipelines, runs them and
// maps their outcome into the response envelope sent to the callback URL.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"fieldtasks/internal/outcome"
	"fieldtasks/internal/pipeline"
	"fieldtasks/internal/process"
	"fieldtasks/pkg/api"
)

// Executor runs a pipeline to completion.
type Executor interface {
	Run(ctx context.Context, job pipeline.Job) outcome.Outcome
}

// Programs names the external programs the tasks invoke.
type Programs struct {
	CreatePage    string
	CreateIndex   string
	Ghostscript   string
	Convert       string
	GDALTranslate string
	Python        string
	Zbar          string
}

// Config configures a Runner.
type Config struct {
	PaperDir   string
	DecoderDir string
	APIBaseURL string

	// Timeout bounds every stage (default: 120s).
	Timeout time.Duration

	// Programs overrides the default program names.
	Programs Programs

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.PaperDir == "" {
		c.PaperDir = "/opt/paper"
	}
	if c.DecoderDir == "" {
		c.DecoderDir = "/app/decoder"
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = "http://fieldpapers.org/"
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	p := &c.Programs
	if p.CreatePage == "" {
		p.CreatePage = filepath.Join(c.PaperDir, "create_page.py")
	}
	if p.CreateIndex == "" {
		p.CreateIndex = filepath.Join(c.PaperDir, "create_index.py")
	}
	if p.Ghostscript == "" {
		p.Ghostscript = "gs"
	}
	if p.Convert == "" {
		p.Convert = "convert"
	}
	if p.GDALTranslate == "" {
		p.GDALTranslate = "gdal_translate"
	}
	if p.Python == "" {
		p.Python = "python3"
	}
	if p.Zbar == "" {
		p.Zbar = "zbarimg"
	}
}

// Runner executes tasks.
type Runner struct {
	executor   Executor
	supervisor *process.Supervisor
	fetcher    *Fetcher
	cfg        Config
	logger     *slog.Logger
}

// NewRunner creates a Runner. The supervisor is used directly by tasks that
// capture a program's output instead of persisting it.
func NewRunner(executor Executor, supervisor *process.Supervisor, fetcher *Fetcher, cfg Config) *Runner {
	cfg.setDefaults()
	return &Runner{
		executor:   executor,
		supervisor: supervisor,
		fetcher:    fetcher,
		cfg:        cfg,
		logger:     cfg.Logger,
	}
}

// Run executes req and returns the callback envelope together with the raw
// outcome. The request must already be validated.
func (r *Runner) Run(ctx context.Context, jobID string, req *api.TaskRequest) (api.TaskResponse, outcome.Outcome) {
	logger := r.logger.With("job_id", jobID, "task", req.Task)
	logger.Info("running task")

	var (
		rsp api.TaskResponse
		o   outcome.Outcome
	)

	switch req.Task {
	case api.TaskRenderPage:
		rsp, o = r.renderPage(ctx, jobID, req.Page)
	case api.TaskRenderIndex:
		rsp, o = r.renderIndex(ctx, jobID, req.Page)
	case api.TaskMergePages:
		rsp, o = r.mergePages(ctx, jobID, req.Atlas)
	case api.TaskConvertPDFToGeoTIFF:
		rsp, o = r.convertPDFToGeoTIFF(ctx, jobID, req.Page)
	case api.TaskProcessSnapshot:
		rsp, o = r.processSnapshot(ctx, jobID, req.Snapshot)
	case api.TaskFetchSnapshotMetadata:
		rsp, o = r.fetchSnapshotMetadata(ctx, jobID, req.Snapshot)
	default:
		o = outcome.Failed(outcome.Failf(outcome.KindSpawn, "unknown task %q", req.Task))
	}

	rsp.Task = req.Task
	if !o.Succeeded() {
		rsp.Error = TaskError(o.Failure)
		logger.Warn("task failed", "kind", o.Failure.Kind, "error", o.Failure.Message)
	} else {
		logger.Info("task succeeded", "location", o.Location)
	}
	return rsp, o
}

// TaskError converts a failure into its wire form.
func TaskError(f *outcome.Failure) *api.TaskError {
	if f == nil {
		return nil
	}
	msg := f.Message
	if msg == "" && f.Err != nil {
		msg = f.Err.Error()
	}
	return &api.TaskError{
		Kind:    string(f.Kind),
		Message: msg,
		Stderr:  f.Stderr,
	}
}

// stage builds a process spec with the runner's timeout.
func (r *Runner) stage(command string, args ...string) process.Spec {
	return process.Spec{
		Command: command,
		Args:    args,
		Timeout: r.cfg.Timeout,
	}
}

func fetchFailure(url string, err error) outcome.Outcome {
	return outcome.Failed(&outcome.Failure{
		Kind:    outcome.KindUpstreamFetch,
		Message: fmt.Sprintf("fetching %s failed: %v", url, err),
		Err:     err,
	})
}
