package tasks

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"fieldtasks/internal/outcome"
	"fieldtasks/internal/persist"
	"fieldtasks/internal/pipeline"
	"fieldtasks/internal/process"
	"fieldtasks/pkg/api"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// downloadPages fetches every page PDF into dir concurrently and returns the
// file names in page order.
func (r *Runner) downloadPages(ctx context.Context, dir string, pages []api.Page) ([]string, error) {
	files := make([]string, len(pages))

	g, ctx := errgroup.WithContext(ctx)
	for i, page := range pages {
		name := filepath.Join(dir, fmt.Sprintf("page-%03d.pdf", i))
		files[i] = name

		g.Go(func() error {
			return r.download(ctx, page.PDFURL, name)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func (r *Runner) download(ctx context.Context, url, name string) (err error) {
	body, err := r.fetcher.Open(ctx, url)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(body))

	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))

	if _, err := io.Copy(f, body); err != nil {
		return fmt.Errorf("fetching %s failed: %w", url, err)
	}
	return nil
}

func (r *Runner) mergeJob(jobID string, atlas *api.Atlas, files []string) pipeline.Job {
	args := append([]string{"-q", "-sDEVICE=pdfwrite", "-o", "-"}, files...)

	return pipeline.Job{
		ID:     jobID,
		Stages: []process.Spec{r.stage(r.cfg.Programs.Ghostscript, args...)},
		Destination: persist.Destination{
			Key: fmt.Sprintf("prints/%s/atlas-%s.pdf", atlas.Slug, atlas.Slug),
		},
	}
}

func (r *Runner) mergePages(ctx context.Context, jobID string, atlas *api.Atlas) (api.TaskResponse, outcome.Outcome) {
	rsp := api.TaskResponse{Atlas: &api.AtlasResult{Slug: atlas.Slug}}

	dir, err := os.MkdirTemp("", "merge-"+atlas.Slug+"-")
	if err != nil {
		return rsp, outcome.Failed(outcome.Wrap(outcome.KindSpawn, fmt.Errorf("create temp dir: %w", err)))
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("failed to remove merge temp dir", "dir", dir, "error", err)
		}
	}()

	files, err := r.downloadPages(ctx, dir, atlas.Pages)
	if err != nil {
		return rsp, outcome.Failed(&outcome.Failure{
			Kind:    outcome.KindUpstreamFetch,
			Message: fmt.Sprintf("downloading pages of %s failed: %v", atlas.Slug, err),
			Err:     err,
		})
	}

	o := r.executor.Run(ctx, r.mergeJob(jobID, atlas, files))
	if o.Succeeded() {
		rsp.Atlas.PDFURL = o.Location
	}
	return rsp, o
}
