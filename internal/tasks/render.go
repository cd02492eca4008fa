package tasks

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"syscall"

	"fieldtasks/internal/outcome"
	"fieldtasks/internal/persist"
	"fieldtasks/internal/pipeline"
	"fieldtasks/internal/process"
	"fieldtasks/pkg/api"
)

// subdomainPlaceholder matches the "{s}." tile-server subdomain template.
var subdomainPlaceholder = regexp.MustCompile(`(?i)\{s\}\.`)

// bboxArgs renders a box in the north, west, south, east order the paper
// scripts expect.
func bboxArgs(b api.BBox) []string {
	return []string{
		api.FormatCoord(b.North()),
		api.FormatCoord(b.West()),
		api.FormatCoord(b.South()),
		api.FormatCoord(b.East()),
	}
}

// paperStage runs one of the paper scripts. They are killed outright on
// timeout.
func (r *Runner) paperStage(command string, args []string) process.Spec {
	spec := r.stage(command, args...)
	spec.Dir = r.cfg.PaperDir
	spec.Env = process.Environ(map[string]string{"API_BASE_URL": r.cfg.APIBaseURL})
	spec.KillSignal = syscall.SIGKILL
	return spec
}

func (r *Runner) renderPageJob(jobID string, page *api.Page) pipeline.Job {
	atlas := page.Atlas

	args := []string{
		"-s", atlas.PaperSize,
		"-l", atlas.Layout,
		"-o", atlas.Orientation,
		"-b",
	}
	args = append(args, bboxArgs(page.BBox)...)
	args = append(args,
		"-n", string(page.PageNumber),
		"-z", strconv.Itoa(page.Zoom),
		"-p", subdomainPlaceholder.ReplaceAllString(page.Provider, ""),
		atlas.Slug,
	)

	return pipeline.Job{
		ID:     jobID,
		Stages: []process.Spec{r.paperStage(r.cfg.Programs.CreatePage, args)},
		Destination: persist.Destination{
			Key: fmt.Sprintf("prints/%s/%s-%s.pdf", atlas.Slug, atlas.Slug, page.PageNumber),
		},
	}
}

func (r *Runner) renderPage(ctx context.Context, jobID string, page *api.Page) (api.TaskResponse, outcome.Outcome) {
	o := r.executor.Run(ctx, r.renderPageJob(jobID, page))

	result := &api.PageResult{AtlasSlug: page.Atlas.Slug, PageNumber: page.PageNumber}
	if o.Succeeded() {
		result.PDFURL = o.Location
	}
	return api.TaskResponse{Page: result}, o
}

func (r *Runner) renderIndexJob(jobID string, page *api.Page) pipeline.Job {
	atlas := page.Atlas

	args := []string{
		"-s", atlas.PaperSize,
		"-l", atlas.Layout,
		"-o", atlas.Orientation,
		"-b",
	}
	args = append(args, bboxArgs(page.BBox)...)
	args = append(args, "-e")
	args = append(args, bboxArgs(atlas.BBox)...)
	args = append(args,
		"-z", strconv.Itoa(page.Zoom),
		"-p", subdomainPlaceholder.ReplaceAllString(page.Provider, ""),
		"-c", strconv.Itoa(atlas.Cols),
		"-r", strconv.Itoa(atlas.Rows),
		atlas.Slug,
	)

	return pipeline.Job{
		ID:     jobID,
		Stages: []process.Spec{r.paperStage(r.cfg.Programs.CreateIndex, args)},
		Destination: persist.Destination{
			Key: fmt.Sprintf("prints/%s/index-%s.pdf", atlas.Slug, atlas.Slug),
		},
	}
}

func (r *Runner) renderIndex(ctx context.Context, jobID string, page *api.Page) (api.TaskResponse, outcome.Outcome) {
	o := r.executor.Run(ctx, r.renderIndexJob(jobID, page))

	result := &api.AtlasResult{Slug: page.Atlas.Slug}
	if o.Succeeded() {
		result.IndexURL = o.Location
	}
	return api.TaskResponse{Atlas: result}, o
}
