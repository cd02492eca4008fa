package tasks

import (
	"context"
	"fmt"
	"io"

	"fieldtasks/internal/outcome"
	"fieldtasks/internal/persist"
	"fieldtasks/internal/pipeline"
	"fieldtasks/internal/process"
	"fieldtasks/pkg/api"
)

func (r *Runner) snapshotJob(jobID string, snapshot *api.Snapshot, input io.Reader) pipeline.Job {
	decode := r.stage(r.cfg.Programs.Python, "process_snapshot.py")
	decode.Dir = r.cfg.DecoderDir

	return pipeline.Job{
		ID:     jobID,
		Stages: []process.Spec{decode},
		Destination: persist.Destination{
			Key:         fmt.Sprintf("snapshots/%s/field-paper-%s.tiff", snapshot.Slug, snapshot.Slug),
			ContentType: contentTypeTIFF,
		},
		Input: input,
	}
}

func (r *Runner) processSnapshot(ctx context.Context, jobID string, snapshot *api.Snapshot) (api.TaskResponse, outcome.Outcome) {
	rsp := api.TaskResponse{Snapshot: &api.SnapshotResult{Slug: snapshot.Slug}}

	image, err := r.fetcher.Open(ctx, snapshot.ImageURL)
	if err != nil {
		return rsp, fetchFailure(snapshot.ImageURL, err)
	}

	o := r.executor.Run(ctx, r.snapshotJob(jobID, snapshot, image))
	if o.Succeeded() {
		rsp.Snapshot.GeoTIFFURL = o.Location
	}
	return rsp, o
}
