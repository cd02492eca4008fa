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

const contentTypeTIFF = "image/tiff"

func (r *Runner) geotiffJob(jobID string, page *api.Page, input io.Reader) pipeline.Job {
	convert := r.stage(r.cfg.Programs.Convert,
		"-density", "288", // 4x 72ppi
		"-",
		"-shave", "144x144", // 0.5in margins
		"-chop", "0x144",
		"-flatten", // white background
		"png24:-",
	)

	b := page.BBox
	gdal := r.stage(r.cfg.Programs.GDALTranslate,
		"-of", "GTiff",
		"-a_srs", "EPSG:4326",
		"-a_ullr",
		api.FormatCoord(b.West()),
		api.FormatCoord(b.North()),
		api.FormatCoord(b.East()),
		api.FormatCoord(b.South()),
		"-co", "STREAMABLE_OUTPUT=YES",
		"-co", "COMPRESS=DEFLATE",
		"/vsistdin/",
		"/vsistdout/",
	)

	slug := page.Atlas.Slug
	return pipeline.Job{
		ID:     jobID,
		Stages: []process.Spec{convert, gdal},
		Destination: persist.Destination{
			Key:         fmt.Sprintf("prints/%s/%s-%s.tiff", slug, slug, page.PageNumber),
			ContentType: contentTypeTIFF,
		},
		Input: input,
	}
}

func (r *Runner) convertPDFToGeoTIFF(ctx context.Context, jobID string, page *api.Page) (api.TaskResponse, outcome.Outcome) {
	rsp := api.TaskResponse{Page: &api.PageResult{AtlasSlug: page.Atlas.Slug, PageNumber: page.PageNumber}}

	pdf, err := r.fetcher.Open(ctx, page.PDFURL)
	if err != nil {
		return rsp, fetchFailure(page.PDFURL, err)
	}

	o := r.executor.Run(ctx, r.geotiffJob(jobID, page, pdf))
	if o.Succeeded() {
		rsp.Page.GeoTIFFURL = o.Location
	}
	return rsp, o
}
