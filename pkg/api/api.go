// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and the server.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Task names. Each one is served at PUT /<task>.
const (
	TaskRenderPage            = "render_page"
	TaskRenderIndex           = "render_index"
	TaskMergePages            = "merge_pages"
	TaskConvertPDFToGeoTIFF   = "convert_pdf_to_geotiff"
	TaskProcessSnapshot       = "process_snapshot"
	TaskFetchSnapshotMetadata = "fetch_snapshot_metadata"
)

// Tasks lists every supported task name.
var Tasks = []string{
	TaskRenderPage,
	TaskRenderIndex,
	TaskMergePages,
	TaskConvertPDFToGeoTIFF,
	TaskProcessSnapshot,
	TaskFetchSnapshotMetadata,
}

// BBox is a bounding box ordered west, south, east, north.
type BBox [4]float64

func (b BBox) West() float64  { return b[0] }
func (b BBox) South() float64 { return b[1] }
func (b BBox) East() float64  { return b[2] }
func (b BBox) North() float64 { return b[3] }

// IsZero reports whether no bounds were supplied.
func (b BBox) IsZero() bool { return b == BBox{} }

// Atlas describes an atlas (a set of printable pages).
type Atlas struct {
	Slug        string `json:"slug"`
	PaperSize   string `json:"paper_size,omitempty"`
	Layout      string `json:"layout,omitempty"`
	Orientation string `json:"orientation,omitempty"`
	BBox        BBox   `json:"bbox,omitempty"`
	Cols        int    `json:"cols,omitempty"`
	Rows        int    `json:"rows,omitempty"`
	Pages       []Page `json:"pages,omitempty"`
}

// Page describes a single page of an atlas.
type Page struct {
	PageNumber PageNumber `json:"page_number"`
	BBox       BBox       `json:"bbox"`
	Zoom       int        `json:"zoom,omitempty"`
	Provider   string     `json:"provider,omitempty"`
	PDFURL     string     `json:"pdf_url,omitempty"`
	Atlas      *Atlas     `json:"atlas,omitempty"`
}

// PageNumber is a page label such as "i" (the index) or "B3". Numeric JSON
// values are accepted too.
type PageNumber string

func (p *PageNumber) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = PageNumber(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("page_number must be a string or number: %w", err)
	}
	*p = PageNumber(n.String())
	return nil
}

// Snapshot describes an uploaded photo of a printed page.
type Snapshot struct {
	Slug     string `json:"slug"`
	ImageURL string `json:"image_url"`
}

// TaskRequest is the request body for every task endpoint.
type TaskRequest struct {
	Task        string    `json:"task"`
	CallbackURL string    `json:"callback_url"`
	Page        *Page     `json:"page,omitempty"`
	Atlas       *Atlas    `json:"atlas,omitempty"`
	Snapshot    *Snapshot `json:"snapshot,omitempty"`
}

// Validate checks the request against the task it was submitted to.
func (r *TaskRequest) Validate(endpoint string) error {
	if r.Task != endpoint {
		return fmt.Errorf("task (%q) does not match endpoint (%s)", r.Task, endpoint)
	}
	if r.CallbackURL == "" {
		return errors.New("payload must include 'callback_url'")
	}

	switch r.Task {
	case TaskRenderPage, TaskRenderIndex:
		if r.Page == nil {
			return errors.New("payload must include a 'page'")
		}
		if r.Page.Atlas == nil || r.Page.Atlas.Slug == "" {
			return errors.New("payload must include 'page.atlas.slug'")
		}
	case TaskConvertPDFToGeoTIFF:
		if r.Page == nil {
			return errors.New("payload must include a 'page'")
		}
		if r.Page.PDFURL == "" {
			return errors.New("payload must include 'page.pdf_url'")
		}
		if r.Page.Atlas == nil || r.Page.Atlas.Slug == "" {
			return errors.New("payload must include 'page.atlas.slug'")
		}
	case TaskMergePages:
		if r.Atlas == nil {
			return errors.New("payload must include an 'atlas'")
		}
		if r.Atlas.Slug == "" {
			return errors.New("payload must include 'atlas.slug'")
		}
		if len(r.Atlas.Pages) == 0 {
			return errors.New("payload must include 'atlas.pages'")
		}
		for i, p := range r.Atlas.Pages {
			if p.PDFURL == "" {
				return fmt.Errorf("payload must include 'atlas.pages[%d].pdf_url'", i)
			}
		}
	case TaskProcessSnapshot, TaskFetchSnapshotMetadata:
		if r.Snapshot == nil {
			return errors.New("payload must include a 'snapshot'")
		}
		if r.Snapshot.Slug == "" {
			return errors.New("payload must include 'snapshot.slug'")
		}
		if r.Snapshot.ImageURL == "" {
			return errors.New("payload must include 'snapshot.image_url'")
		}
	default:
		return fmt.Errorf("unknown task %q", r.Task)
	}
	return nil
}

// SubmitTaskResponse is the response body after a task has been accepted.
type SubmitTaskResponse struct {
	JobID string `json:"job_id"`
}

// TaskResponse is the envelope PATCHed to a task's callback URL.
type TaskResponse struct {
	Task     string          `json:"task"`
	Page     *PageResult     `json:"page,omitempty"`
	Atlas    *AtlasResult    `json:"atlas,omitempty"`
	Snapshot *SnapshotResult `json:"snapshot,omitempty"`
	Error    *TaskError      `json:"error,omitempty"`
}

// PageResult identifies the page a task rendered or converted.
type PageResult struct {
	AtlasSlug  string     `json:"atlas_slug"`
	PageNumber PageNumber `json:"page_number"`
	PDFURL     string     `json:"pdf_url,omitempty"`
	GeoTIFFURL string     `json:"geotiff_url,omitempty"`
}

// AtlasResult identifies the atlas a task rendered.
type AtlasResult struct {
	Slug     string `json:"slug"`
	PDFURL   string `json:"pdf_url,omitempty"`
	IndexURL string `json:"index_url,omitempty"`
}

// SnapshotResult carries everything learned about a snapshot.
type SnapshotResult struct {
	Slug       string `json:"slug"`
	GeoTIFFURL string `json:"geotiff_url,omitempty"`
	BBox       *BBox  `json:"bbox,omitempty"`
	PageURL    string `json:"page_url,omitempty"`
	Private    *bool  `json:"private,omitempty"`
	Zoom       *int   `json:"zoom,omitempty"`
}

// TaskError describes why a task failed.
type TaskError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Stderr  string `json:"stderr,omitempty"`
}

// Job statuses.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// JobStatusResponse is the response body for job status queries.
type JobStatusResponse struct {
	ID          string     `json:"id"`
	Task        string     `json:"task"`
	Status      string     `json:"status"`
	CallbackURL string     `json:"callback_url"`
	Location    string     `json:"location,omitempty"`
	Error       *TaskError `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// FormatCoord renders a coordinate for a command line.
func FormatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
