package api

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestTaskRequest_Validate(t *testing.T) {
	atlas := &Atlas{Slug: "abc123"}

	tests := []struct {
		name     string
		endpoint string
		req      TaskRequest
		wantErr  string
	}{
		{
			name:     "task mismatch",
			endpoint: TaskRenderPage,
			req:      TaskRequest{Task: TaskRenderIndex, CallbackURL: "http://cb"},
			wantErr:  "does not match endpoint",
		},
		{
			name:     "missing callback",
			endpoint: TaskRenderPage,
			req:      TaskRequest{Task: TaskRenderPage, Page: &Page{Atlas: atlas}},
			wantErr:  "callback_url",
		},
		{
			name:     "render page ok",
			endpoint: TaskRenderPage,
			req:      TaskRequest{Task: TaskRenderPage, CallbackURL: "http://cb", Page: &Page{Atlas: atlas}},
		},
		{
			name:     "render index without atlas",
			endpoint: TaskRenderIndex,
			req:      TaskRequest{Task: TaskRenderIndex, CallbackURL: "http://cb", Page: &Page{}},
			wantErr:  "page.atlas.slug",
		},
		{
			name:     "convert without pdf url",
			endpoint: TaskConvertPDFToGeoTIFF,
			req:      TaskRequest{Task: TaskConvertPDFToGeoTIFF, CallbackURL: "http://cb", Page: &Page{Atlas: atlas}},
			wantErr:  "page.pdf_url",
		},
		{
			name:     "merge without pages",
			endpoint: TaskMergePages,
			req:      TaskRequest{Task: TaskMergePages, CallbackURL: "http://cb", Atlas: atlas},
			wantErr:  "atlas.pages",
		},
		{
			name:     "merge page without url",
			endpoint: TaskMergePages,
			req: TaskRequest{Task: TaskMergePages, CallbackURL: "http://cb", Atlas: &Atlas{
				Slug:  "abc123",
				Pages: []Page{{PDFURL: "http://a"}, {}},
			}},
			wantErr: "atlas.pages[1].pdf_url",
		},
		{
			name:     "snapshot without image",
			endpoint: TaskProcessSnapshot,
			req:      TaskRequest{Task: TaskProcessSnapshot, CallbackURL: "http://cb", Snapshot: &Snapshot{Slug: "s"}},
			wantErr:  "snapshot.image_url",
		},
		{
			name:     "metadata ok",
			endpoint: TaskFetchSnapshotMetadata,
			req: TaskRequest{Task: TaskFetchSnapshotMetadata, CallbackURL: "http://cb", Snapshot: &Snapshot{
				Slug: "s", ImageURL: "http://img",
			}},
		},
		{
			name:     "unknown task",
			endpoint: "make_coffee",
			req:      TaskRequest{Task: "make_coffee", CallbackURL: "http://cb"},
			wantErr:  "unknown task",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate(tt.endpoint)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestPageNumber_AcceptsNumbers(t *testing.T) {
	var page Page
	if err := json.Unmarshal([]byte(`{"page_number": 3, "bbox": [-122.5, 37.7, -122.4, 37.8]}`), &page); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if page.PageNumber != "3" {
		t.Errorf("expected page number 3, got %q", page.PageNumber)
	}
	if page.BBox.West() != -122.5 || page.BBox.North() != 37.8 {
		t.Errorf("unexpected bbox %v", page.BBox)
	}

	if err := json.Unmarshal([]byte(`{"page_number": "B2"}`), &page); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if page.PageNumber != "B2" {
		t.Errorf("expected page number B2, got %q", page.PageNumber)
	}

	if err := json.Unmarshal([]byte(`{"page_number": {}}`), &page); err == nil {
		t.Error("expected error for object page number")
	}
}

func TestTaskResponse_OmitsEmptyEntities(t *testing.T) {
	body, err := json.Marshal(TaskResponse{
		Task:     TaskProcessSnapshot,
		Snapshot: &SnapshotResult{Slug: "s1"},
		Error:    &TaskError{Kind: "signaled", Message: "Exited after SIGKILL: python3 process_snapshot.py"},
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	got := string(body)
	want := `{"task":"process_snapshot","snapshot":{"slug":"s1"},"error":{"kind":"signaled","message":"Exited after SIGKILL: python3 process_snapshot.py"}}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestFormatCoord(t *testing.T) {
	if got := FormatCoord(-122.41); got != "-122.41" {
		t.Errorf("got %q", got)
	}
	if got := FormatCoord(18); got != "18" {
		t.Errorf("got %q", got)
	}
}
