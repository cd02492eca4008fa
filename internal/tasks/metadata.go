package tasks

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"strconv"
	"strings"

	"fieldtasks/internal/outcome"
	"fieldtasks/internal/pipeline"
	"fieldtasks/pkg/api"
)

const contentTypePaperwalking = "application/paperwalking+xml"

// Metadata is what a print's page URL tells us about a snapshot.
type Metadata struct {
	BBox    api.BBox
	PageURL string
	Private bool
	Zoom    int
}

type printDocument struct {
	XMLName xml.Name `xml:"print"`
	Bounds  struct {
		North float64 `xml:"north"`
		South float64 `xml:"south"`
		East  float64 `xml:"east"`
		West  float64 `xml:"west"`
	} `xml:"bounds"`
	Center struct {
		Zoom string `xml:"zoom"`
	} `xml:"center"`
	Private *string `xml:"private"`
}

// ParsePrint parses a paperwalking print document.
func ParsePrint(r io.Reader, logger *slog.Logger) (Metadata, error) {
	var doc printDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return Metadata{}, fmt.Errorf("parse print document: %w", err)
	}

	md := Metadata{
		BBox: api.BBox{doc.Bounds.West, doc.Bounds.South, doc.Bounds.East, doc.Bounds.North},
	}

	if z := strings.TrimSpace(doc.Center.Zoom); z != "" {
		zoom, err := strconv.ParseFloat(z, 64)
		if err != nil {
			return Metadata{}, fmt.Errorf("invalid zoom %q: %w", z, err)
		}
		md.Zoom = int(zoom)
	}

	if doc.Private != nil {
		private, err := strconv.ParseBool(strings.TrimSpace(*doc.Private))
		if err != nil {
			logger.Warn("failed to parse private flag", "value", *doc.Private)
		}
		md.Private = private
	}
	return md, nil
}

// decodeBarcode runs the barcode reader over image and returns the decoded
// page URL.
func (r *Runner) decodeBarcode(ctx context.Context, image io.ReadCloser) (string, *outcome.Failure) {
	defer image.Close()

	spec := r.stage(r.cfg.Programs.Zbar, "--raw", "-q", ":-")
	h, err := r.supervisor.Start(ctx, spec, nil)
	if err != nil {
		return "", &outcome.Failure{
			Kind:    outcome.KindSpawn,
			Message: fmt.Sprintf("%s failed to start: %v", outcome.CommandLine(spec.Command, spec.Args), err),
			Command: spec.Command,
			Args:    spec.Args,
			Err:     err,
		}
	}

	var readErr error
	fed := make(chan struct{})
	go func() {
		defer close(fed)
		defer h.Stdin().Close()
		io.Copy(h.Stdin(), readerFunc(func(p []byte) (int, error) {
			n, err := image.Read(p)
			if err != nil && err != io.EOF {
				readErr = err
			}
			return n, err
		}))
	}()

	out, _ := io.ReadAll(h.Stdout())
	<-h.Done()
	h.Stdout().Close()
	image.Close()
	<-fed

	if readErr != nil {
		return "", &outcome.Failure{
			Kind:    outcome.KindUpstreamFetch,
			Message: fmt.Sprintf("reading snapshot image failed: %v", readErr),
			Err:     readErr,
		}
	}
	if pipeline.Failed(h) {
		return "", pipeline.ExitFailure(h, h.Exit())
	}

	raw := strings.TrimSpace(string(out))
	pageURL, err := url.PathUnescape(raw)
	if err != nil || pageURL == "" {
		return "", &outcome.Failure{
			Kind:    outcome.KindUpstreamFetch,
			Message: fmt.Sprintf("barcode %q does not contain a page url", raw),
			Command: spec.Command,
			Args:    spec.Args,
			Stderr:  h.Diagnostics().String(),
			Err:     err,
		}
	}
	return pageURL, nil
}

func (r *Runner) fetchMetadata(ctx context.Context, pageURL string) (Metadata, error) {
	resp, err := r.fetcher.get(ctx, pageURL, contentTypePaperwalking)
	if err != nil {
		return Metadata{}, err
	}
	defer resp.Body.Close()

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != contentTypePaperwalking {
		return Metadata{}, fmt.Errorf("%s returned unsupported content type %q", pageURL, resp.Header.Get("Content-Type"))
	}

	md, err := ParsePrint(resp.Body, r.logger)
	if err != nil {
		return Metadata{}, err
	}
	md.PageURL = pageURL
	return md, nil
}

func (r *Runner) fetchSnapshotMetadata(ctx context.Context, _ string, snapshot *api.Snapshot) (api.TaskResponse, outcome.Outcome) {
	rsp := api.TaskResponse{Snapshot: &api.SnapshotResult{Slug: snapshot.Slug}}

	image, err := r.fetcher.Open(ctx, snapshot.ImageURL)
	if err != nil {
		return rsp, fetchFailure(snapshot.ImageURL, err)
	}

	pageURL, failure := r.decodeBarcode(ctx, image)
	if failure != nil {
		return rsp, outcome.Failed(failure)
	}

	md, err := r.fetchMetadata(ctx, pageURL)
	if err != nil {
		return rsp, fetchFailure(pageURL, err)
	}

	rsp.Snapshot.BBox = &md.BBox
	rsp.Snapshot.PageURL = md.PageURL
	rsp.Snapshot.Private = &md.Private
	rsp.Snapshot.Zoom = &md.Zoom
	return rsp, outcome.Success(md.PageURL)
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
