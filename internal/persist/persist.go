// Package persist streams pipeline output into durable storage.
package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"fieldtasks/internal/outcome"
)

// ErrAborted is the result of a write aborted without a cause.
var ErrAborted = errors.New("write aborted")

// Backend names accepted by New.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Destination is a backend-specific write target. Zero-valued fields fall
// back to the backend defaults.
type Destination struct {
	// Key is the relative path (local) or object key (S3).
	Key          string
	ContentType  string
	CacheControl string
	ACL          string
	Metadata     map[string]string
}

// Result is the outcome of one write.
type Result struct {
	Location string
	Err      error
}

// Handle is an in-flight write.
type Handle interface {
	// Abort stops the write. A non-nil err becomes the write's result when
	// the write has not completed yet; nil yields ErrAborted. Aborting a
	// completed write does nothing.
	Abort(err error)

	// Done is closed once the write has been released and its result is
	// final.
	Done() <-chan struct{}

	// Result is valid after Done is closed.
	Result() Result
}

// Sink persists byte streams.
type Sink interface {
	Write(ctx context.Context, dest Destination, r io.Reader) Handle
}

// Config selects and configures a backend.
type Config struct {
	Backend string

	// Local backend.
	StaticPath      string
	StaticURIPrefix string

	// S3 backend.
	Bucket string
	Region string

	Logger *slog.Logger
}

// New builds the configured backend.
func New(ctx context.Context, cfg Config) (Sink, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	switch cfg.Backend {
	case BackendLocal:
		return NewLocal(cfg.StaticPath, cfg.StaticURIPrefix, cfg.Logger)
	case BackendS3:
		return NewS3FromConfig(ctx, cfg.Region, cfg.Bucket, cfg.Logger)
	default:
		return nil, fmt.Errorf("unknown persist backend %q", cfg.Backend)
	}
}

// write holds the state shared by every backend's Handle: a first-wins
// result latch and a channel closed when the writer goroutine is gone.
type write struct {
	latch *outcome.Latch[Result]
	done  chan struct{}
}

func newWrite() write {
	return write{
		latch: outcome.NewLatch[Result](),
		done:  make(chan struct{}),
	}
}

func (w *write) Done() <-chan struct{} {
	return w.done
}

func (w *write) Result() Result {
	r, _ := w.latch.Value()
	return r
}

func (w *write) succeed(location string) bool {
	return w.latch.Resolve(Result{Location: location})
}

func (w *write) fail(err error) bool {
	return w.latch.Resolve(Result{Err: err})
}
