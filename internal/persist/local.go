package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Local writes artifacts under a root directory and serves them from a
// public URI prefix.
type Local struct {
	root   string
	prefix string
	logger *slog.Logger
}

// NewLocal creates a local backend. The prefix is normalised to end with "/".
func NewLocal(root, prefix string, logger *slog.Logger) (*Local, error) {
	if root == "" {
		return nil, errors.New("static path is required for local persistence")
	}
	if prefix == "" {
		return nil, errors.New("static URI prefix is required for local persistence")
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{root: root, prefix: prefix, logger: logger}, nil
}

// Location returns the public URI for key.
func (l *Local) Location(key string) string {
	return l.prefix + key
}

type localWrite struct {
	write
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// Write streams r to root/<key>. Bytes land in a temporary sibling file that
// is renamed into place only when the stream completes, so an aborted or
// failed write never leaves a partial artifact at the final path.
func (l *Local) Write(ctx context.Context, dest Destination, r io.Reader) Handle {
	w := &localWrite{write: newWrite(), logger: l.logger.With("key", dest.Key)}

	if !filepath.IsLocal(dest.Key) {
		w.fail(fmt.Errorf("invalid destination %q", dest.Key))
		close(w.done)
		return w
	}

	fullPath := filepath.Join(l.root, filepath.FromSlash(dest.Key))
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.fail(fmt.Errorf("create %s: %w", dir, err))
		close(w.done)
		return w
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".*.partial")
	if err != nil {
		w.fail(fmt.Errorf("create temporary file in %s: %w", dir, err))
		close(w.done)
		return w
	}
	w.file = f

	go func() {
		defer close(w.done)

		_, err := io.Copy(f, r)
		if err == nil {
			err = f.Chmod(0o644)
		}
		if closeErr := f.Close(); err == nil && closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			err = closeErr
		}

		w.mu.Lock()
		defer w.mu.Unlock()

		if w.latch.Claimed() {
			w.removePartial()
			return
		}
		if err != nil {
			w.removePartial()
			w.fail(fmt.Errorf("write %s: %w", fullPath, err))
			return
		}
		if err := os.Rename(f.Name(), fullPath); err != nil {
			w.removePartial()
			w.fail(fmt.Errorf("rename into %s: %w", fullPath, err))
			return
		}
		w.succeed(l.Location(dest.Key))
	}()

	return w
}

// Abort delivers err first, then closes and deletes the partial file.
func (w *localWrite) Abort(err error) {
	if err == nil {
		err = ErrAborted
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.fail(err) {
		return
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			w.logger.Warn("failed to close partial file", "path", w.file.Name(), "error", err)
		}
	}
	w.removePartial()
}

// removePartial must be called with mu held.
func (w *localWrite) removePartial() {
	if w.file == nil {
		return
	}
	if err := os.Remove(w.file.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logger.Warn("failed to remove partial file", "path", w.file.Name(), "error", err)
	}
}
