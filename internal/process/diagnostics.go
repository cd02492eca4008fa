package process

import "sync"

// Diagnostics accumulates a process's standard error. A positive limit keeps
// only the most recent limit bytes; zero keeps everything.
type Diagnostics struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

// NewDiagnostics returns an empty buffer.
func NewDiagnostics(limit int) *Diagnostics {
	return &Diagnostics{limit: limit}
}

func (d *Diagnostics) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buf = append(d.buf, p...)
	if d.limit > 0 && len(d.buf) > d.limit {
		d.buf = append(d.buf[:0], d.buf[len(d.buf)-d.limit:]...)
		d.truncated = true
	}
	return len(p), nil
}

// String converts the captured bytes to text.
func (d *Diagnostics) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.buf)
}

// Len returns the number of bytes held.
func (d *Diagnostics) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buf)
}

// Truncated reports whether older bytes were dropped to honour the limit.
func (d *Diagnostics) Truncated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.truncated
}
