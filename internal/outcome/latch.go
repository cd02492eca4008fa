package outcome

import (
	"context"
	"sync/atomic"
)

// Latch is a single-assignment future. The first Resolve wins; later calls
// are discarded and report false. Resolve is safe to call from any number of
// goroutines.
type Latch[T any] struct {
	claimed atomic.Bool
	done    chan struct{}
	value   T
}

// NewLatch returns an unresolved latch.
func NewLatch[T any]() *Latch[T] {
	return &Latch[T]{done: make(chan struct{})}
}

// Resolve stores v if the latch has not been claimed yet.
func (l *Latch[T]) Resolve(v T) bool {
	if !l.claimed.CompareAndSwap(false, true) {
		return false
	}
	l.value = v
	close(l.done)
	return true
}

// Claimed reports whether some caller has already won the latch. The value
// may not be readable yet; use Done for that.
func (l *Latch[T]) Claimed() bool {
	return l.claimed.Load()
}

// Done is closed once the value is available.
func (l *Latch[T]) Done() <-chan struct{} {
	return l.done
}

// Value returns the resolved value and whether the latch has resolved.
func (l *Latch[T]) Value() (T, bool) {
	select {
	case <-l.done:
		return l.value, true
	default:
		var zero T
		return zero, false
	}
}

// Wait blocks until the latch resolves or ctx is done.
func (l *Latch[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-l.done:
		return l.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
