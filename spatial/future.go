package spatial

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrNotDone is returned by Get on an unresolved future.
var ErrNotDone = errors.New("future not done")

// Future is a value that becomes available exactly once.
//
// Any number of goroutines may wait on Done; the first Complete or Fail wins
// and later calls are ignored.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// IndexFuture is the shared handle to an index under construction.
type IndexFuture = Future[Index]

// NewFuture returns an unresolved future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// ResolvedFuture returns a future already completed with v.
func ResolvedFuture[T any](v T) *Future[T] {
	f := NewFuture[T]()
	f.Complete(v)
	return f
}

// FailedFuture returns a future already failed with err.
func FailedFuture[T any](err error) *Future[T] {
	f := NewFuture[T]()
	f.Fail(err)
	return f
}

// Complete resolves the future with v. It reports whether this call resolved it.
func (f *Future[T]) Complete(v T) bool {
	return f.resolve(v, nil)
}

// Fail resolves the future with err. It reports whether this call resolved it.
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.resolve(zero, err)
}

func (f *Future[T]) resolve(v T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.value, f.err = v, err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done returns a channel closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// IsDone reports whether the future is resolved.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Get returns the result without blocking.
func (f *Future[T]) Get() (T, error) {
	if !f.IsDone() {
		var zero T
		return zero, ErrNotDone
	}
	return f.value, f.err
}

// Wait blocks until the future is resolved or ctx is canceled.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
