package correlation

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrCancelled is returned when the waiter gave up on a request.
	ErrCancelled = errors.New("request cancelled")
	// ErrDisconnected fails every outstanding request when the session drops.
	ErrDisconnected = errors.New("gateway disconnected")
	// ErrPending is returned by Result while the future is unsettled.
	ErrPending = errors.New("result pending")
)

// Future is a single-assignment result slot. The first Resolve or Reject
// wins; later calls report false and change nothing.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

// NewFuture returns an unsettled future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) settle(v T, err error) bool {
	settled := false
	f.once.Do(func() {
		f.val = v
		f.err = err
		settled = true
		close(f.done)
	})
	return settled
}

// Resolve settles the future with v.
func (f *Future[T]) Resolve(v T) bool {
	return f.settle(v, nil)
}

// Reject settles the future with err.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

// Done is closed once the future is settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result returns the settled value without blocking, or ErrPending.
func (f *Future[T]) Result() (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
		var zero T
		return zero, ErrPending
	}
}

// Wait blocks until the future settles or ctx is done. A settled future
// always wins over a context that expired at the same time.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
