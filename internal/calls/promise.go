package calls

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Future represents the result of an asynchronous computation. The
// completion handle returned by Register is a Future: callers await it
// from any goroutine.
type Future[T any] interface {
	// Await blocks until the result is available or the context is
	// cancelled, then returns it.
	Await(ctx context.Context) fn.Result[T]
}

// Promise allows the producing side to complete an associated Future
// exactly once.
type Promise[T any] struct {
	// once guards the single completion.
	once sync.Once

	// done is closed when the result is set.
	done chan struct{}

	// result holds the completed value. Written once before done is
	// closed, read only after done is closed.
	result fn.Result[T]
}

// NewPromise creates an uncompleted promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{
		done: make(chan struct{}),
	}
}

// Complete attempts to set the result. It returns true if this call was
// the first to complete the promise, false if it was already completed.
func (p *Promise[T]) Complete(result fn.Result[T]) bool {
	completed := false
	p.once.Do(func() {
		p.result = result
		close(p.done)
		completed = true
	})

	return completed
}

// Future returns the awaitable side of the promise.
func (p *Promise[T]) Future() Future[T] {
	return p
}

// Await blocks until the promise completes or the context is cancelled.
func (p *Promise[T]) Await(ctx context.Context) fn.Result[T] {
	select {
	case <-p.done:
		return p.result

	case <-ctx.Done():
		return fn.Err[T](ctx.Err())
	}
}

// Completed reports whether the promise has been resolved.
func (p *Promise[T]) Completed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
