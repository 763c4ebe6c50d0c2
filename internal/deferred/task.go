// Package deferred provides lazily evaluated tasks whose results can be
// awaited directly or delivered to a single-threaded looper.
package deferred

import (
	"context"
	"errors"
	"fmt"
)

// ErrNilTask is returned when a task has no function to run.
var ErrNilTask = errors.New("deferred: nil task")

// ErrPosterClosed is passed to an observer that could not be scheduled because
// the poster no longer accepts work.
var ErrPosterClosed = errors.New("deferred: poster closed")

// Poster schedules a function on another goroutine. *eventbus.Looper
// implements it.
type Poster interface {
	Post(task func(ctx context.Context)) bool
}

// Task is a unit of work that does nothing until it is run.
type Task[T any] struct {
	fn func(ctx context.Context) (T, error)
}

// Defer wraps fn without calling it.
func Defer[T any](fn func(ctx context.Context) (T, error)) Task[T] {
	return Task[T]{fn: fn}
}

// Value returns a task that yields v.
func Value[T any](v T) Task[T] {
	return Defer(func(context.Context) (T, error) { return v, nil })
}

// Run evaluates the task on the calling goroutine. A panic inside the task is
// returned as an error.
func (t Task[T]) Run(ctx context.Context) (result T, err error) {
	if t.fn == nil {
		return result, ErrNilTask
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	defer func() {
		if v := recover(); v != nil {
			var zero T
			result = zero
			err = fmt.Errorf("deferred task panicked: %v", v)
		}
	}()
	return t.fn(ctx)
}

// Start evaluates the task on a new goroutine.
func (t Task[T]) Start(ctx context.Context) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		f.value, f.err = t.Run(ctx)
		close(f.done)
	}()
	return f
}

// ObserveOn evaluates the task in the background and calls fn with the
// outcome on the poster's goroutine. If the poster refuses the callback, fn
// is never called and the returned future reports ErrPosterClosed.
func (t Task[T]) ObserveOn(ctx context.Context, p Poster, fn func(ctx context.Context, v T, err error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		v, err := t.Run(ctx)
		posted := p.Post(func(loopCtx context.Context) {
			defer close(f.done)
			f.value, f.err = v, err
			fn(loopCtx, v, err)
		})
		if !posted {
			f.err = ErrPosterClosed
			close(f.done)
		}
	}()
	return f
}

// Then returns a task that runs t and feeds its result to next.
func Then[T, U any](t Task[T], next func(ctx context.Context, v T) (U, error)) Task[U] {
	return Defer(func(ctx context.Context) (U, error) {
		v, err := t.Run(ctx)
		if err != nil {
			var zero U
			return zero, err
		}
		return next(ctx, v)
	})
}

// Future holds the eventual outcome of a started task.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done is closed once the outcome is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the outcome is available or ctx ends.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
