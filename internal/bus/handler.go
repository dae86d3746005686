package bus

import "context"

// Handler is anything that can be subscribed to an event name.
//
// Handle runs on the publisher's goroutine. Work that may block (network I/O,
// database writes) must be returned as a Task via Later so that Publish never
// stalls on it.
type Handler interface {
	Handle(payload Payload) Result
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(payload Payload) Result

// Handle implements Handler.
func (f HandlerFunc) Handle(payload Payload) Result {
	return f(payload)
}

// Task is a deferred unit of work produced by a handler. The context is
// cancelled when the bus is closed.
type Task func(ctx context.Context) error

// Result is the tagged outcome of a handler invocation.
type Result struct {
	task Task
	err  error
}

// Done reports that the handler completed inline.
func Done() Result {
	return Result{}
}

// Fail reports that the handler completed inline with a failure.
func Fail(err error) Result {
	return Result{err: err}
}

// Later reports that the handler completes asynchronously by running task.
// A nil task is equivalent to Done.
func Later(task Task) Result {
	return Result{task: task}
}

// Deferred reports whether the result carries a task for the scheduler.
func (r Result) Deferred() bool {
	return r.task != nil
}

// Err returns the inline failure, if any.
func (r Result) Err() error {
	return r.err
}

// Sync wraps a function that always completes inline.
func Sync(fn func(payload Payload)) Handler {
	return HandlerFunc(func(p Payload) Result {
		fn(p)
		return Done()
	})
}

// SyncErr wraps a function that completes inline and may fail.
func SyncErr(fn func(payload Payload) error) Handler {
	return HandlerFunc(func(p Payload) Result {
		if err := fn(p); err != nil {
			return Fail(err)
		}
		return Done()
	})
}

// Async wraps a function that always runs on the scheduler.
func Async(fn func(ctx context.Context, payload Payload) error) Handler {
	return HandlerFunc(func(p Payload) Result {
		return Later(func(ctx context.Context) error {
			return fn(ctx, p)
		})
	})
}
