package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Logger is the logging surface the bus needs. *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// FaultHandler receives failures that could not be delivered to any "error"
// subscriber from a deferred task. It runs on the scheduler's goroutine.
type FaultHandler func(err error)

// PanicOnFault is the default FaultHandler: an unhandled error event is a
// programming omission and crashes loudly.
func PanicOnFault(err error) {
	panic(err)
}

// Bus is an in-process publish/subscribe event bus.
//
// Thread Safety: all methods are safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	registry *registry

	scheduler Scheduler
	fault     FaultHandler
	logger    Logger

	ctx    context.Context //nolint:containedctx // task lifetime context, cancelled by Close
	cancel context.CancelFunc
	tasks  *tracker
	closed atomic.Bool

	stats counters
}

// New creates an empty bus ready for use.
func New(opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		registry:  newRegistry(),
		scheduler: GoroutineScheduler,
		fault:     PanicOnFault,
		logger:    noopLogger{},
		ctx:       ctx,
		cancel:    cancel,
		tasks:     newTracker(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ============================================================================
// Subscription
// ============================================================================

// Subscribe appends h to the ordered handler list of name and returns its
// reference. Use Attach with the returned ref to subscribe the same handler
// to more events or to change its mode in place.
//
// Panics if h is nil.
func (b *Bus) Subscribe(name string, h Handler) HandlerRef {
	return b.add(name, h, false)
}

// SubscribeOnce registers h to be invoked at most once for name. It is
// removed before it runs; calling AttachOnce with its ref from inside the
// handler, or from the task it returns, arms it again.
//
// Panics if h is nil.
func (b *Bus) SubscribeOnce(name string, h Handler) HandlerRef {
	return b.add(name, h, true)
}

func (b *Bus) add(name string, h Handler, once bool) HandlerRef {
	if h == nil {
		panic(ErrNilHandler)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registry.add(name, h, once)
}

// Attach subscribes an existing handler to name as a persistent handler.
// If ref is already subscribed to name it keeps its position and becomes
// persistent; it is never duplicated.
//
// Returns ErrUnknownHandler if ref is not held by the bus.
func (b *Bus) Attach(name string, ref HandlerRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registry.attach(name, ref, false)
}

// AttachOnce is Attach for a one-shot subscription.
func (b *Bus) AttachOnce(name string, ref HandlerRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registry.attach(name, ref, true)
}

// Unsubscribe removes ref from name. Removing a handler that is not
// subscribed is a no-op.
func (b *Bus) Unsubscribe(name string, ref HandlerRef) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registry.remove(name, ref)
}

// UnsubscribeAll removes every handler of the given event names, or of every
// event name when none are given.
func (b *Bus) UnsubscribeAll(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(names) == 0 {
		b.registry.clearAll()
		return
	}
	for _, name := range names {
		b.registry.clear(name)
	}
}

// List returns the handler refs subscribed to name in invocation order.
// The returned slice is a copy.
func (b *Bus) List(name string) []HandlerRef {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.registry.refs(name)
}

// Events returns the sorted names of events with at least one subscriber.
func (b *Bus) Events() []string {
	b.mu.RLock()
	names := b.registry.names()
	b.mu.RUnlock()
	sort.Strings(names)
	return names
}

// ============================================================================
// Dispatch
// ============================================================================

// Publish invokes every handler subscribed to name, in registration order,
// with payload.
//
// Handlers subscribed or removed while Publish runs do not affect the current
// dispatch. Deferred results are handed to the scheduler and are not awaited.
//
// Returns:
//   - handled: true if at least one handler was invoked
//   - err: wraps ErrUncaughtError if name is "error" and nothing handled it,
//     or if an inline failure raised an unhandled "error" event
func (b *Bus) Publish(name string, payload Payload) (bool, error) {
	b.stats.published.Add(1)

	b.mu.RLock()
	subs := b.registry.snapshot(name)
	b.mu.RUnlock()

	handled := false
	var errs []error

	for _, e := range subs {
		if e.once && !b.claim(name, e) {
			continue
		}

		handled = true
		b.stats.invoked.Add(1)
		if err := b.invoke(name, e, payload); err != nil {
			errs = append(errs, err)
		}
	}

	if !handled {
		b.stats.unhandled.Add(1)
		if name == ErrorEventName {
			return false, uncaught(payload)
		}
		b.logger.Debug("event has no subscribers", "event", name)
	}

	return handled, errors.Join(errs...)
}

// claim takes a one-shot entry out of name before it runs. The first
// claimer wins; the slot stays held until the invocation finishes.
func (b *Bus) claim(name string, e *entry) bool {
	if !e.fired.CompareAndSwap(false, true) {
		return false
	}
	b.mu.Lock()
	b.registry.hold(e.ref)
	b.registry.removeEntry(name, e)
	b.mu.Unlock()
	return true
}

func (b *Bus) unhold(ref HandlerRef) {
	b.mu.Lock()
	b.registry.release(ref)
	b.mu.Unlock()
}

// invoke runs one handler and routes its result. A held one-shot slot is
// released when the handler returns, or when its deferred task ends.
func (b *Bus) invoke(name string, e *entry, payload Payload) error {
	handedOff := false
	if e.once {
		defer func() {
			if !handedOff {
				b.unhold(e.ref)
			}
		}()
	}

	res := e.handler.Handle(payload)
	switch {
	case res.task != nil:
		var done func()
		if e.once {
			handedOff = true
			done = func() { b.unhold(e.ref) }
		}
		b.schedule(name, res.task, done)
	case res.err != nil:
		b.stats.inlineFailed.Add(1)
		return b.report(name, res.err)
	}
	return nil
}

// report routes a handler failure for source into the "error" event.
// Failures of "error" handlers are terminal: logged, never republished.
func (b *Bus) report(source string, err error) error {
	if source == ErrorEventName {
		b.stats.dropped.Add(1)
		b.logger.Error("error event handler failed", "error", err)
		return nil
	}

	b.logger.Debug("routing handler failure", "event", source, "error", err)
	_, perr := b.Publish(ErrorEventName, ErrorEvent{Err: err, Source: source})
	return perr
}

func uncaught(payload Payload) error {
	var cause error
	switch v := payload.(type) {
	case ErrorEvent:
		cause = v
	case *ErrorEvent:
		cause = v
	case error:
		cause = v
	}
	if cause == nil {
		return ErrUncaughtError
	}
	return fmt.Errorf("%w: %w", ErrUncaughtError, cause)
}

// ============================================================================
// Lifecycle
// ============================================================================

// Drain blocks until every deferred task scheduled so far has finished, or
// ctx is done.
func (b *Bus) Drain(ctx context.Context) error {
	return b.tasks.wait(ctx)
}

// Close cancels the context passed to deferred tasks and waits for them to
// return. Subscriptions are kept and publishing after Close still runs
// handlers inline, but the tasks they return are dropped without running
// and counted in Stats.Dropped.
func (b *Bus) Close(ctx context.Context) error {
	if b.closed.CompareAndSwap(false, true) {
		b.logger.Info("closing event bus", "pending_tasks", b.tasks.count())
		b.cancel()
	}
	return b.Drain(ctx)
}

// Stats returns a point-in-time copy of the dispatch counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	events := len(b.registry.events)
	handlers := b.registry.live()
	b.mu.RUnlock()

	return Stats{
		Published:      b.stats.published.Load(),
		Unhandled:      b.stats.unhandled.Load(),
		Invoked:        b.stats.invoked.Load(),
		InlineFailures: b.stats.inlineFailed.Load(),
		Scheduled:      b.stats.scheduled.Load(),
		TaskFailures:   b.stats.taskFailed.Load(),
		Dropped:        b.stats.dropped.Load(),
		Faults:         b.stats.faults.Load(),
		PendingTasks:   int64(b.tasks.count()),
		Events:         events,
		Handlers:       handlers,
	}
}
