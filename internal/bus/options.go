package bus

import "sync/atomic"

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(l Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithScheduler replaces the goroutine-per-task scheduler.
func WithScheduler(s Scheduler) Option {
	return func(b *Bus) {
		if s != nil {
			b.scheduler = s
		}
	}
}

// WithFaultHandler replaces PanicOnFault.
func WithFaultHandler(f FaultHandler) Option {
	return func(b *Bus) {
		if f != nil {
			b.fault = f
		}
	}
}

// Stats is a snapshot of bus activity, exported for metrics.
type Stats struct {
	Published      uint64 `json:"published"`       // Publish calls, including "error" republishes
	Unhandled      uint64 `json:"unhandled"`       // Publish calls that invoked no handler
	Invoked        uint64 `json:"invoked"`         // handler invocations
	InlineFailures uint64 `json:"inline_failures"` // handlers that returned Fail
	Scheduled      uint64 `json:"scheduled"`       // deferred tasks handed to the scheduler
	TaskFailures   uint64 `json:"task_failures"`   // deferred tasks that returned an error or panicked
	Dropped        uint64 `json:"dropped"`         // failures of "error" handlers, and tasks refused after Close
	Faults         uint64 `json:"faults"`          // deferred failures nobody handled
	PendingTasks   int64  `json:"pending_tasks"`
	Events         int    `json:"events"`   // event names with subscribers
	Handlers       int    `json:"handlers"` // live handlers in the arena
}

type counters struct {
	published    atomic.Uint64
	unhandled    atomic.Uint64
	invoked      atomic.Uint64
	inlineFailed atomic.Uint64
	scheduled    atomic.Uint64
	taskFailed   atomic.Uint64
	dropped      atomic.Uint64
	faults       atomic.Uint64
}
