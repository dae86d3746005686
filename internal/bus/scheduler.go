package bus

import (
	"context"
	"fmt"
	"sync"
)

// Scheduler runs deferred handler work without blocking the publisher.
type Scheduler interface {
	Go(fn func())
}

// SchedulerFunc adapts a function to the Scheduler interface.
type SchedulerFunc func(fn func())

// Go implements Scheduler.
func (f SchedulerFunc) Go(fn func()) {
	f(fn)
}

// GoroutineScheduler starts one goroutine per deferred task.
var GoroutineScheduler Scheduler = SchedulerFunc(func(fn func()) {
	go fn()
})

// schedule hands task to the scheduler and arranges for its failure to be
// republished under ErrorEventName with source as the originating event.
// done, when not nil, runs once the task has finished or was dropped.
func (b *Bus) schedule(source string, task Task, done func()) {
	if b.closed.Load() {
		b.stats.dropped.Add(1)
		b.logger.Warn("event bus closed, deferred task dropped", "event", source)
		if done != nil {
			done()
		}
		return
	}

	b.stats.scheduled.Add(1)
	b.tasks.add()

	b.scheduler.Go(func() {
		defer b.tasks.done()
		if done != nil {
			defer done()
		}

		err := runTask(b.ctx, task)
		if err == nil {
			return
		}

		b.stats.taskFailed.Add(1)
		if rerr := b.report(source, err); rerr != nil {
			b.stats.faults.Add(1)
			b.logger.Error("unhandled deferred failure", "event", source, "error", rerr)
			b.fault(rerr)
		}
	})
}

// runTask executes task, converting a panic into ErrHandlerPanic.
func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return task(ctx)
}

// tracker counts in-flight tasks and lets callers wait for zero.
//
// sync.WaitGroup forbids Add racing with Wait at a zero count, which is
// exactly what concurrent Publish and Drain do.
type tracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func newTracker() *tracker {
	ch := make(chan struct{})
	close(ch)
	return &tracker{idle: ch}
}

func (t *tracker) add() {
	t.mu.Lock()
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
	t.mu.Unlock()
}

func (t *tracker) done() {
	t.mu.Lock()
	t.n--
	if t.n == 0 {
		close(t.idle)
	}
	t.mu.Unlock()
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

func (t *tracker) wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
