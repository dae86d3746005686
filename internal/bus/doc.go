// Package bus provides the in-process event bus for the Home Awareness hub.
//
// The bus decouples the collaborators of the hub from one another: the Wi-Fi
// scanner, the presence tracker, the media player controller, the MQTT bridge
// and the web layer only ever talk to a shared *Bus, never to each other.
//
// # Architecture
//
// The bus is made of three cooperating parts:
//
//   - Registry: per-event-name, insertion-ordered subscriptions plus an arena
//     of boxed handlers addressed by HandlerRef.
//   - Dispatcher: Publish snapshots the subscribers of an event name and
//     invokes them in registration order.
//   - Scheduler: runs deferred handler work outside the publishing call and
//     routes failures back into the bus as an "error" event.
//
//	producer ──Publish(name, payload)──► Dispatcher ──► handler (inline)
//	                                        │
//	                                        └──► Scheduler ──► Task(ctx)
//	                                                 │ failure
//	                                                 ▼
//	                                      Publish("error", ErrorEvent)
//
// # Handlers
//
// A Handler returns a tagged Result. Done and Fail complete inline; Later
// hands a Task to the Scheduler and Publish continues with the next handler
// without waiting:
//
//	b := bus.New(bus.WithLogger(log))
//
//	b.Subscribe(bus.ErrorEventName, bus.Sync(func(p bus.Payload) {
//	    log.Error("handler failed", "error", p)
//	}))
//
//	b.Subscribe("tracking.action.shutdown", bus.Async(func(ctx context.Context, _ bus.Payload) error {
//	    return player.Pause(ctx)
//	}))
//
//	handled, err := b.Publish("tracking.action.shutdown", bus.Event{})
//
// # Failure routing
//
// Failed handlers are never retried. Their error is published as an
// ErrorEvent under ErrorEventName, carrying the name of the event that was
// being handled. Publishing "error" with no subscriber is a programming
// omission: Publish returns ErrUncaughtError, and deferred failures hand the
// fault to the configured fault handler (which panics by default).
//
// # Thread Safety
//
// All methods are safe for concurrent use. The registry lock is held only to
// copy or mutate subscriptions and is never held while a handler runs, so
// handlers may publish and subscribe reentrantly.
package bus
