package bus

import "sync/atomic"

// HandlerRef is the stable identity of a subscribed handler.
//
// Go functions are not comparable, so the bus boxes every handler in an arena
// slot and hands back a ref. The same ref can be attached to several event
// names; the slot is released once no event name refers to it and no
// one-shot invocation of it is still running.
type HandlerRef uint64

// entry is one subscription of a handler to an event name.
type entry struct {
	ref     HandlerRef
	handler Handler
	once    bool

	// fired is claimed by the first dispatch of a once entry. Snapshots share
	// the pointer so two concurrent publishes cannot both run it.
	fired *atomic.Bool
}

// slot is an arena cell holding a boxed handler.
type slot struct {
	handler Handler
	holds   int // attached event names plus running one-shot invocations
}

// registry maps event names to ordered subscriptions.
//
// It has no locking of its own; the owning Bus guards every call.
type registry struct {
	events  map[string][]*entry
	arena   map[HandlerRef]*slot
	nextRef HandlerRef
}

func newRegistry() *registry {
	return &registry{
		events: make(map[string][]*entry),
		arena:  make(map[HandlerRef]*slot),
	}
}

// add boxes h in a fresh arena slot and appends it to name.
func (r *registry) add(name string, h Handler, once bool) HandlerRef {
	r.nextRef++
	ref := r.nextRef
	r.arena[ref] = &slot{handler: h}
	r.attach(name, ref, once) //nolint:errcheck // ref was just created
	return ref
}

// attach subscribes an existing handler to name. When ref is already
// subscribed to name the entry is replaced in place, keeping its position but
// taking the new once mode.
func (r *registry) attach(name string, ref HandlerRef, once bool) error {
	s, ok := r.arena[ref]
	if !ok {
		return ErrUnknownHandler
	}

	e := &entry{ref: ref, handler: s.handler, once: once, fired: new(atomic.Bool)}

	list := r.events[name]
	for i, existing := range list {
		if existing.ref == ref {
			updated := make([]*entry, len(list))
			copy(updated, list)
			updated[i] = e
			r.events[name] = updated
			return nil
		}
	}

	updated := make([]*entry, len(list), len(list)+1)
	copy(updated, list)
	r.events[name] = append(updated, e)
	s.holds++
	return nil
}

// remove deletes ref from name. Returns false if it was not subscribed.
func (r *registry) remove(name string, ref HandlerRef) bool {
	list := r.events[name]
	for i, e := range list {
		if e.ref == ref {
			r.splice(name, list, i)
			return true
		}
	}
	return false
}

// removeEntry deletes e from name only if it is still the live subscription
// for its ref. A replaced entry is left alone.
func (r *registry) removeEntry(name string, target *entry) bool {
	list := r.events[name]
	for i, e := range list {
		if e == target {
			r.splice(name, list, i)
			return true
		}
	}
	return false
}

// splice removes list[i] from name, always allocating a new slice so that
// snapshots taken earlier are untouched.
func (r *registry) splice(name string, list []*entry, i int) {
	ref := list[i].ref

	if len(list) == 1 {
		delete(r.events, name)
	} else {
		updated := make([]*entry, 0, len(list)-1)
		updated = append(updated, list[:i]...)
		updated = append(updated, list[i+1:]...)
		r.events[name] = updated
	}

	r.release(ref)
}

// hold pins the slot of ref while a one-shot invocation runs, so that the
// handler can re-arm itself after its entry was removed. Pair with release.
func (r *registry) hold(ref HandlerRef) {
	if s, ok := r.arena[ref]; ok {
		s.holds++
	}
}

// release drops one hold from the arena slot, freeing it at zero.
func (r *registry) release(ref HandlerRef) {
	s, ok := r.arena[ref]
	if !ok {
		return
	}
	s.holds--
	if s.holds <= 0 {
		delete(r.arena, ref)
	}
}

// clear drops every subscription of name.
func (r *registry) clear(name string) {
	for _, e := range r.events[name] {
		r.release(e.ref)
	}
	delete(r.events, name)
}

// clearAll drops every subscription of every event name.
func (r *registry) clearAll() {
	r.events = make(map[string][]*entry)
	r.arena = make(map[HandlerRef]*slot)
}

// refs returns the handler refs subscribed to name, in order.
func (r *registry) refs(name string) []HandlerRef {
	list := r.events[name]
	if len(list) == 0 {
		return nil
	}
	out := make([]HandlerRef, len(list))
	for i, e := range list {
		out[i] = e.ref
	}
	return out
}

// snapshot returns the current subscriptions of name. The returned slice is
// never mutated by the registry.
func (r *registry) snapshot(name string) []*entry {
	return r.events[name]
}

// names returns the event names that have at least one subscriber.
func (r *registry) names() []string {
	out := make([]string, 0, len(r.events))
	for name := range r.events {
		out = append(out, name)
	}
	return out
}

// live reports how many handlers are held in the arena.
func (r *registry) live() int {
	return len(r.arena)
}
