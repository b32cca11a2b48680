package executor

import (
	"sync/atomic"

	"github.com/roach88/tickbridge/internal/channel"
)

// Handle is the external owner of a spawned task. It is itself a future:
// awaiting it yields the task's result.
//
// Go has no destructors, so cancellation is explicit: call Drop to cancel
// the task, or Detach to let it run unowned. Handles are driver-goroutine
// only.
type Handle[T any] struct {
	task     *Task
	done     *channel.Broadcast[T]
	rx       *channel.Receiver[T]
	released bool
}

// ID returns the task id.
func (h *Handle[T]) ID() uint64 {
	return h.task.id
}

// Poll resolves with the task's result once it finished.
func (h *Handle[T]) Poll(wake func()) (channel.Result[T], bool) {
	if h.rx == nil {
		h.rx = h.done.Subscribe()
	}
	return h.rx.Poll(wake)
}

// Done returns an independent receiver for the result, for additional
// awaiters.
func (h *Handle[T]) Done() *channel.Receiver[T] {
	return h.done.Subscribe()
}

// Finished reports whether the task completed, failed or was cancelled.
func (h *Handle[T]) Finished() bool {
	return h.task.done
}

// Drop cancels the task. The task stops at its current suspension point on
// the next poll. No-op after Detach or once the task finished.
func (h *Handle[T]) Drop() {
	if h.released {
		return
	}
	h.released = true
	if h.rx != nil {
		h.rx.Drop()
	}
	h.task.exec.cancel(h.task)
}

// Detach gives up ownership without cancelling. The task runs to completion.
func (h *Handle[T]) Detach() {
	h.released = true
}

// Marker is a strong reference in a reference-counted liveness check.
// Long-lived reactive tasks hold a Weak and skip their work while no strong
// marker is alive; queue.WithLiveness applies this to watches.
//
// The count is approximate: a marker kept around by code that no longer
// cares still reads as alive. It is not a leak detector.
type Marker struct {
	refs     *atomic.Int64
	released atomic.Bool
}

// NewMarker returns the first strong reference.
func NewMarker() *Marker {
	m := &Marker{refs: new(atomic.Int64)}
	m.refs.Add(1)
	return m
}

// Clone returns another strong reference to the same count.
func (m *Marker) Clone() *Marker {
	m.refs.Add(1)
	return &Marker{refs: m.refs}
}

// Release drops this strong reference. Idempotent per marker.
func (m *Marker) Release() {
	if m.released.CompareAndSwap(false, true) {
		m.refs.Add(-1)
	}
}

// Weak returns a non-owning view of the count.
func (m *Marker) Weak() Weak {
	return Weak{refs: m.refs}
}

// Weak observes a Marker's count without holding it.
type Weak struct {
	refs *atomic.Int64
}

// Alive reports whether any strong marker is still held.
func (w Weak) Alive() bool {
	return w.refs != nil && w.refs.Load() > 0
}

// Count returns the number of live strong markers.
func (w Weak) Count() int64 {
	if w.refs == nil {
		return 0
	}
	return w.refs.Load()
}
