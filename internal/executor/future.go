package executor

import (
	"github.com/roach88/tickbridge/internal/channel"
)

// Future is anything a task can suspend on. Poll returns the value once
// ready; otherwise it arranges for wake to be called when progress is
// possible and returns false. Spurious wakes are allowed, so Poll may be
// called again before anything changed.
//
// channel.Receiver, cell.Changed and Handle all satisfy Future.
type Future[T any] interface {
	Poll(wake func()) (T, bool)
}

// FutureFunc adapts a plain poll function.
type FutureFunc[T any] func(wake func()) (T, bool)

// Poll calls f.
func (f FutureFunc[T]) Poll(wake func()) (T, bool) {
	return f(wake)
}

// Ready returns a future that resolves with v on the first poll.
func Ready[T any](v T) Future[T] {
	return FutureFunc[T](func(func()) (T, bool) { return v, true })
}

// Pending returns a future that never resolves.
func Pending[T any]() Future[T] {
	return FutureFunc[T](func(func()) (T, bool) {
		var zero T
		return zero, false
	})
}

// Map transforms the value of f once it resolves. Dropping the mapped
// future drops f.
func Map[T, U any](f Future[T], fn func(T) U) Future[U] {
	return &mapped[T, U]{f: f, fn: fn}
}

type mapped[T, U any] struct {
	f  Future[T]
	fn func(T) U
}

func (m *mapped[T, U]) Poll(wake func()) (U, bool) {
	v, ok := m.f.Poll(wake)
	if !ok {
		var zero U
		return zero, false
	}
	return m.fn(v), true
}

func (m *mapped[T, U]) Drop() {
	if d, ok := m.f.(dropper); ok {
		d.Drop()
	}
}

type dropper interface {
	Drop()
}

// Race suspends t until one of futures resolves and returns its index and
// value. Futures are polled in argument order on every resume, so ties go to
// the earliest argument. Losing futures that can be dropped (receivers,
// handles) are dropped.
func Race[T any](t *Task, futures ...Future[T]) (int, T) {
	if len(futures) == 0 {
		panic("executor: Race needs at least one future")
	}
	for {
		for i, f := range futures {
			if v, ok := f.Poll(t.wake); ok {
				for j, other := range futures {
					if j == i {
						continue
					}
					if d, ok := other.(dropper); ok {
						d.Drop()
					}
				}
				return i, v
			}
		}
		t.park(func() {
			for _, f := range futures {
				if d, ok := f.(dropper); ok {
					d.Drop()
				}
			}
		})
	}
}

// Await suspends t until f resolves. If the task is cancelled while
// waiting, f is dropped when it supports it.
func Await[T any](t *Task, f Future[T]) T {
	for {
		if v, ok := f.Poll(t.wake); ok {
			return v
		}
		t.park(func() {
			if d, ok := f.(dropper); ok {
				d.Drop()
			}
		})
	}
}

// AwaitResult awaits a future of channel results and splits the result.
func AwaitResult[T any](t *Task, f Future[channel.Result[T]]) (T, error) {
	return Await(t, f).Unwrap()
}
