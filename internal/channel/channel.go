// Package channel provides the single-threaded oneshot cell used to hand one
// result from a deferred store closure back to a suspended task, plus a
// broadcast variant that fans one result out to several receivers.
//
// Channels are not safe for concurrent use. Both ends are touched only from
// the driver goroutine (store closures during the drain, tasks during the
// executor run), so no locking is needed.
package channel

import (
	"github.com/roach88/tickbridge/internal/errs"
)

// Result is what a receiver observes: a value or an error payload.
// A closed channel yields Err = errs.ErrChannelClosed.
type Result[T any] struct {
	Value T
	Err   error
}

// Unwrap splits the result into the usual (value, error) pair.
func (r Result[T]) Unwrap() (T, error) {
	return r.Value, r.Err
}

// OK returns a successful result.
func OK[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail returns an error result.
func Fail[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

type state uint8

const (
	statePending state = iota
	stateReady
	stateClosed
)

type slot[T any] struct {
	state        state
	result       Result[T]
	wake         func()
	receiverGone bool
}

// Sender is the producing half. It is normally held by a queue entry.
type Sender[T any] struct {
	s *slot[T]
}

// Receiver is the consuming half. It is a future: Poll resolves once.
type Receiver[T any] struct {
	s *slot[T]
}

// New creates a connected oneshot pair.
func New[T any]() (*Sender[T], *Receiver[T]) {
	s := &slot[T]{}
	return &Sender[T]{s: s}, &Receiver[T]{s: s}
}

// Resolved returns a receiver that already holds r.
func Resolved[T any](r Result[T]) *Receiver[T] {
	return &Receiver[T]{s: &slot[T]{state: stateReady, result: r}}
}

// Send delivers v.
//
// Returns errs.ErrChannelClosed when the receiver was dropped (the value is
// discarded) and a ShouldNotHappen error when the channel already resolved.
func (tx *Sender[T]) Send(v T) error {
	return tx.resolve(Result[T]{Value: v})
}

// Fail delivers err as the payload.
func (tx *Sender[T]) Fail(err error) error {
	return tx.resolve(Result[T]{Err: err})
}

// Deliver sends a prepared result.
func (tx *Sender[T]) Deliver(r Result[T]) error {
	return tx.resolve(r)
}

func (tx *Sender[T]) resolve(r Result[T]) error {
	s := tx.s
	if s.state != statePending {
		return errs.ShouldNotHappen("channel resolved twice")
	}
	if s.receiverGone {
		s.state = stateClosed
		return errs.ErrChannelClosed
	}
	s.state = stateReady
	s.result = r
	s.fire()
	return nil
}

// Close drops the sender. A pending receiver resolves with ChannelClosed.
// Closing a resolved channel is a no-op.
func (tx *Sender[T]) Close() {
	s := tx.s
	if s.state != statePending {
		return
	}
	s.state = stateClosed
	s.fire()
}

// Closed reports whether the receiver was dropped. Producers use it to stop
// re-running work nobody listens to.
func (tx *Sender[T]) Closed() bool {
	return tx.s.receiverGone
}

// Pending reports whether the channel has not resolved yet.
func (tx *Sender[T]) Pending() bool {
	return tx.s.state == statePending
}

func (s *slot[T]) fire() {
	if w := s.wake; w != nil {
		s.wake = nil
		w()
	}
}

// Poll returns the result once the channel resolved. Otherwise it stores
// wake (replacing any previous waker) and returns false.
func (rx *Receiver[T]) Poll(wake func()) (Result[T], bool) {
	s := rx.s
	switch s.state {
	case stateReady:
		return s.result, true
	case stateClosed:
		return Result[T]{Err: errs.ErrChannelClosed}, true
	}
	s.wake = wake
	return Result[T]{}, false
}

// TryRecv polls without registering a waker.
func (rx *Receiver[T]) TryRecv() (Result[T], bool) {
	return rx.Poll(nil)
}

// Drop abandons the receiver. Further sends are discarded and the sender's
// Closed reports true.
func (rx *Receiver[T]) Drop() {
	s := rx.s
	s.receiverGone = true
	s.wake = nil
	var zero Result[T]
	s.result = zero
}
