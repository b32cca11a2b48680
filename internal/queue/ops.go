package queue

import (
	"github.com/roach88/tickbridge/internal/cancel"
	"github.com/roach88/tickbridge/internal/channel"
	"github.com/roach88/tickbridge/internal/errs"
)

// The typed helpers below create a channel and must be called from the
// driver goroutine (usually from inside a task). Use Submit from other
// goroutines.

// Once queues fn for the next drain and returns the receiver for its result.
//
// fn runs even if the receiver is dropped before the drain; only delivery is
// skipped. A returned error, or a recovered panic, is delivered as the
// payload. If the queue is closed the receiver resolves with QueueClosed.
func Once[S, T any](q *Queue[S], fn func(s *S) (T, error)) *channel.Receiver[T] {
	tx, rx := channel.New[T]()
	ok := q.pushOnce(func(s *S) {
		v, err := callOnce(fn, s)
		_ = tx.Deliver(channel.Result[T]{Value: v, Err: err})
	})
	if !ok {
		_ = tx.Fail(errs.ErrQueueClosed)
	}
	return rx
}

func callOnce[S, T any](fn func(s *S) (T, error), s *S) (v T, err error) {
	defer recoverInto(&err)
	return fn(s)
}

// WatchOption configures a repeat entry.
type WatchOption func(*repeatConfig)

type repeatConfig struct {
	every int
	alive func() bool
}

// Liveness is satisfied by executor.Weak.
type Liveness interface {
	Alive() bool
}

// WithThrottle runs the watch on every n-th pass instead of every pass.
// The first pass always runs. Values below 2 keep the default busy-poll.
func WithThrottle(n int) WatchOption {
	return func(c *repeatConfig) {
		c.every = n
	}
}

// WithLiveness skips the watch on passes where l reports nothing alive. The
// entry stays queued and runs again once a strong reference is held.
func WithLiveness(l Liveness) WatchOption {
	return func(c *repeatConfig) {
		c.alive = l.Alive
	}
}

// Watch queues fn to run on every drain pass until it returns true, then
// delivers the value it returned alongside true.
//
// The entry is dropped without running once the receiver is dropped, and
// resolves with Cancelled once tok is set. A panic stops the watch and is
// delivered as a PanicError payload.
func Watch[S, T any](q *Queue[S], fn func(s *S) (T, bool), tok cancel.Token, opts ...WatchOption) *channel.Receiver[T] {
	cfg := repeatConfig{every: 1}
	for _, opt := range opts {
		opt(&cfg)
	}

	tx, rx := channel.New[T]()
	e := &repeatEntry[S]{
		token:     tok,
		abandoned: tx.Closed,
		cancelled: func() { _ = tx.Fail(errs.ErrCancelled) },
		every:     cfg.every,
		alive:     cfg.alive,
		run: func(s *S) bool {
			v, done, err := callWatch(fn, s)
			if err != nil {
				_ = tx.Fail(err)
				return true
			}
			if !done {
				return false
			}
			_ = tx.Send(v)
			return true
		},
	}
	if e.every > 1 {
		// Run on the first pass, then every n-th.
		e.skipped = e.every - 1
	}

	if !q.pushRepeat(e) {
		_ = tx.Fail(errs.ErrQueueClosed)
	}
	return rx
}

func callWatch[S, T any](fn func(s *S) (T, bool), s *S) (v T, done bool, err error) {
	defer recoverInto(&err)
	v, done = fn(s)
	return v, done, nil
}

// Read queues a read-only closure for the concurrent read phase of the next
// tick. fn must not mutate the store.
func Read[S, T any](q *Queue[S], fn func(s *S) (T, error)) *channel.Receiver[T] {
	tx, rx := channel.New[T]()
	ok := q.pushRead(func(s *S) {
		v, err := callOnce(fn, s)
		_ = tx.Deliver(channel.Result[T]{Value: v, Err: err})
	})
	if !ok {
		_ = tx.Fail(errs.ErrQueueClosed)
	}
	return rx
}
