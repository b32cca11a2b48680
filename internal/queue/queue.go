// Package queue implements the deferred queue: the only path by which a
// suspended task touches the store.
//
// Three kinds of entries exist:
//   - Once: runs exactly once on the next drain, FIFO by submission
//   - Repeat (watch): runs on every pass until it reports done
//   - Read: read-only closures run concurrently in a fully-joined phase
//     before any mutating phase of the same tick
//
// Submission is thread-safe. Draining must happen on the driver goroutine,
// which owns the store for the duration of the call.
//
// ORDERING:
// Once entries linearize mutations from racing tasks by arrival order, not by
// completion order. Entries submitted while a drain runs land in the next
// drain, so a closure that submits more work never extends the current pass.
package queue

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/tickbridge/internal/errs"
)

type onceEntry[S any] struct {
	seq uint64
	run func(s *S)
}

type repeatEntry[S any] struct {
	seq uint64

	// run returns true once the entry is finished.
	run func(s *S) bool

	// token is checked before every invocation.
	token tokenChecker

	// abandoned reports whether nobody listens for the result anymore.
	abandoned func() bool

	// cancelled resolves the listener when the token fires.
	cancelled func()

	every   int
	skipped int

	// alive gates each invocation; nil means always.
	alive func() bool
}

// tokenChecker is satisfied by cancel.Token.
type tokenChecker interface {
	Cancelled() bool
}

// Queue holds pending closures over a store of type S.
//
// The once slice is double-buffered so a steady stream of submissions does
// not allocate on every tick.
type Queue[S any] struct {
	mu     sync.Mutex
	once   []onceEntry[S]
	spare  []onceEntry[S]
	repeat []*repeatEntry[S]
	reads  []func(s *S)
	closed bool
	seq    uint64

	logger *slog.Logger
}

// Option configures a Queue.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for recovered panics in fire-and-forget
// closures. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New creates an empty queue.
func New[S any](opts ...Option) *Queue[S] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Queue[S]{
		once:   make([]onceEntry[S], 0, 64), // Pre-allocate for typical workloads
		logger: o.logger,
	}
}

func (q *Queue[S]) pushOnce(run func(s *S)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.seq++
	q.once = append(q.once, onceEntry[S]{seq: q.seq, run: run})
	return true
}

func (q *Queue[S]) pushRepeat(e *repeatEntry[S]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.seq++
	e.seq = q.seq
	q.repeat = append(q.repeat, e)
	return true
}

func (q *Queue[S]) pushRead(run func(s *S)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.seq++
	q.reads = append(q.reads, run)
	return true
}

// Submit queues a fire-and-forget closure for the next drain.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the queue is closed. A panic inside fn is recovered and
// logged.
func (q *Queue[S]) Submit(fn func(s *S)) bool {
	return q.pushOnce(func(s *S) {
		defer func() {
			if r := recover(); r != nil {
				q.logger.Warn("submitted closure panicked",
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn(s)
	})
}

// DrainOnce runs every Once entry queued before the call, in submission
// order, and returns how many ran.
//
// Entries submitted during the drain are deferred to the next call.
func (q *Queue[S]) DrainOnce(s *S) int {
	q.mu.Lock()
	batch := q.once
	q.once = q.spare[:0]
	q.spare = nil
	q.mu.Unlock()

	for i := range batch {
		batch[i].run(s)

		// Nil out the slot so captured store pointers and channels can be
		// collected while the buffer waits for reuse.
		batch[i] = onceEntry[S]{}
	}

	q.mu.Lock()
	if q.spare == nil {
		q.spare = batch[:0]
	}
	q.mu.Unlock()

	return len(batch)
}

// RepeatStats summarizes one retain-filter pass over the repeat queue.
type RepeatStats struct {
	Ran       int // entries invoked
	Kept      int // entries that will run again next pass
	Completed int // entries that reported done
	Cancelled int // entries dropped because their token fired
	Abandoned int // entries dropped because nobody listens anymore
	Throttled int // entries skipped this pass by WithThrottle
	Dormant   int // entries skipped this pass by WithLiveness
}

// RunRepeat invokes each repeat entry and keeps those not yet done.
//
// Cancelled entries resolve their listener with Cancelled and are dropped
// without running. Abandoned entries are dropped silently. Entries submitted
// during the pass are appended after the survivors and first run next pass.
func (q *Queue[S]) RunRepeat(s *S) RepeatStats {
	q.mu.Lock()
	batch := q.repeat
	q.repeat = nil
	q.mu.Unlock()

	var st RepeatStats
	kept := batch[:0]
	for _, e := range batch {
		if e.token != nil && e.token.Cancelled() {
			if e.cancelled != nil {
				e.cancelled()
			}
			st.Cancelled++
			continue
		}
		if e.abandoned != nil && e.abandoned() {
			st.Abandoned++
			continue
		}
		if e.alive != nil && !e.alive() {
			st.Dormant++
			kept = append(kept, e)
			continue
		}
		if e.every > 1 {
			e.skipped++
			if e.skipped < e.every {
				st.Throttled++
				kept = append(kept, e)
				continue
			}
			e.skipped = 0
		}

		st.Ran++
		if e.run(s) {
			st.Completed++
			continue
		}
		kept = append(kept, e)
	}
	clear(batch[len(kept):])
	st.Kept = len(kept)

	q.mu.Lock()
	q.repeat = append(kept, q.repeat...)
	q.mu.Unlock()

	return st
}

// RunReads executes every queued read closure concurrently on at most
// workers goroutines (unbounded if workers <= 0) and waits for all of them.
//
// The closures must not mutate the store. The phase is fully joined before
// RunReads returns, so it never overlaps a mutating phase.
func (q *Queue[S]) RunReads(s *S, workers int) int {
	q.mu.Lock()
	batch := q.reads
	q.reads = nil
	q.mu.Unlock()

	if len(batch) == 0 {
		return 0
	}

	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}
	for _, fn := range batch {
		g.Go(func() error {
			fn(s)
			return nil
		})
	}
	_ = g.Wait()

	return len(batch)
}

// Len returns the number of pending Once entries.
func (q *Queue[S]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.once)
}

// RepeatLen returns the number of live repeat entries.
func (q *Queue[S]) RepeatLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.repeat)
}

// ReadLen returns the number of pending read closures.
func (q *Queue[S]) ReadLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.reads)
}

// Close rejects further submissions. Entries already queued still run.
// Idempotent.
func (q *Queue[S]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Closed reports whether Close was called.
func (q *Queue[S]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// recoverInto converts a panic into a PanicError payload.
func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = &errs.PanicError{Value: r, Stack: debug.Stack()}
	}
}
