// Package executor runs tasks written in direct style as cooperative
// coroutines on the driver goroutine.
//
// Each task is an iter.Pull coroutine. Exactly one task runs at a time and
// control only changes hands at a suspension point (Await, Race, Yield).
// The executor polls ready tasks in FIFO order: spawn order first, then the
// order in which they were woken.
//
// WAKES:
// Futures call the task's waker when progress is possible. Wakers may fire
// from any goroutine (cell writes, read-phase workers), so they land in a
// mutex-guarded inbox. The driver moves the inbox into the ready queue; a
// task woken several times before it runs is polled once.
//
// CANCELLATION:
// Dropping a Handle marks its task. The next time the task is polled its
// coroutine is stopped: the pending suspension panics with an internal
// sentinel, deferred calls in the task run, and the handle resolves with
// Cancelled. Work the task already handed off (queue entries) still runs;
// only delivery is skipped.
package executor

import (
	"iter"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/tickbridge/internal/channel"
	"github.com/roach88/tickbridge/internal/errs"
)

type unwindSignal struct{}

// errUnwind is the panic value used to unwind a stopped coroutine.
var errUnwind = &unwindSignal{}

// Task is the per-task handle passed to the task body. It is only valid
// inside that body.
type Task struct {
	id   uint64
	exec *Executor

	next  func() (struct{}, bool)
	stop  func()
	yield func(struct{}) bool
	wake  func()

	// finish delivers a result when the coroutine never got to run.
	finish func(err error)

	dropped bool
	done    bool
}

// ID returns the task id. Ids increase in spawn order.
func (t *Task) ID() uint64 {
	return t.id
}

// Cancelled reports whether the task's handle was dropped.
func (t *Task) Cancelled() bool {
	return t.dropped
}

// Waker returns the function that schedules this task.
func (t *Task) Waker() func() {
	return t.wake
}

// suspend hands control back to the driver until the task is polled again.
func (t *Task) suspend() {
	if t.dropped {
		panic(errUnwind)
	}
	if !t.yield(struct{}{}) || t.dropped {
		panic(errUnwind)
	}
}

// park suspends like suspend and calls release if the task is unwound
// while parked.
func (t *Task) park(release func()) {
	defer func() {
		if r := recover(); r != nil {
			if r == errUnwind {
				release()
			}
			panic(r)
		}
	}()
	t.suspend()
}

// Yield suspends the task until the next driver tick.
func (t *Task) Yield() {
	e := t.exec
	want := e.pass + 1
	e.deferred = append(e.deferred, t.id)
	for e.pass < want {
		t.suspend()
	}
}

// Stats are cumulative executor counters.
type Stats struct {
	Spawned   uint64
	Completed uint64
	Polls     uint64
	Wakes     uint64
}

// Executor owns the task set. Everything except wakers runs on the driver
// goroutine.
type Executor struct {
	mu    sync.Mutex
	inbox []uint64

	tasks    map[uint64]*Task
	ready    []uint64
	spare    []uint64
	queued   mapset.Set[uint64]
	deferred []uint64
	nextID   uint64
	pass     uint64
	running  *Task

	stats  Stats
	logger *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger for recovered task panics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// New creates an idle executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		tasks:  make(map[uint64]*Task),
		queued: mapset.NewThreadUnsafeSet[uint64](),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Spawn starts fn as a new task. The task is ready immediately; when spawned
// from inside another task it runs within the same RunUntilStalled call.
func Spawn[T any](e *Executor, fn func(t *Task) (T, error)) *Handle[T] {
	e.nextID++
	t := &Task{id: e.nextID, exec: e}
	id := t.id
	t.wake = func() { e.wake(id) }

	done := channel.NewBroadcast[T]()
	t.finish = func(err error) {
		if t.done {
			return
		}
		t.done = true
		done.Deliver(channel.Fail[T](err))
	}

	seq := func(yield func(struct{}) bool) {
		t.yield = yield

		var (
			v   T
			err error
		)
		defer func() {
			if r := recover(); r != nil {
				var zero T
				v = zero
				if r == errUnwind {
					err = errs.ErrCancelled
				} else {
					e.logger.Warn("task panicked",
						"task", id,
						"panic", r,
					)
					err = &errs.PanicError{Value: r, Stack: debug.Stack()}
				}
			}
			t.done = true
			done.Deliver(channel.Result[T]{Value: v, Err: err})
		}()

		v, err = fn(t)
	}
	t.next, t.stop = iter.Pull(seq)

	e.tasks[id] = t
	e.stats.Spawned++
	e.schedule(id)

	return &Handle[T]{task: t, done: done}
}

// wake is the thread-safe entry point used by wakers.
func (e *Executor) wake(id uint64) {
	e.mu.Lock()
	e.inbox = append(e.inbox, id)
	e.mu.Unlock()
}

func (e *Executor) flushInbox() int {
	e.mu.Lock()
	ids := e.inbox
	e.inbox = nil
	e.mu.Unlock()

	for _, id := range ids {
		e.schedule(id)
	}
	e.stats.Wakes += uint64(len(ids))
	return len(ids)
}

func (e *Executor) schedule(id uint64) {
	if _, ok := e.tasks[id]; !ok {
		return
	}
	if e.queued.Add(id) {
		e.ready = append(e.ready, id)
	}
}

func (e *Executor) cancel(t *Task) {
	if t.done || t.dropped {
		return
	}
	t.dropped = true
	if e.running != t {
		e.schedule(t.id)
	}
}

func (e *Executor) poll(t *Task) {
	e.running = t
	if t.dropped {
		t.stop()
	} else {
		t.next()
	}
	e.running = nil
	e.stats.Polls++

	if t.dropped && !t.done {
		// Stopped before the body ever ran.
		t.stop()
		t.finish(errs.ErrCancelled)
	}
	if t.done {
		delete(e.tasks, t.id)
		e.stats.Completed++
	}
}

// Advance schedules every task that yielded since the last call and pulls
// in pending wakes. The driver calls it once per tick before
// RunUntilStalled.
func (e *Executor) Advance() int {
	e.pass++
	n := len(e.deferred)
	for _, id := range e.deferred {
		e.schedule(id)
	}
	clear(e.deferred)
	e.deferred = e.deferred[:0]
	e.flushInbox()
	return n
}

// RunUntilStalled polls ready tasks until none are left and returns how many
// polls happened. Tasks woken or spawned during the run are polled in the
// same call, so a chain of immediately-ready continuations completes here.
func (e *Executor) RunUntilStalled() int {
	if e.running != nil {
		e.logger.Warn("RunUntilStalled called from inside a task", "task", e.running.id)
		return 0
	}

	polled := 0
	for {
		e.flushInbox()
		if len(e.ready) == 0 {
			return polled
		}

		batch := e.ready
		e.ready = e.spare[:0]
		for i, id := range batch {
			batch[i] = 0
			e.queued.Remove(id)
			t, ok := e.tasks[id]
			if !ok {
				continue
			}
			e.poll(t)
			polled++
		}
		e.spare = batch[:0]
	}
}

// Close stops every live task in spawn order. Their handles resolve with
// Cancelled. Tasks spawned by unwinding defers are stopped too; the count
// includes them.
func (e *Executor) Close() int {
	stopped := 0
	for len(e.tasks) > 0 {
		ids := slices.Sorted(maps.Keys(e.tasks))
		for _, id := range ids {
			t, ok := e.tasks[id]
			if !ok {
				continue
			}
			t.dropped = true
			e.poll(t)
			stopped++
		}
	}
	e.ready = e.ready[:0]
	e.queued.Clear()
	e.deferred = e.deferred[:0]
	return stopped
}

// Live returns the number of tasks that have not finished.
func (e *Executor) Live() int {
	return len(e.tasks)
}

// Ready returns the number of tasks queued for the next poll, including
// wakes not yet moved out of the inbox.
func (e *Executor) Ready() int {
	e.mu.Lock()
	pending := len(e.inbox)
	e.mu.Unlock()
	return len(e.ready) + pending
}

// Yielded returns the number of tasks waiting for the next Advance.
func (e *Executor) Yielded() int {
	return len(e.deferred)
}

// Stats returns the cumulative counters.
func (e *Executor) Stats() Stats {
	return e.stats
}
