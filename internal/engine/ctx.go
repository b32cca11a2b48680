package engine

import (
	"time"

	"github.com/roach88/tickbridge/internal/cancel"
	"github.com/roach88/tickbridge/internal/cell"
	"github.com/roach88/tickbridge/internal/channel"
	"github.com/roach88/tickbridge/internal/errs"
	"github.com/roach88/tickbridge/internal/executor"
	"github.com/roach88/tickbridge/internal/queue"
	"github.com/roach88/tickbridge/internal/routine"
)

// Ctx is the task context. It is handed to the task body and is only valid
// inside it; every engine call a task makes goes through it.
type Ctx[S any] struct {
	task *executor.Task
	eng  *Engine[S]
}

// Spawn starts fn as a task. The handle must be dropped to cancel the task or
// detached to let it run unowned.
func Spawn[S, T any](e *Engine[S], fn func(c *Ctx[S]) (T, error)) *executor.Handle[T] {
	return executor.Spawn(e.exec, func(t *executor.Task) (T, error) {
		return fn(&Ctx[S]{task: t, eng: e})
	})
}

// Go spawns fn and detaches it.
func Go[S any](e *Engine[S], fn func(c *Ctx[S]) error) {
	h := Spawn(e, func(c *Ctx[S]) (struct{}, error) {
		return struct{}{}, fn(c)
	})
	h.Detach()
}

// Engine returns the engine running this task.
func (c *Ctx[S]) Engine() *Engine[S] {
	return c.eng
}

// Task returns the executor task, for use with executor.Await and Race.
func (c *Ctx[S]) Task() *executor.Task {
	return c.task
}

// ID returns the task id.
func (c *Ctx[S]) ID() uint64 {
	return c.task.ID()
}

// Tick returns the number of the main tick currently running.
func (c *Ctx[S]) Tick() uint64 {
	return c.eng.clock.Current()
}

// Now returns the host time pushed for the current tick.
func (c *Ctx[S]) Now() time.Duration {
	return c.eng.timers.Now()
}

// Frame returns the host frame pushed for the current tick.
func (c *Ctx[S]) Frame() uint64 {
	return c.eng.timers.Frame()
}

// Yield suspends until the next tick.
func (c *Ctx[S]) Yield() {
	c.task.Yield()
}

// Sleep suspends until host time advanced by d.
func (c *Ctx[S]) Sleep(d time.Duration) {
	executor.Await(c.task, c.eng.timers.Sleep(d))
}

// SleepUntil suspends until host time reaches deadline.
func (c *Ctx[S]) SleepUntil(deadline time.Duration) {
	executor.Await(c.task, c.eng.timers.SleepUntil(deadline))
}

// SleepFrames suspends until the host frame counter advanced by n.
func (c *Ctx[S]) SleepFrames(n uint64) {
	executor.Await(c.task, c.eng.timers.SleepFrames(n))
}

// Once queues fn for the next drain and returns its receiver without
// waiting, for use with Race or Timeout.
func Once[S, T any](c *Ctx[S], fn func(s *S) (T, error)) *channel.Receiver[T] {
	return queue.Once(c.eng.queue, fn)
}

// Do queues fn for the next drain and waits for its result.
func Do[S, T any](c *Ctx[S], fn func(s *S) (T, error)) (T, error) {
	return executor.AwaitResult(c.task, Once(c, fn))
}

// Mutate is Do for closures without a result.
func Mutate[S any](c *Ctx[S], fn func(s *S)) error {
	_, err := Do(c, func(s *S) (struct{}, error) {
		fn(s)
		return struct{}{}, nil
	})
	return err
}

// Watch queues fn to run on every pass until it reports done and returns its
// receiver without waiting.
func Watch[S, T any](c *Ctx[S], fn func(s *S) (T, bool), tok cancel.Token, opts ...queue.WatchOption) *channel.Receiver[T] {
	if c.eng.watchThrottle > 1 {
		opts = append([]queue.WatchOption{queue.WithThrottle(c.eng.watchThrottle)}, opts...)
	}
	return queue.Watch(c.eng.queue, fn, tok, opts...)
}

// WaitFor runs fn on every pass until it reports done and returns the value
// it produced. A cancelled tok resolves with Cancelled.
func WaitFor[S, T any](c *Ctx[S], fn func(s *S) (T, bool), tok cancel.Token, opts ...queue.WatchOption) (T, error) {
	return executor.AwaitResult(c.task, Watch(c, fn, tok, opts...))
}

// WaitUntil suspends until pred holds against the store.
func WaitUntil[S any](c *Ctx[S], pred func(s *S) bool, tok cancel.Token, opts ...queue.WatchOption) error {
	_, err := WaitFor(c, func(s *S) (struct{}, bool) {
		return struct{}{}, pred(s)
	}, tok, opts...)
	return err
}

// ReadAsync queues a read-only closure for the next read phase and returns
// its receiver. fn must not mutate the store.
func ReadAsync[S, T any](c *Ctx[S], fn func(s *S) (T, error)) *channel.Receiver[T] {
	return queue.Read(c.eng.queue, fn)
}

// Read runs a read-only closure in the next read phase and waits for it.
func Read[S, T any](c *Ctx[S], fn func(s *S) (T, error)) (T, error) {
	return executor.AwaitResult(c.task, ReadAsync(c, fn))
}

// Changed suspends until r observes a value it has not seen.
func Changed[S, T any](c *Ctx[S], r *cell.Reader[T]) T {
	return executor.Await(c.task, r.Changed())
}

// Timeout waits for f, or fails with Timeout once host time advanced by d.
// On timeout f is dropped, which abandons a pending watch.
func Timeout[S, T any](c *Ctx[S], f executor.Future[channel.Result[T]], d time.Duration) (T, error) {
	expired := executor.Map(c.eng.timers.Sleep(d), func(channel.Result[struct{}]) channel.Result[T] {
		return channel.Fail[T](errs.New(errs.CodeTimeout, "deadline of "+d.String()+" passed"))
	})
	_, r := executor.Race(c.task, f, expired)
	return r.Unwrap()
}

// Fixed registers fn with the fixed-step registry and waits until it
// finishes. A cancelled tok resolves with Cancelled.
func Fixed[S any](c *Ctx[S], fn routine.Task[S], tok cancel.Token) error {
	_, err := executor.AwaitResult(c.task, c.eng.fixed.Add(fn, tok))
	return err
}

// Interpolate runs a tween on the fixed step and waits for it. Loop and
// Bounce playback only end through tok.
func Interpolate[S any](c *Ctx[S], d time.Duration, pb routine.Playback, ease routine.Ease, apply func(s *S, progress float64), tok cancel.Token) error {
	return Fixed(c, routine.Tween(d, pb, ease, apply), tok)
}
