// Package routine holds fixed-step tasks: repeat closures that are also
// handed the fixed elapsed delta, used for interpolation.
//
// The registry is stepped from the host's fixed-update point. Each task is
// checked against its cancel token first; a cancelled task is removed and
// its awaiter sees Cancelled. A task returning true is finished: its channel
// resolves and it is never invoked again.
package routine

import (
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/roach88/tickbridge/internal/cancel"
	"github.com/roach88/tickbridge/internal/channel"
	"github.com/roach88/tickbridge/internal/errs"
)

// Task is invoked once per fixed step until it returns true.
type Task[S any] func(s *S, dt time.Duration) bool

type entry[S any] struct {
	fn    Task[S]
	token cancel.Token
	tx    *channel.Sender[struct{}]
}

// Registry holds the live fixed tasks over a store of type S.
// Driver goroutine only.
type Registry[S any] struct {
	tasks  []*entry[S]
	logger *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger means slog.Default().
func NewRegistry[S any](logger *slog.Logger) *Registry[S] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry[S]{logger: logger}
}

// Add registers fn and returns a receiver that resolves when fn finishes,
// or with Cancelled once tok is set.
func (r *Registry[S]) Add(fn Task[S], tok cancel.Token) *channel.Receiver[struct{}] {
	tx, rx := channel.New[struct{}]()
	r.tasks = append(r.tasks, &entry[S]{fn: fn, token: tok, tx: tx})
	return rx
}

// StepStats summarizes one fixed step.
type StepStats struct {
	Ran       int
	Completed int
	Cancelled int
}

// Step invokes every live task with dt. Tasks added during the step first
// run on the next one.
func (r *Registry[S]) Step(s *S, dt time.Duration) StepStats {
	batch := r.tasks
	r.tasks = nil

	var st StepStats
	kept := batch[:0]
	for _, e := range batch {
		if e.token.Cancelled() {
			_ = e.tx.Fail(errs.ErrCancelled)
			st.Cancelled++
			continue
		}

		st.Ran++
		done, err := r.invoke(e.fn, s, dt)
		if err != nil {
			_ = e.tx.Fail(err)
			st.Completed++
			continue
		}
		if done {
			_ = e.tx.Send(struct{}{})
			st.Completed++
			continue
		}
		kept = append(kept, e)
	}
	clear(batch[len(kept):])
	r.tasks = append(kept, r.tasks...)

	return st
}

func (r *Registry[S]) invoke(fn Task[S], s *S, dt time.Duration) (done bool, err error) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Warn("fixed task panicked", "panic", v)
			err = &errs.PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return fn(s, dt), nil
}

// Len returns the number of live tasks.
func (r *Registry[S]) Len() int {
	return len(r.tasks)
}

// Tween builds a fixed task that feeds eased progress to apply on every step.
//
// With Once playback the task applies progress 1 at t >= duration and
// finishes. Loop and Bounce run until cancelled. A non-positive duration
// counts as already elapsed.
func Tween[S any](duration time.Duration, pb Playback, ease Ease, apply func(s *S, progress float64)) Task[S] {
	if ease == nil {
		ease = Linear
	}
	var elapsed time.Duration
	return func(s *S, dt time.Duration) bool {
		elapsed += dt
		t := 1.0
		if duration > 0 {
			t = float64(elapsed) / float64(duration)
		}
		apply(s, ease(pb.Progress(t)))
		return pb.Finished(t)
	}
}
