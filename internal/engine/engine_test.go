package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tickbridge/internal/cancel"
	"github.com/roach88/tickbridge/internal/cell"
	"github.com/roach88/tickbridge/internal/errs"
	"github.com/roach88/tickbridge/internal/logging"
	"github.com/roach88/tickbridge/internal/routine"
)

type world struct {
	counter  int
	log      []string
	position float64
	items    map[string]int
}

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine[world] {
	t.Helper()
	opts = append([]EngineOption{WithLogger(logging.NewNop())}, opts...)
	return New[world](opts...)
}

func tickN(e *Engine[world], w *world, n int) {
	for i := 0; i < n; i++ {
		e.Tick(w, 16*time.Millisecond)
	}
}

func TestEngine_OnceOrderFollowsSubmission(t *testing.T) {
	e := newTestEngine(t)
	w := &world{}

	var resumed []string
	for _, name := range []string{"A", "B", "C"} {
		Go(e, func(c *Ctx[world]) error {
			if err := Mutate(c, func(s *world) { s.log = append(s.log, name) }); err != nil {
				return err
			}
			resumed = append(resumed, name)
			return nil
		})
	}

	e.Tick(w, 0)
	assert.Empty(t, w.log, "closures wait for the next drain")

	e.Tick(w, 0)
	assert.Equal(t, []string{"A", "B", "C"}, w.log)
	assert.Len(t, resumed, 3)
}

func TestEngine_ConcurrentIncrementsAreLinearized(t *testing.T) {
	e := newTestEngine(t)
	w := &world{}

	for i := 0; i < 2; i++ {
		Go(e, func(c *Ctx[world]) error {
			return Mutate(c, func(s *world) { s.counter++ })
		})
	}
	tickN(e, w, 2)
	assert.Equal(t, 2, w.counter, "no lost update")
}

func TestEngine_DoReturnsClosureResult(t *testing.T) {
	e := newTestEngine(t)
	w := &world{items: map[string]int{"apple": 3}}

	h := Spawn(e, func(c *Ctx[world]) (int, error) {
		return Do(c, func(s *world) (int, error) {
			v, ok := s.items["apple"]
			if !ok {
				return 0, errs.TargetNotFound("apple")
			}
			return v, nil
		})
	})
	missing := Spawn(e, func(c *Ctx[world]) (int, error) {
		return Do(c, func(s *world) (int, error) {
			if _, ok := s.items["pear"]; !ok {
				return 0, errs.TargetNotFound("pear")
			}
			return 1, nil
		})
	})
	tickN(e, w, 2)

	r, ok := h.Poll(nil)
	require.True(t, ok)
	assert.Equal(t, 3, r.Value)

	r, ok = missing.Poll(nil)
	require.True(t, ok)
	assert.True(t, errs.IsTargetNotFound(r.Err))
}

func TestEngine_CellWriteResumesTaskNextTick(t *testing.T) {
	e := newTestEngine(t)
	w := &world{}
	c := cell.New[int]()

	h := Spawn(e, func(ctx *Ctx[world]) (int, error) {
		return Changed(ctx, c.Reader()), nil
	})
	e.Tick(w, 0)
	assert.False(t, h.Finished())

	c.Write(5)
	e.Tick(w, 0)

	r, ok := h.Poll(nil)
	require.True(t, ok)
	assert.Equal(t, 5, r.Value)
}

func TestEngine_WaitUntilPredicate(t *testing.T) {
	e := newTestEngine(t)
	w := &world{}

	done := false
	Go(e, func(c *Ctx[world]) error {
		err := WaitUntil(c, func(s *world) bool { return s.counter >= 3 }, cancel.None())
		done = err == nil
		return err
	})

	for i := 0; i < 3; i++ {
		e.Tick(w, 0)
		assert.False(t, done)
		w.counter++
	}
	e.Tick(w, 0)
	assert.True(t, done)
	assert.Equal(t, 0, e.queue.RepeatLen())
}

func TestEngine_WatchCancelledByToken(t *testing.T) {
	e := newTestEngine(t)
	w := &world{}
	tok := cancel.NewLocal()

	h := Spawn(e, func(c *Ctx[world]) (struct{}, error) {
		return WaitFor(c, func(s *world) (struct{}, bool) { return struct{}{}, false }, tok)
	})
	tickN(e, w, 2)
	tok.Cancel()
	tickN(e, w, 1)

	r, ok := h.Poll(nil)
	require.True(t, ok)
	assert.True(t, errs.IsCancelled(r.Err))
}

func TestEngine_FixedCancelledResolvesCancelled(t *testing.T) {
	e := newTestEngine(t)
	w := &world{}
	tok := cancel.NewLocal()

	calls := 0
	h := Spawn(e, func(c *Ctx[world]) (struct{}, error) {
		return struct{}{}, Fixed(c, func(s *world, dt time.Duration) bool {
			calls++
			return false
		}, tok)
	})
	e.Tick(w, 0)

	e.FixedTick(w, 20*time.Millisecond)
	tok.Cancel()
	e.FixedTick(w, 20*time.Millisecond)
	e.FixedTick(w, 20*time.Millisecond)
	e.Tick(w, 0)

	assert.Equal(t, 1, calls)
	r, ok := h.Poll(nil)
	require.True(t, ok)
	assert.True(t, errs.IsCancelled(r.Err), "cancelled, not a value")
}

func TestEngine_InterpolateOnce(t *testing.T) {
	e := newTestEngine(t)
	w := &world{}

	done := false
	Go(e, func(c *Ctx[world]) error {
		err := Interpolate(c, 100*time.Millisecond, routine.Once, routine.Linear,
			func(s *world, p float64) { s.position = 10 * p }, cancel.None())
		done = err == nil
		return err
	})
	e.Tick(w, 0)

	for i := 0; i < 5; i++ {
		e.FixedTick(w, 20*time.Millisecond)
	}
	assert.InDelta(t, 10, w.position, 1e-9)
	assert.False(t, done, "awaiter resumes on the main tick")

	e.Tick(w, 0)
	assert.True(t, done)
}

func TestEngine_SleepUsesHostTime(t *testing.T) {
	e := newTestEngine(t)
	w := &world{}

	woke := false
	Go(e, func(c *Ctx[world]) error {
		c.Sleep(time.Second)
		woke = true
		return nil
	})

	e.SetNow(0)
	e.Tick(w, 0)
	e.SetNow(500 * time.Millisecond)
	e.Tick(w, 0)
	assert.False(t, woke)

	e.SetNow(time.Second)
	e.Tick(w, 0)
	assert.True(t, woke, "fired and resumed in the same tick")
}

func TestEngine_SleepFrames(t *testing.T) {
	e := newTestEngine(t)
	w := &world{}

	woke := false
	Go(e, func(c *Ctx[world]) error {
		c.SleepFrames(2)
		woke = true
		return nil
	})

	for frame := uint64(1); frame <= 3; frame++ {
		e.SetFrame(frame)
		e.Tick(w, 0)
		assert.Equal(t, frame == 3, woke, "frame %d", frame)
	}
}

func TestEngine_YieldResumesNextTick(t *testing.T) {
	e := newTestEngine(t)
	w := &world{}

	var seen []uint64
	Go(e, func(c *Ctx[world]) error {
		for i := 0; i < 3; i++ {
			seen = append(seen, c.Engine().Clock().Current())
			c.Yield()
		}
		return nil
	})
	tickN(e, w, 4)
	assert.Equal(t, []uint64{1, 2, 3}, seen)
}

func TestEngine_TimeoutAbandonsWatch(t *testing.T) {
	e := newTestEngine(t)
	w := &world{}

	h := Spawn(e, func(c *Ctx[world]) (struct{}, error) {
		never := Watch(c, func(s *world) (struct{}, bool) { return struct{}{}, false }, cancel.None())
		return Timeout(c, never, time.Second)
	})

	e.SetNow(0)
	e.Tick(w, 0)
	assert.Equal(t, 1, e.queue.RepeatLen())

	e.SetNow(time.Second)
	e.Tick(w, 0)

	r, ok := h.Poll(nil)
	require.True(t, ok)
	assert.True(t, errs.IsTimeout(r.Err))

	e.Tick(w, 0)
	assert.Equal(t, 0, e.queue.RepeatLen(), "abandoned watch is removed")
}

func TestEngine_TimeoutLosesToValue(t *testing.T) {
	e := newTestEngine(t)
	w := &world{counter: 4}

	h := Spawn(e, func(c *Ctx[world]) (int, error) {
		return Timeout(c, Once(c, func(s *world) (int, error) { return s.counter, nil }), time.Second)
	})
	tickN(e, w, 2)

	r, ok := h.Poll(nil)
	require.True(t, ok)
	require.NoError(t, r.Err)
	assert.Equal(t, 4, r.Value)
}

func TestEngine_ReadPhase(t *testing.T) {
	e := newTestEngine(t, WithReadWorkers(2))
	w := &world{items: map[string]int{"a": 1, "b": 2}}

	var sum int
	for _, k := range []string{"a", "b"} {
		Go(e, func(c *Ctx[world]) error {
			v, err := Read(c, func(s *world) (int, error) { return s.items[k], nil })
			sum += v
			return err
		})
	}
	r1 := e.Tick(w, 0)
	assert.Equal(t, 0, r1.Reads)

	r2 := e.Tick(w, 0)
	assert.Equal(t, 2, r2.Reads)
	assert.Equal(t, 3, sum)
}

func TestEngine_DroppedTaskOrphansClosure(t *testing.T) {
	e := newTestEngine(t)
	w := &world{}

	resumed := false
	h := Spawn(e, func(c *Ctx[world]) (struct{}, error) {
		err := Mutate(c, func(s *world) { s.counter++ })
		resumed = true
		return struct{}{}, err
	})
	waiter := h.Done()
	e.Tick(w, 0)

	h.Drop()
	e.Tick(w, 0)

	assert.Equal(t, 1, w.counter, "queued side effect still happens")
	assert.False(t, resumed)

	r, ok := waiter.TryRecv()
	require.True(t, ok)
	assert.True(t, errs.IsCancelled(r.Err))
}

func TestEngine_SubmitFromAnotherGoroutine(t *testing.T) {
	e := newTestEngine(t)
	w := &world{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			e.Submit(func(s *world) { s.counter++ })
		}
	}()
	<-done

	e.Tick(w, 0)
	assert.Equal(t, 100, w.counter)
}

func TestEngine_ObserverReports(t *testing.T) {
	var ticks []TickReport
	var fixed []FixedReport
	obs := ObserverFuncs{
		Tick:  func(r TickReport) { ticks = append(ticks, r) },
		Fixed: func(r FixedReport) { fixed = append(fixed, r) },
	}

	step := time.Unix(0, 0)
	e := newTestEngine(t, WithObserver(obs), WithWallClock(func() time.Time {
		step = step.Add(time.Millisecond)
		return step
	}))
	w := &world{}

	Go(e, func(c *Ctx[world]) error {
		return Mutate(c, func(s *world) { s.counter++ })
	})
	tickN(e, w, 2)
	e.FixedTick(w, 20*time.Millisecond)

	require.Len(t, ticks, 2)
	assert.Equal(t, uint64(1), ticks[0].Tick)
	assert.Equal(t, 1, ticks[0].Polled)
	assert.Equal(t, 1, ticks[0].OncePending)
	assert.Equal(t, uint64(2), ticks[1].Tick)
	assert.Equal(t, 1, ticks[1].OnceRun)
	assert.Equal(t, 1, ticks[1].Completed)
	assert.Equal(t, 0, ticks[1].TasksLive)
	assert.Equal(t, time.Millisecond, ticks[1].Elapsed)

	require.Len(t, fixed, 1)
	assert.Equal(t, uint64(1), fixed[0].Step)
	assert.True(t, e.Idle())
}

func TestEngine_CloseCancelsTasksAndRejectsSubmissions(t *testing.T) {
	e := newTestEngine(t)
	w := &world{}

	h := Spawn(e, func(c *Ctx[world]) (struct{}, error) {
		c.Sleep(time.Hour)
		return struct{}{}, nil
	})
	waiter := h.Done()
	e.Tick(w, 0)

	assert.Equal(t, 1, e.Close())
	assert.False(t, e.Submit(func(s *world) {}))

	r, ok := waiter.TryRecv()
	require.True(t, ok)
	assert.True(t, errs.IsCancelled(r.Err))
}

func TestEngine_RunDrivesTicksUntilCancelled(t *testing.T) {
	e := newTestEngine(t, WithTickInterval(time.Millisecond), WithFixedStep(time.Millisecond))
	w := &world{}

	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	Go(e, func(c *Ctx[world]) error {
		c.Sleep(5 * time.Millisecond)
		if err := Mutate(c, func(s *world) { s.counter = 42 }); err != nil {
			return err
		}
		cancelRun()
		return nil
	})

	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx, w) }()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, 42, w.counter)
	assert.True(t, e.Clock().Current() > 0)
}
