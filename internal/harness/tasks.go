package harness

import (
	"fmt"
	"math"

	"github.com/roach88/tickbridge/internal/cancel"
	"github.com/roach88/tickbridge/internal/cell"
	"github.com/roach88/tickbridge/internal/engine"
	"github.com/roach88/tickbridge/internal/errs"
	"github.com/roach88/tickbridge/internal/scenario"
)

type taskFunc func(c *engine.Ctx[World]) (struct{}, error)

// body wraps a scenario task with its start and end trace lines.
func (r *runner) body(t scenario.Task) taskFunc {
	return func(c *engine.Ctx[World]) (struct{}, error) {
		r.record(c, t.Name, "start", "")

		err := r.dispatch(c, t)
		if err != nil {
			code := string(errs.CodeOf(err))
			if code == "" {
				code = err.Error()
			}
			r.record(c, t.Name, "failed", code)
			return struct{}{}, err
		}
		r.record(c, t.Name, "done", "")
		return struct{}{}, nil
	}
}

func (r *runner) dispatch(c *engine.Ctx[World], t scenario.Task) error {
	note := func(kind, value string) { r.record(c, t.Name, kind, value) }

	switch a := t.Args.(type) {
	case scenario.AddArgs:
		return runAdd(c, a, note)
	case scenario.WaitUntilArgs:
		return runWaitUntil(c, a, note)
	case scenario.TweenArgs:
		return runTween(c, a, note)
	case scenario.SleepArgs:
		return runSleep(c, a, note)
	case scenario.EmitArgs:
		return runEmit(c, r.world.Signals, a, note)
	case scenario.ListenArgs:
		return runListen(c, r.world.Signals, a, note)
	case scenario.YieldArgs:
		return runYield(c, a, note)
	case scenario.TimeoutArgs:
		return runTimeout(c, a, note)
	default:
		return errs.ShouldNotHappen(fmt.Sprintf("task %q has args of type %T", t.Name, t.Args))
	}
}

func atLeast(counter string, n int) func(w *World) (int, bool) {
	return func(w *World) (int, bool) {
		v := w.Counters[counter]
		return v, v >= n
	}
}

func runAdd(c *engine.Ctx[World], a scenario.AddArgs, note func(kind, value string)) error {
	for i := 0; i < a.Times; i++ {
		if i > 0 && a.EveryFrames > 0 {
			c.SleepFrames(uint64(a.EveryFrames))
		}
		v, err := engine.Do(c, func(w *World) (int, error) {
			w.Counters[a.Counter] += a.Amount
			return w.Counters[a.Counter], nil
		})
		if err != nil {
			return err
		}
		note("add", fmt.Sprintf("%s=%d", a.Counter, v))
	}
	return nil
}

func runWaitUntil(c *engine.Ctx[World], a scenario.WaitUntilArgs, note func(kind, value string)) error {
	v, err := engine.WaitFor(c, atLeast(a.Counter, a.AtLeast), cancel.None())
	if err != nil {
		return err
	}
	note("reached", fmt.Sprintf("%s=%d", a.Counter, v))
	return nil
}

func runTween(c *engine.Ctx[World], a scenario.TweenArgs, note func(kind, value string)) error {
	tok := cancel.NewLocal()
	if a.StopAfter > 0 {
		stopper := engine.Spawn(c.Engine(), func(sc *engine.Ctx[World]) (struct{}, error) {
			sc.Sleep(a.StopAfter)
			tok.Cancel()
			return struct{}{}, nil
		})
		defer stopper.Drop()
	}

	span := float64(a.To - a.From)
	err := engine.Interpolate(c, a.Duration, a.PlaybackMode(), a.EaseFunc(), func(w *World, p float64) {
		w.Counters[a.Counter] = a.From + int(math.Round(span*p))
	}, tok)
	if errs.IsCancelled(err) {
		note("stopped", "")
		return nil
	}
	if err != nil {
		return err
	}
	note("tweened", "")
	return nil
}

func runSleep(c *engine.Ctx[World], a scenario.SleepArgs, note func(kind, value string)) error {
	if a.Frames > 0 {
		c.SleepFrames(uint64(a.Frames))
		note("woke", fmt.Sprintf("frame=%d", c.Frame()))
		return nil
	}
	c.Sleep(a.Duration)
	note("woke", "now="+c.Now().String())
	return nil
}

func runEmit(c *engine.Ctx[World], signals *cell.Bundle, a scenario.EmitArgs, note func(kind, value string)) error {
	sig, err := cell.Named[int](signals, a.Signal)
	if err != nil {
		return err
	}
	for i, v := range a.Values {
		if i > 0 {
			c.Yield()
		}
		sig.Write(v)
		note("emit", fmt.Sprintf("%s=%d", a.Signal, v))
	}
	return nil
}

func runListen(c *engine.Ctx[World], signals *cell.Bundle, a scenario.ListenArgs, note func(kind, value string)) error {
	sig, err := cell.Named[int](signals, a.Signal)
	if err != nil {
		return err
	}
	rd := sig.Reader()
	for i := 0; i < a.Count; i++ {
		v := engine.Changed(c, rd)
		note("heard", fmt.Sprintf("%s=%d", a.Signal, v))
		if a.AddTo == "" {
			continue
		}
		if err := engine.Mutate(c, func(w *World) { w.Counters[a.AddTo] += v }); err != nil {
			return err
		}
	}
	return nil
}

func runYield(c *engine.Ctx[World], a scenario.YieldArgs, note func(kind, value string)) error {
	for i := 1; i <= a.Times; i++ {
		c.Yield()
		note("yield", fmt.Sprintf("%d/%d", i, a.Times))
	}
	return nil
}

func runTimeout(c *engine.Ctx[World], a scenario.TimeoutArgs, note func(kind, value string)) error {
	rx := engine.Watch(c, atLeast(a.Counter, a.AtLeast), cancel.None())
	v, err := engine.Timeout(c, rx, a.After)
	if errs.IsTimeout(err) {
		note("timeout", a.After.String())
		return nil
	}
	if err != nil {
		return err
	}
	note("reached", fmt.Sprintf("%s=%d", a.Counter, v))
	return nil
}
