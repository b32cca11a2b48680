package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/tickbridge/internal/cell"
	"github.com/roach88/tickbridge/internal/engine"
	"github.com/roach88/tickbridge/internal/executor"
	"github.com/roach88/tickbridge/internal/scenario"
	"github.com/roach88/tickbridge/internal/testutil"
)

// Option configures a run.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	observers []engine.Observer
	wall      engine.WallClock
	engine    []engine.EngineOption
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithObserver adds an engine observer, e.g. a journal recorder.
func WithObserver(obs engine.Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs)
	}
}

// WithWallClock replaces the wall clock used for tick timing. Run defaults
// to a ManualClock stepping 1ms per read; RunRealtime to time.Now.
func WithWallClock(w engine.WallClock) Option {
	return func(o *options) {
		o.wall = w
	}
}

// WithEngineOptions passes extra options to engine.New, e.g. the ones built
// from the config file.
func WithEngineOptions(opts ...engine.EngineOption) Option {
	return func(o *options) {
		o.engine = append(o.engine, opts...)
	}
}

type spawned struct {
	task   scenario.Task
	handle *executor.Handle[struct{}]
}

// runner owns one scenario execution. Everything runs on the driver
// goroutine: tasks, observers and the final snapshot.
type runner struct {
	sc      *scenario.Scenario
	eng     *engine.Engine[World]
	world   *World
	signals *cell.Registry[string]
	byStart map[int][]scenario.Task
	tasks   []spawned
	result  *Result
	done    bool
	stop    func()
}

func newRunner(sc *scenario.Scenario, defaultWall engine.WallClock, opts []Option) *runner {
	o := options{logger: slog.Default(), wall: defaultWall}
	for _, opt := range opts {
		opt(&o)
	}

	r := &runner{
		sc:      sc,
		signals: cell.NewRegistry[string](),
		byStart: make(map[int][]scenario.Task),
		result:  newResult(sc.Name, sc.Ticks),
	}
	for _, t := range sc.Tasks {
		r.byStart[t.Start] = append(r.byStart[t.Start], t)
	}
	r.world = NewWorld(sc.Name, sc.Counters, r.signals)

	engOpts := []engine.EngineOption{
		engine.WithLogger(o.logger),
		engine.WithWallClock(o.wall),
		engine.WithFixedStep(sc.FixedStep),
		engine.WithTickInterval(sc.Delta),
	}
	engOpts = append(engOpts, o.engine...)
	for _, obs := range o.observers {
		engOpts = append(engOpts, engine.WithObserver(obs))
	}
	engOpts = append(engOpts, engine.WithObserver(engine.ObserverFuncs{Tick: r.observeTick}))
	r.eng = engine.New[World](engOpts...)

	return r
}

// Run executes sc deterministically and returns its result. The engine is
// closed before returning; tasks still pending are reported, then cancelled.
func Run(sc *scenario.Scenario, opts ...Option) (*Result, error) {
	if sc == nil {
		return nil, errors.New("nil scenario")
	}
	clock := testutil.NewManualClock(testutil.Epoch, time.Millisecond)
	r := newRunner(sc, clock.Now, opts)
	defer r.close()

	r.spawnAt(0)

	var (
		now time.Duration
		acc time.Duration
	)
	for tick := 1; tick <= sc.Ticks; tick++ {
		now += sc.Delta
		r.eng.SetNow(now)
		r.eng.SetFrame(uint64(tick))

		acc += sc.Delta
		for sc.FixedStep > 0 && acc >= sc.FixedStep {
			r.eng.FixedTick(r.world, sc.FixedStep)
			acc -= sc.FixedStep
		}
		r.eng.Tick(r.world, sc.Delta)
	}

	if !r.done {
		return nil, fmt.Errorf("scenario %q: stopped before tick %d", sc.Name, sc.Ticks)
	}
	return r.result, nil
}

// RunRealtime executes sc on engine.Run's ticker. It returns once the last
// tick ran or ctx is cancelled, whichever comes first.
func RunRealtime(ctx context.Context, sc *scenario.Scenario, opts ...Option) (*Result, error) {
	if sc == nil {
		return nil, errors.New("nil scenario")
	}
	r := newRunner(sc, time.Now, opts)
	defer r.signals.Detach(sc.Name)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.stop = cancel

	r.spawnAt(0)

	err := r.eng.Run(runCtx, r.world)
	if !r.done {
		if err == nil {
			err = errors.New("engine stopped")
		}
		return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}
	return r.result, nil
}

func (r *runner) observeTick(rep engine.TickReport) {
	if r.done {
		return
	}
	if int(rep.Tick) >= r.sc.Ticks {
		r.finish()
		if r.stop != nil {
			r.stop()
		}
		return
	}
	r.spawnAt(int(rep.Tick))
}

func (r *runner) spawnAt(tick int) {
	for _, t := range r.byStart[tick] {
		h := engine.Spawn(r.eng, r.body(t))
		r.tasks = append(r.tasks, spawned{task: t, handle: h})
	}
}

func (r *runner) finish() {
	r.done = true
	for name, v := range r.world.Counters {
		r.result.Counters[name] = v
	}
	for _, s := range r.tasks {
		if !s.handle.Finished() {
			r.result.Pending = append(r.result.Pending, s.task.Name)
		}
	}
	r.result.check(r.sc.Expect.Counters, r.sc.Expect.Pending)
}

func (r *runner) close() {
	r.eng.Close()
	r.signals.Detach(r.sc.Name)
}

func (r *runner) record(c *engine.Ctx[World], task, kind, value string) {
	r.result.Trace = append(r.result.Trace, Event{
		Tick:  c.Tick(),
		Task:  task,
		Kind:  kind,
		Value: value,
	})
}
