package engine

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/tickbridge/internal/executor"
	"github.com/roach88/tickbridge/internal/queue"
	"github.com/roach88/tickbridge/internal/routine"
	"github.com/roach88/tickbridge/internal/timer"
)

// Defaults used when no option overrides them.
const (
	DefaultTickInterval = 16 * time.Millisecond
	DefaultFixedStep    = 20 * time.Millisecond
	DefaultReadWorkers  = 4
)

// Engine drives tasks against a store of type S.
//
// Thread-safety model:
//   - Submit(): safe from any goroutine
//   - Tick(), FixedTick(), SetNow(), SetFrame(), Spawn(): driver goroutine only
//   - Clock().Current(): safe from any goroutine
//
// INVARIANTS:
//   - The store is only accessed inside Tick and FixedTick
//   - Once closures run in submission order
//   - Exactly one task runs at any time
type Engine[S any] struct {
	clock  *Clock
	queue  *queue.Queue[S]
	exec   *executor.Executor
	timers *timer.Wheel
	fixed  *routine.Registry[S]

	fixedSteps atomic.Uint64

	observers     []Observer
	logger        *slog.Logger
	wall          WallClock
	tickInterval  time.Duration
	fixedStep     time.Duration
	readWorkers   int
	watchThrottle int
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*config)

type config struct {
	logger        *slog.Logger
	observers     []Observer
	wall          WallClock
	clock         *Clock
	tickInterval  time.Duration
	fixedStep     time.Duration
	readWorkers   int
	watchThrottle int
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(c *config) {
		c.logger = l
	}
}

// WithObserver adds an observer. May be given several times; observers run
// in the order given.
func WithObserver(o Observer) EngineOption {
	return func(c *config) {
		c.observers = append(c.observers, o)
	}
}

// WithWallClock replaces time.Now for tick timing and for Run.
func WithWallClock(w WallClock) EngineOption {
	return func(c *config) {
		c.wall = w
	}
}

// WithClock resumes tick numbering from an existing clock.
func WithClock(clock *Clock) EngineOption {
	return func(c *config) {
		c.clock = clock
	}
}

// WithTickInterval sets how often Run calls Tick.
//
// Default: 16ms (DefaultTickInterval)
func WithTickInterval(d time.Duration) EngineOption {
	return func(c *config) {
		c.tickInterval = d
	}
}

// WithFixedStep sets the delta Run passes to FixedTick.
//
// Default: 20ms (DefaultFixedStep)
func WithFixedStep(d time.Duration) EngineOption {
	return func(c *config) {
		c.fixedStep = d
	}
}

// WithReadWorkers bounds the read phase fan-out. Zero or less means one
// goroutine per read.
//
// Default: 4 (DefaultReadWorkers)
func WithReadWorkers(n int) EngineOption {
	return func(c *config) {
		c.readWorkers = n
	}
}

// WithWatchThrottle makes watches created through this engine run every
// n-th pass unless the caller passes its own throttle. Default: every pass.
func WithWatchThrottle(n int) EngineOption {
	return func(c *config) {
		c.watchThrottle = n
	}
}

// New creates an engine for store type S.
func New[S any](opts ...EngineOption) *Engine[S] {
	cfg := config{
		logger:        slog.Default(),
		wall:          time.Now,
		tickInterval:  DefaultTickInterval,
		fixedStep:     DefaultFixedStep,
		readWorkers:   DefaultReadWorkers,
		watchThrottle: 1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.clock == nil {
		cfg.clock = NewClock()
	}

	return &Engine[S]{
		clock:         cfg.clock,
		queue:         queue.New[S](queue.WithLogger(cfg.logger)),
		exec:          executor.New(executor.WithLogger(cfg.logger)),
		timers:        timer.New(),
		fixed:         routine.NewRegistry[S](cfg.logger),
		observers:     cfg.observers,
		logger:        cfg.logger,
		wall:          cfg.wall,
		tickInterval:  cfg.tickInterval,
		fixedStep:     cfg.fixedStep,
		readWorkers:   cfg.readWorkers,
		watchThrottle: cfg.watchThrottle,
	}
}

// Clock returns the tick clock.
func (e *Engine[S]) Clock() *Clock {
	return e.clock
}

// Logger returns the engine logger.
func (e *Engine[S]) Logger() *slog.Logger {
	return e.logger
}

// SetNow pushes the host's monotonic time before a driver call.
func (e *Engine[S]) SetNow(now time.Duration) {
	e.timers.SetNow(now)
}

// SetFrame pushes the host's frame counter before a driver call.
func (e *Engine[S]) SetFrame(frame uint64) {
	e.timers.SetFrame(frame)
}

// Now returns the last time pushed with SetNow.
func (e *Engine[S]) Now() time.Duration {
	return e.timers.Now()
}

// Frame returns the last frame pushed with SetFrame.
func (e *Engine[S]) Frame() uint64 {
	return e.timers.Frame()
}

// Submit queues a fire-and-forget closure for the next tick.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the engine has been closed.
func (e *Engine[S]) Submit(fn func(s *S)) bool {
	return e.queue.Submit(fn)
}

// Tick runs one main-update driver pass against s.
// CRITICAL: s is only touched during this call.
func (e *Engine[S]) Tick(s *S, delta time.Duration) TickReport {
	start := e.wall()
	before := e.exec.Stats()

	r := TickReport{
		Tick:  e.clock.Next(),
		Now:   e.timers.Now(),
		Frame: e.timers.Frame(),
		Delta: delta,
	}

	r.Reads = e.queue.RunReads(s, e.readWorkers)
	r.OnceRun = e.queue.DrainOnce(s)
	r.Repeat = e.queue.RunRepeat(s)
	r.TimersFired = e.timers.Fire()
	r.Yielded = e.exec.Advance()
	r.Polled = e.exec.RunUntilStalled()

	after := e.exec.Stats()
	r.Woken = int(after.Wakes - before.Wakes)
	r.Spawned = int(after.Spawned - before.Spawned)
	r.Completed = int(after.Completed - before.Completed)
	r.TasksLive = e.exec.Live()
	r.OncePending = e.queue.Len()
	r.WatchesLive = e.queue.RepeatLen()
	r.TimersQueued = e.timers.Len()
	r.Elapsed = e.wall().Sub(start)

	e.logger.Debug("tick",
		"tick", r.Tick,
		"once", r.OnceRun,
		"repeat", r.Repeat.Ran,
		"polled", r.Polled,
		"live", r.TasksLive,
	)

	for _, o := range e.observers {
		o.ObserveTick(r)
	}
	return r
}

// FixedTick runs one fixed-step pass of the routine registry against s.
// Tasks awaiting finished routines resume on the next Tick.
func (e *Engine[S]) FixedTick(s *S, step time.Duration) FixedReport {
	r := FixedReport{
		Step:  e.fixedSteps.Add(1),
		Delta: step,
		Stats: e.fixed.Step(s, step),
		Live:  e.fixed.Len(),
	}

	for _, o := range e.observers {
		o.ObserveFixed(r)
	}
	return r
}

// Idle reports whether nothing is pending: no live tasks, no queued
// closures, no watches, no timers and no fixed routines.
func (e *Engine[S]) Idle() bool {
	return e.exec.Live() == 0 &&
		e.queue.Len() == 0 &&
		e.queue.RepeatLen() == 0 &&
		e.queue.ReadLen() == 0 &&
		e.timers.Len() == 0 &&
		e.fixed.Len() == 0
}

// TasksLive returns the number of unfinished tasks.
func (e *Engine[S]) TasksLive() int {
	return e.exec.Live()
}

// Close rejects further submissions and cancels every live task. Driver
// goroutine only. Returns the number of tasks cancelled.
func (e *Engine[S]) Close() int {
	e.queue.Close()
	n := e.exec.Close()
	e.logger.Info("engine closed", "cancelled_tasks", n)
	return n
}
