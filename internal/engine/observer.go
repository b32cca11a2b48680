package engine

import (
	"time"

	"github.com/roach88/tickbridge/internal/queue"
	"github.com/roach88/tickbridge/internal/routine"
)

// TickReport describes one main-update driver call.
type TickReport struct {
	Tick  uint64
	Now   time.Duration
	Frame uint64
	Delta time.Duration

	Reads       int
	OnceRun     int
	Repeat      queue.RepeatStats
	TimersFired int
	Yielded     int
	Woken       int
	Polled      int
	Spawned     int
	Completed   int

	TasksLive    int
	OncePending  int
	WatchesLive  int
	TimersQueued int

	Elapsed time.Duration
}

// FixedReport describes one fixed-step driver call.
type FixedReport struct {
	Step  uint64
	Delta time.Duration
	Stats routine.StepStats
	Live  int
}

// Observer receives a report after every driver call. Observers run on the
// driver goroutine and must not block.
type Observer interface {
	ObserveTick(r TickReport)
	ObserveFixed(r FixedReport)
}

// ObserverFuncs adapts plain functions. Nil fields are skipped.
type ObserverFuncs struct {
	Tick  func(r TickReport)
	Fixed func(r FixedReport)
}

// ObserveTick calls f.Tick.
func (f ObserverFuncs) ObserveTick(r TickReport) {
	if f.Tick != nil {
		f.Tick(r)
	}
}

// ObserveFixed calls f.Fixed.
func (f ObserverFuncs) ObserveFixed(r FixedReport) {
	if f.Fixed != nil {
		f.Fixed(r)
	}
}
