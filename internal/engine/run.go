package engine

import (
	"context"
	"time"
)

// Run is a reference host loop. On every tick of the interval it pushes
// elapsed time and a frame counter, runs as many fixed steps as the elapsed
// time covers, then runs one main Tick.
//
// Blocks until ctx is cancelled, then closes the engine.
//
// CRITICAL: s is owned by this loop while Run executes. Other goroutines
// reach it only through Submit.
func (e *Engine[S]) Run(ctx context.Context, s *S) error {
	e.logger.Info("engine starting",
		"tick_interval", e.tickInterval,
		"fixed_step", e.fixedStep,
	)

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	start := e.wall()
	last := start
	var (
		acc   time.Duration
		frame uint64
	)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.Close()
			return ctx.Err()

		case <-ticker.C:
			now := e.wall()
			delta := now.Sub(last)
			last = now
			frame++

			e.SetNow(now.Sub(start))
			e.SetFrame(frame)

			acc += delta
			for e.fixedStep > 0 && acc >= e.fixedStep {
				e.FixedTick(s, e.fixedStep)
				acc -= e.fixedStep
			}
			e.Tick(s, delta)
		}
	}
}
