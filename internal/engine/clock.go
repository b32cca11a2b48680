package engine

import (
	"sync/atomic"
	"time"
)

// Clock counts driver ticks.
//
// Every Tick call is stamped with a strictly increasing number from this
// clock. Journal rows and metrics use it instead of wall time, so two runs
// with the same inputs produce the same sequence.
//
// Thread-safety: Clock is safe for concurrent use. Only the driver advances
// it; observers may read it from elsewhere.
type Clock struct {
	tick atomic.Uint64
}

// NewClock creates a clock whose first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming after start.
func NewClockAt(start uint64) *Clock {
	c := &Clock{}
	c.tick.Store(start)
	return c
}

// Next advances the clock and returns the new tick.
func (c *Clock) Next() uint64 {
	return c.tick.Add(1)
}

// Current returns the last tick handed out.
func (c *Clock) Current() uint64 {
	return c.tick.Load()
}

// WallClock supplies wall time for measuring how long a tick took. Tests
// pass a stepping clock so reports are deterministic.
type WallClock func() time.Time
