// Package cell implements tick-versioned single-slot value cells, the
// substrate of the signal system.
//
// A Cell stores an optional value and a tick counter bumped on every write.
// Readers remember the last tick they observed, so a value is readable by a
// given reader once per write. Tasks waiting for a change register a waker;
// every write wakes all of them, so readers with different last-seen ticks
// never starve each other.
//
// Each cell has its own mutex. Cells may be shared and written from any
// goroutine without external locking.
package cell

import "sync"

// Cell is a tick-versioned value slot. The zero value is not usable; use New.
type Cell[T any] struct {
	mu      sync.Mutex
	value   T
	has     bool
	tick    uint64
	waiters map[*Changed[T]]func()
}

// New creates an empty cell. Reads return not-ok until the first write.
func New[T any]() *Cell[T] {
	return &Cell[T]{}
}

// NewWith creates a cell already holding v at tick 1.
func NewWith[T any](v T) *Cell[T] {
	return &Cell[T]{value: v, has: true, tick: 1}
}

// nextTick advances t, skipping 0 on wrap. Tick 0 means "never written" and
// is the starting point of fresh readers.
func nextTick(t uint64) uint64 {
	t++
	if t == 0 {
		t = 1
	}
	return t
}

// Write replaces the value, bumps the tick, and wakes every waiter.
func (c *Cell[T]) Write(v T) {
	c.mu.Lock()
	waiters := c.writeLocked(v)
	c.mu.Unlock()

	wakeAll(waiters)
}

// WriteIfChangedFunc writes v only if the cell is empty or eq reports the
// stored value differs. Returns whether a write happened. The comparison and
// the write are one critical section.
func (c *Cell[T]) WriteIfChangedFunc(v T, eq func(a, b T) bool) bool {
	c.mu.Lock()
	if c.has && eq(c.value, v) {
		c.mu.Unlock()
		return false
	}
	waiters := c.writeLocked(v)
	c.mu.Unlock()

	wakeAll(waiters)
	return true
}

// writeLocked stores v and detaches the waiters. c.mu must be held; the
// caller wakes them after unlocking.
func (c *Cell[T]) writeLocked(v T) map[*Changed[T]]func() {
	c.value = v
	c.has = true
	c.tick = nextTick(c.tick)
	waiters := c.waiters
	c.waiters = nil
	return waiters
}

func wakeAll[K comparable](waiters map[K]func()) {
	for _, wake := range waiters {
		wake()
	}
}

// WriteIfChanged is WriteIfChangedFunc with ==. Repeated identical writes
// advance the tick once.
func WriteIfChanged[T comparable](c *Cell[T], v T) bool {
	return c.WriteIfChangedFunc(v, func(a, b T) bool { return a == b })
}

// Read returns the value and the current tick if a value exists and
// readerTick differs from the current tick.
func (c *Cell[T]) Read(readerTick uint64) (T, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.has || readerTick == c.tick {
		var zero T
		return zero, readerTick, false
	}
	return c.value, c.tick, true
}

// ForceRead returns the current value regardless of ticks.
func (c *Cell[T]) ForceRead() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.has
}

// Tick returns the current tick. 0 means never written.
func (c *Cell[T]) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// Waiters returns the number of registered wakers.
func (c *Cell[T]) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// pollChanged is the locked check-then-register step of an async read. Each
// future owns one waiter slot; re-polling replaces its waker.
func (c *Cell[T]) pollChanged(f *Changed[T], seen uint64, wake func()) (T, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.has && seen != c.tick {
		delete(c.waiters, f)
		return c.value, c.tick, true
	}
	if wake != nil {
		if c.waiters == nil {
			c.waiters = make(map[*Changed[T]]func())
		}
		c.waiters[f] = wake
	}
	var zero T
	return zero, seen, false
}

func (c *Cell[T]) unregister(f *Changed[T]) {
	c.mu.Lock()
	delete(c.waiters, f)
	c.mu.Unlock()
}

// Reader returns a handle that has seen nothing, so its first read returns
// the current value if one exists.
func (c *Cell[T]) Reader() *Reader[T] {
	return &Reader[T]{cell: c}
}

// ReaderFromNow returns a handle positioned at the current tick, so it only
// observes later writes.
func (c *Cell[T]) ReaderFromNow() *Reader[T] {
	return &Reader[T]{cell: c, seen: c.Tick()}
}

// Reader is a (cell, last-seen tick) pair. Not safe for concurrent use;
// fork it instead of sharing.
type Reader[T any] struct {
	cell *Cell[T]
	seen uint64
}

// Cell returns the underlying cell.
func (r *Reader[T]) Cell() *Cell[T] {
	return r.cell
}

// Seen returns the last tick this reader observed.
func (r *Reader[T]) Seen() uint64 {
	return r.seen
}

// Read returns the value if it changed since the last read.
func (r *Reader[T]) Read() (T, bool) {
	v, tick, ok := r.cell.Read(r.seen)
	if ok {
		r.seen = tick
	}
	return v, ok
}

// Fork duplicates the reader. The fork's next read waits for a fresh write.
func (r *Reader[T]) Fork() *Reader[T] {
	return &Reader[T]{cell: r.cell, seen: r.cell.Tick()}
}

// ForkRewound duplicates the reader one tick behind the cell, so the fork's
// next read succeeds at once with the current value.
func (r *Reader[T]) ForkRewound() *Reader[T] {
	tick := r.cell.Tick()
	if tick > 0 {
		tick--
	}
	return &Reader[T]{cell: r.cell, seen: tick}
}

// Changed returns a future resolving with the next value this reader has not
// seen. Polling it registers the waker on the cell when nothing changed.
func (r *Reader[T]) Changed() *Changed[T] {
	return &Changed[T]{r: r}
}

// Changed is the async read future of a Reader.
type Changed[T any] struct {
	r *Reader[T]
}

// Poll resolves with a copy of the value once the cell's tick moved past the
// reader's last-seen tick.
func (f *Changed[T]) Poll(wake func()) (T, bool) {
	v, tick, ok := f.r.cell.pollChanged(f, f.r.seen, wake)
	if ok {
		f.r.seen = tick
	}
	return v, ok
}

// Drop removes the future's waker from the cell. Race and Await call it on
// losers and cancelled tasks.
func (f *Changed[T]) Drop() {
	f.r.cell.unregister(f)
}
