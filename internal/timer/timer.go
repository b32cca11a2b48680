// Package timer resolves sleep-style suspensions against the time and frame
// values the host pushes before each driver call.
//
// A Wheel keeps two min-heaps: one ordered by deadline, one by frame number.
// Fire pops every due entry and resolves its channel. Nothing here reads the
// wall clock; "now" is whatever the host last passed to SetNow.
package timer

import (
	"container/heap"
	"time"

	"github.com/roach88/tickbridge/internal/channel"
)

type entry[K int64 | uint64] struct {
	at  K
	seq uint64
	tx  *channel.Sender[struct{}]
}

// index is a min-heap ordered by (at, seq), so entries with equal deadlines
// fire in the order they were scheduled.
type index[K int64 | uint64] []entry[K]

func (h index[K]) Len() int { return len(h) }

func (h index[K]) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}

func (h index[K]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *index[K]) Push(x any) { *h = append(*h, x.(entry[K])) }

func (h *index[K]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry[K]{}
	*h = old[:n-1]
	return e
}

func (h index[K]) due(now K) bool {
	return len(h) > 0 && h[0].at <= now
}

// Wheel is the time index. It is driven from the driver goroutine only.
type Wheel struct {
	now   time.Duration
	frame uint64
	seq   uint64

	byTime  index[int64]
	byFrame index[uint64]
}

// New creates an empty wheel at time 0, frame 0.
func New() *Wheel {
	return &Wheel{}
}

// SetNow records the host's monotonic time. Going backwards is ignored.
func (w *Wheel) SetNow(now time.Duration) {
	if now > w.now {
		w.now = now
	}
}

// Now returns the last time pushed by the host.
func (w *Wheel) Now() time.Duration {
	return w.now
}

// SetFrame records the host's frame counter. Going backwards is ignored.
func (w *Wheel) SetFrame(frame uint64) {
	if frame > w.frame {
		w.frame = frame
	}
}

// Frame returns the last frame pushed by the host.
func (w *Wheel) Frame() uint64 {
	return w.frame
}

// SleepUntil returns a receiver that resolves on the first Fire at or after
// deadline. A deadline already in the past still waits for the next Fire.
func (w *Wheel) SleepUntil(deadline time.Duration) *channel.Receiver[struct{}] {
	tx, rx := channel.New[struct{}]()
	w.seq++
	heap.Push(&w.byTime, entry[int64]{at: int64(deadline), seq: w.seq, tx: tx})
	return rx
}

// Sleep is SleepUntil(Now() + d).
func (w *Wheel) Sleep(d time.Duration) *channel.Receiver[struct{}] {
	return w.SleepUntil(w.now + d)
}

// SleepFrames resolves once the frame counter has advanced by n.
func (w *Wheel) SleepFrames(n uint64) *channel.Receiver[struct{}] {
	tx, rx := channel.New[struct{}]()
	w.seq++
	heap.Push(&w.byFrame, entry[uint64]{at: w.frame + n, seq: w.seq, tx: tx})
	return rx
}

// Fire resolves every entry that is due and returns how many listeners were
// woken. Entries whose receiver was dropped are discarded.
func (w *Wheel) Fire() int {
	n := 0
	for w.byTime.due(int64(w.now)) {
		e := heap.Pop(&w.byTime).(entry[int64])
		if e.tx.Send(struct{}{}) == nil {
			n++
		}
	}
	for w.byFrame.due(w.frame) {
		e := heap.Pop(&w.byFrame).(entry[uint64])
		if e.tx.Send(struct{}{}) == nil {
			n++
		}
	}
	return n
}

// Next returns the nearest pending deadline.
func (w *Wheel) Next() (time.Duration, bool) {
	if len(w.byTime) == 0 {
		return 0, false
	}
	return time.Duration(w.byTime[0].at), true
}

// Len returns the number of pending entries across both indexes.
func (w *Wheel) Len() int {
	return len(w.byTime) + len(w.byFrame)
}
