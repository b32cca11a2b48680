package executor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tickbridge/internal/cell"
	"github.com/roach88/tickbridge/internal/channel"
	"github.com/roach88/tickbridge/internal/errs"
)

func TestSpawn_ImmediateTaskCompletesInOneRun(t *testing.T) {
	e := New()
	h := Spawn(e, func(t *Task) (int, error) { return 7, nil })

	assert.Equal(t, 1, e.RunUntilStalled())
	assert.True(t, h.Finished())
	assert.Equal(t, 0, e.Live())

	r, ok := h.Poll(nil)
	require.True(t, ok)
	assert.Equal(t, 7, r.Value)
}

func TestAwait_ResumesWhenChannelResolves(t *testing.T) {
	e := New()
	tx, rx := channel.New[string]()

	var steps []string
	h := Spawn(e, func(t *Task) (string, error) {
		steps = append(steps, "before")
		v, err := AwaitResult(t, rx)
		steps = append(steps, "after")
		return v, err
	})

	e.RunUntilStalled()
	assert.Equal(t, []string{"before"}, steps)
	assert.False(t, h.Finished())

	require.NoError(t, tx.Send("hello"))
	assert.Equal(t, 1, e.Ready(), "send woke the task")

	e.RunUntilStalled()
	assert.Equal(t, []string{"before", "after"}, steps)

	r, ok := h.Poll(nil)
	require.True(t, ok)
	assert.Equal(t, "hello", r.Value)
}

func TestAwait_CellChange(t *testing.T) {
	e := New()
	c := cell.New[int]()
	reader := c.Reader()

	h := Spawn(e, func(t *Task) (int, error) {
		return Await(t, reader.Changed()), nil
	})
	e.RunUntilStalled()
	assert.False(t, h.Finished())

	c.Write(5)
	e.RunUntilStalled()

	r, ok := h.Poll(nil)
	require.True(t, ok)
	assert.Equal(t, 5, r.Value)
}

func TestSpawn_ChainCollapsesIntoOneRun(t *testing.T) {
	e := New()

	h := Spawn(e, func(t *Task) (int, error) {
		inner := Spawn(e, func(t *Task) (int, error) {
			deeper := Spawn(e, func(t *Task) (int, error) { return 1, nil })
			v, err := AwaitResult(t, deeper)
			return v + 1, err
		})
		v, err := AwaitResult(t, inner)
		return v + 1, err
	})

	e.RunUntilStalled()
	r, ok := h.Poll(nil)
	require.True(t, ok, "all continuations finished in one call")
	assert.Equal(t, 3, r.Value)
}

func TestExecutor_PollOrderIsSpawnOrder(t *testing.T) {
	e := New()
	var order []int
	for i := 1; i <= 3; i++ {
		Spawn(e, func(t *Task) (struct{}, error) {
			order = append(order, i)
			return struct{}{}, nil
		})
	}
	e.RunUntilStalled()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestExecutor_DuplicateWakesPollOnce(t *testing.T) {
	e := New()
	polls := 0
	var task *Task
	Spawn(e, func(t *Task) (struct{}, error) {
		task = t
		for {
			polls++
			t.suspend()
		}
	})
	e.RunUntilStalled()
	require.Equal(t, 1, polls)

	wake := task.Waker()
	wake()
	wake()
	wake()
	e.RunUntilStalled()
	assert.Equal(t, 2, polls)
}

func TestYield_ResumesOnNextAdvance(t *testing.T) {
	e := New()
	var steps []string
	Spawn(e, func(t *Task) (struct{}, error) {
		steps = append(steps, "a")
		t.Yield()
		steps = append(steps, "b")
		return struct{}{}, nil
	})

	e.RunUntilStalled()
	assert.Equal(t, []string{"a"}, steps)
	assert.Equal(t, 1, e.Yielded())

	e.RunUntilStalled()
	assert.Equal(t, []string{"a"}, steps, "no resume without a tick")

	assert.Equal(t, 1, e.Advance())
	e.RunUntilStalled()
	assert.Equal(t, []string{"a", "b"}, steps)
}

func TestYield_StaleWakeDoesNotResumeEarly(t *testing.T) {
	e := New()
	resumed := false
	var task *Task
	Spawn(e, func(t *Task) (struct{}, error) {
		task = t
		t.Yield()
		resumed = true
		return struct{}{}, nil
	})
	e.RunUntilStalled()

	task.Waker()()
	e.RunUntilStalled()
	assert.False(t, resumed)

	e.Advance()
	e.RunUntilStalled()
	assert.True(t, resumed)
}

func TestHandleDrop_UnwindsAndRunsDefers(t *testing.T) {
	e := New()
	_, rx := channel.New[int]()

	cleaned := false
	reachedEnd := false
	h := Spawn(e, func(t *Task) (int, error) {
		defer func() { cleaned = true }()
		v, _ := AwaitResult(t, rx)
		reachedEnd = true
		return v, nil
	})
	waiter := h.Done()

	e.RunUntilStalled()
	h.Drop()
	e.RunUntilStalled()

	assert.True(t, cleaned, "defers run on cancellation")
	assert.False(t, reachedEnd)
	assert.Equal(t, 0, e.Live())

	r, ok := waiter.TryRecv()
	require.True(t, ok)
	assert.True(t, errs.IsCancelled(r.Err))
}

func TestHandleDrop_BeforeFirstPoll(t *testing.T) {
	e := New()
	ran := false
	h := Spawn(e, func(t *Task) (int, error) {
		ran = true
		return 1, nil
	})
	waiter := h.Done()
	h.Drop()
	e.RunUntilStalled()

	assert.False(t, ran)
	r, ok := waiter.TryRecv()
	require.True(t, ok)
	assert.True(t, errs.IsCancelled(r.Err))
}

func TestHandleDrop_OrphansInFlightWork(t *testing.T) {
	e := New()
	tx, rx := channel.New[int]()

	h := Spawn(e, func(t *Task) (int, error) {
		return AwaitResult(t, rx)
	})
	e.RunUntilStalled()
	h.Drop()
	e.RunUntilStalled()

	assert.True(t, tx.Closed(), "receiver released with the task")
	assert.ErrorIs(t, tx.Send(1), errs.ErrChannelClosed)
}

func TestHandleDetach_KeepsRunning(t *testing.T) {
	e := New()
	tx, rx := channel.New[int]()
	done := false
	h := Spawn(e, func(t *Task) (int, error) {
		v, err := AwaitResult(t, rx)
		done = true
		return v, err
	})
	e.RunUntilStalled()
	h.Detach()
	h.Drop()

	require.NoError(t, tx.Send(3))
	e.RunUntilStalled()
	assert.True(t, done)
}

func TestSpawn_PanicBecomesPayload(t *testing.T) {
	e := New()
	h := Spawn(e, func(t *Task) (int, error) {
		panic(errors.New("kaboom"))
	})
	require.NotPanics(t, func() { e.RunUntilStalled() })

	r, ok := h.Poll(nil)
	require.True(t, ok)
	assert.True(t, errs.IsPanic(r.Err))
}

func TestRace_FirstReadyWinsAndLosersAreDropped(t *testing.T) {
	e := New()
	slowTx, slow := channel.New[int]()
	fastTx, fast := channel.New[int]()

	var idx, val int
	Spawn(e, func(t *Task) (struct{}, error) {
		var r channel.Result[int]
		idx, r = Race[channel.Result[int]](t, slow, fast)
		val = r.Value
		return struct{}{}, nil
	})
	e.RunUntilStalled()

	require.NoError(t, fastTx.Send(9))
	e.RunUntilStalled()

	assert.Equal(t, 1, idx)
	assert.Equal(t, 9, val)
	assert.True(t, slowTx.Closed(), "losing receiver dropped")
}

func TestRace_TieGoesToFirstArgument(t *testing.T) {
	e := New()
	var idx int
	Spawn(e, func(t *Task) (struct{}, error) {
		idx, _ = Race(t, Ready("a"), Ready("b"))
		return struct{}{}, nil
	})
	e.RunUntilStalled()
	assert.Equal(t, 0, idx)
}

func TestMap(t *testing.T) {
	e := New()
	var got string
	Spawn(e, func(t *Task) (struct{}, error) {
		got = Await(t, Map(Ready(21), func(v int) string {
			return string(rune('A' + v%26))
		}))
		return struct{}{}, nil
	})
	e.RunUntilStalled()
	assert.Equal(t, "V", got)
}

func TestClose_CancelsEverything(t *testing.T) {
	e := New()
	_, rx := channel.New[int]()
	var handles []*Handle[int]
	for i := 0; i < 3; i++ {
		handles = append(handles, Spawn(e, func(t *Task) (int, error) {
			return AwaitResult(t, rx)
		}))
	}
	e.RunUntilStalled()

	assert.Equal(t, 3, e.Close())
	assert.Equal(t, 0, e.Live())
	for _, h := range handles {
		assert.True(t, h.Finished())
	}
}

func TestStats(t *testing.T) {
	e := New()
	tx, rx := channel.New[int]()
	Spawn(e, func(t *Task) (int, error) { return AwaitResult(t, rx) })
	e.RunUntilStalled()
	require.NoError(t, tx.Send(1))
	e.RunUntilStalled()

	st := e.Stats()
	assert.Equal(t, uint64(1), st.Spawned)
	assert.Equal(t, uint64(1), st.Completed)
	assert.Equal(t, uint64(2), st.Polls)
	assert.Equal(t, uint64(1), st.Wakes)
}

func TestMarker_Liveness(t *testing.T) {
	m := NewMarker()
	w := m.Weak()
	assert.True(t, w.Alive())

	c := m.Clone()
	assert.Equal(t, int64(2), w.Count())

	m.Release()
	m.Release()
	assert.True(t, w.Alive(), "clone still holds it")

	c.Release()
	assert.False(t, w.Alive())
	assert.False(t, Weak{}.Alive())
}

func TestRace_DropsLosingCellWaiter(t *testing.T) {
	e := New()
	c := cell.New[int]()
	reader := c.Reader()
	tx, rx := channel.New[int]()
	value := Map[channel.Result[int]](rx, func(r channel.Result[int]) int { return r.Value })

	var idx int
	Spawn(e, func(t *Task) (struct{}, error) {
		idx, _ = Race(t, Future[int](reader.Changed()), value)
		return struct{}{}, nil
	})
	e.RunUntilStalled()
	require.Equal(t, 1, c.Waiters())

	require.NoError(t, tx.Send(3))
	e.RunUntilStalled()

	assert.Equal(t, 1, idx)
	assert.Equal(t, 0, c.Waiters(), "losing Changed future unregistered")
}

func TestAwait_CellWaiterRemovedOnDrop(t *testing.T) {
	e := New()
	c := cell.New[int]()
	reader := c.Reader()

	h := Spawn(e, func(t *Task) (int, error) {
		return Await(t, reader.Changed()), nil
	})
	e.RunUntilStalled()
	require.Equal(t, 1, c.Waiters())

	h.Drop()
	e.RunUntilStalled()
	assert.Equal(t, 0, e.Live())
	assert.Equal(t, 0, c.Waiters())
}

func TestClose_StopsTasksSpawnedWhileUnwinding(t *testing.T) {
	e := New()
	_, rx := channel.New[int]()

	var late *Handle[int]
	Spawn(e, func(t *Task) (int, error) {
		defer func() {
			late = Spawn(e, func(t *Task) (int, error) {
				return AwaitResult(t, rx)
			})
		}()
		return AwaitResult(t, rx)
	})
	e.RunUntilStalled()

	assert.Equal(t, 2, e.Close())
	assert.Equal(t, 0, e.Live())
	require.NotNil(t, late)
	r, ok := late.Poll(nil)
	require.True(t, ok)
	assert.True(t, errs.IsCancelled(r.Err))
}
