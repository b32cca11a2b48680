package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tickbridge/internal/engine"
	"github.com/roach88/tickbridge/internal/queue"
	"github.com/roach88/tickbridge/internal/routine"
)

func TestObserveTick_FoldsCounters(t *testing.T) {
	m := New()

	m.ObserveTick(engine.TickReport{
		Tick:      1,
		OnceRun:   3,
		Repeat:    queue.RepeatStats{Ran: 2, Completed: 1, Abandoned: 1},
		Polled:    4,
		TasksLive: 2,
		Elapsed:   100 * time.Microsecond,
	})
	m.ObserveTick(engine.TickReport{Tick: 2, OnceRun: 1, TasksLive: 1})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.onceRun))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.repeat.WithLabelValues("ran")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.repeat.WithLabelValues("abandoned")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.polls))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksLive), "gauges hold the latest value")
	assert.Equal(t, uint64(2), m.Last().Tick)
}

func TestObserveFixed(t *testing.T) {
	m := New()
	m.ObserveFixed(engine.FixedReport{Step: 1, Stats: routine.StepStats{Ran: 2, Cancelled: 1}, Live: 1})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.fixedSteps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fixedDone.WithLabelValues("cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fixedLive))
}

func TestMetrics_WiredToEngine(t *testing.T) {
	type world struct{ n int }
	m := New()
	eng := engine.New[world](engine.WithObserver(m))
	defer eng.Close()

	var w world
	engine.Go(eng, func(c *engine.Ctx[world]) error {
		return engine.Mutate(c, func(w *world) { w.n++ })
	})
	for i := 0; i < 3; i++ {
		eng.Tick(&w, 16*time.Millisecond)
	}

	assert.Equal(t, 1, w.n)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ticks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.onceRun))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completed))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.tasksLive))
}

func TestHandler_ServesMetricsAndStatus(t *testing.T) {
	m := New()
	m.ObserveTick(engine.TickReport{Tick: 7, Frame: 7, TasksLive: 3})

	srv := httptest.NewServer(NewHandler(m, "run-1"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body strings.Builder
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "tickbridge_ticks_total 1")

	resp2, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp2.Body.Close()

	var status Status
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&status))
	assert.Equal(t, "run-1", status.Run)
	assert.Equal(t, uint64(7), status.Tick)
	assert.Equal(t, 3, status.TasksLive)
}
