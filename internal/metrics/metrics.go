// Package metrics exports engine driver reports as Prometheus metrics.
//
// Metrics implements engine.Observer. Register it on an engine with
// engine.WithObserver and serve Handler from any goroutine.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/tickbridge/internal/engine"
)

const namespace = "tickbridge"

// Metrics holds the collectors for one engine. Each instance owns its
// registry so tests and parallel engines never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	ticks      prometheus.Counter
	fixedSteps prometheus.Counter
	onceRun    prometheus.Counter
	reads      prometheus.Counter
	repeat     *prometheus.CounterVec
	timers     prometheus.Counter
	polls      prometheus.Counter
	spawned    prometheus.Counter
	completed  prometheus.Counter
	fixedDone  *prometheus.CounterVec

	tasksLive    prometheus.Gauge
	oncePending  prometheus.Gauge
	watchesLive  prometheus.Gauge
	timersQueued prometheus.Gauge
	fixedLive    prometheus.Gauge

	tickDuration prometheus.Histogram

	mu   sync.Mutex
	last engine.TickReport
}

var _ engine.Observer = (*Metrics)(nil)

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Main-update driver calls.",
		}),
		fixedSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fixed_steps_total",
			Help:      "Fixed-update driver calls.",
		}),
		onceRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "once_run_total",
			Help:      "Once closures drained.",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reads_total",
			Help:      "Read closures run in the fan-out phase.",
		}),
		repeat: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repeat_entries_total",
			Help:      "Repeat queue entries by pass outcome.",
		}, []string{"outcome"}),
		timers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timers_fired_total",
			Help:      "Sleep deadlines that fired.",
		}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_polls_total",
			Help:      "Task resumptions.",
		}),
		spawned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_spawned_total",
			Help:      "Tasks spawned.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Tasks that finished, cancelled ones included.",
		}),
		fixedDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fixed_routines_total",
			Help:      "Fixed routines removed by reason.",
		}, []string{"reason"}),
		tasksLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_live",
			Help:      "Tasks spawned but not finished.",
		}),
		oncePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "once_pending",
			Help:      "Once closures waiting for the next drain.",
		}),
		watchesLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watches_live",
			Help:      "Repeat entries kept for the next pass.",
		}),
		timersQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "timers_queued",
			Help:      "Pending sleep deadlines.",
		}),
		fixedLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fixed_routines_live",
			Help:      "Fixed routines still running.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent inside Tick.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
	}

	m.registry.MustRegister(
		m.ticks, m.fixedSteps, m.onceRun, m.reads, m.repeat, m.timers,
		m.polls, m.spawned, m.completed, m.fixedDone,
		m.tasksLive, m.oncePending, m.watchesLive, m.timersQueued, m.fixedLive,
		m.tickDuration,
	)
	return m
}

// Registry exposes the registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTick folds a tick report into the collectors.
func (m *Metrics) ObserveTick(r engine.TickReport) {
	m.ticks.Inc()
	m.onceRun.Add(float64(r.OnceRun))
	m.reads.Add(float64(r.Reads))
	m.repeat.WithLabelValues("ran").Add(float64(r.Repeat.Ran))
	m.repeat.WithLabelValues("completed").Add(float64(r.Repeat.Completed))
	m.repeat.WithLabelValues("cancelled").Add(float64(r.Repeat.Cancelled))
	m.repeat.WithLabelValues("abandoned").Add(float64(r.Repeat.Abandoned))
	m.repeat.WithLabelValues("throttled").Add(float64(r.Repeat.Throttled))
	m.repeat.WithLabelValues("dormant").Add(float64(r.Repeat.Dormant))
	m.timers.Add(float64(r.TimersFired))
	m.polls.Add(float64(r.Polled))
	m.spawned.Add(float64(r.Spawned))
	m.completed.Add(float64(r.Completed))

	m.tasksLive.Set(float64(r.TasksLive))
	m.oncePending.Set(float64(r.OncePending))
	m.watchesLive.Set(float64(r.WatchesLive))
	m.timersQueued.Set(float64(r.TimersQueued))

	m.tickDuration.Observe(r.Elapsed.Seconds())

	m.mu.Lock()
	m.last = r
	m.mu.Unlock()
}

// ObserveFixed folds a fixed-step report into the collectors.
func (m *Metrics) ObserveFixed(r engine.FixedReport) {
	m.fixedSteps.Inc()
	m.fixedDone.WithLabelValues("completed").Add(float64(r.Stats.Completed))
	m.fixedDone.WithLabelValues("cancelled").Add(float64(r.Stats.Cancelled))
	m.fixedLive.Set(float64(r.Live))
}

// Last returns the most recent tick report.
func (m *Metrics) Last() engine.TickReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
