package metrics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Status is the body of GET /status.
type Status struct {
	Run          string        `json:"run,omitempty"`
	Tick         uint64        `json:"tick"`
	Frame        uint64        `json:"frame"`
	Now          time.Duration `json:"now_ns"`
	TasksLive    int           `json:"tasks_live"`
	OncePending  int           `json:"once_pending"`
	WatchesLive  int           `json:"watches_live"`
	TimersQueued int           `json:"timers_queued"`
}

// NewHandler routes /metrics and /status for the given run.
func NewHandler(m *Metrics, runID string) http.Handler {
	r := chi.NewRouter()

	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		last := m.Last()
		status := Status{
			Run:          runID,
			Tick:         last.Tick,
			Frame:        last.Frame,
			Now:          last.Now,
			TasksLive:    last.TasksLive,
			OncePending:  last.OncePending,
			WatchesLive:  last.WatchesLive,
			TimersQueued: last.TimersQueued,
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			slog.Error("status response encode failed", "error", err)
		}
	})
	return r
}
