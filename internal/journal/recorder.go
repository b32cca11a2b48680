package journal

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/tickbridge/internal/engine"
)

// Recorder is an engine.Observer that writes every report to a journal.
//
// Observers cannot fail, so write errors are logged and kept. Err returns
// all of them joined.
type Recorder struct {
	j      *Journal
	runID  string
	ctx    context.Context
	logger *slog.Logger

	mu   sync.Mutex
	errs []error
}

var _ engine.Observer = (*Recorder)(nil)

// NewRecorder records into run runID, which must already exist.
func NewRecorder(ctx context.Context, j *Journal, runID string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{j: j, runID: runID, ctx: ctx, logger: logger}
}

// RunID returns the run being recorded.
func (r *Recorder) RunID() string {
	return r.runID
}

// ObserveTick journals a tick report.
func (r *Recorder) ObserveTick(rep engine.TickReport) {
	if err := r.j.WriteTick(r.ctx, r.runID, rep); err != nil {
		r.fail(err, "tick", rep.Tick)
	}
}

// ObserveFixed journals a fixed-step report.
func (r *Recorder) ObserveFixed(rep engine.FixedReport) {
	if err := r.j.WriteFixed(r.ctx, r.runID, rep); err != nil {
		r.fail(err, "step", rep.Step)
	}
}

// Err returns every write error seen so far, or nil.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}

func (r *Recorder) fail(err error, key string, n uint64) {
	r.logger.Warn("journal write failed", "run", r.runID, key, n, "error", err)
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}
