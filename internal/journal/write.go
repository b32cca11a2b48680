package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/tickbridge/internal/engine"
)

// BeginRun inserts a run row in the running state.
// Uses ON CONFLICT(id) DO NOTHING so a retried call is harmless.
func (j *Journal) BeginRun(ctx context.Context, id, name string, startedAt time.Time) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, name, started_at, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, name, startedAt.UnixNano(), StatusRunning)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun stamps the run with its final status.
func (j *Journal) FinishRun(ctx context.Context, id, status string, finishedAt time.Time) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ? WHERE id = ?
	`, status, finishedAt.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: %w", ErrRunNotFound)
	}
	return nil
}

// WriteTick appends a tick report to the run.
func (j *Journal) WriteTick(ctx context.Context, runID string, r engine.TickReport) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO ticks
		(run_id, tick, now_ns, frame, delta_ns, reads, once_run,
		 repeat_ran, repeat_kept, repeat_completed, repeat_cancelled, repeat_abandoned,
		 timers_fired, woken, polled, spawned, completed, tasks_live, elapsed_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, tick) DO NOTHING
	`,
		runID,
		int64(r.Tick),
		int64(r.Now),
		int64(r.Frame),
		int64(r.Delta),
		r.Reads,
		r.OnceRun,
		r.Repeat.Ran,
		r.Repeat.Kept,
		r.Repeat.Completed,
		r.Repeat.Cancelled,
		r.Repeat.Abandoned,
		r.TimersFired,
		r.Woken,
		r.Polled,
		r.Spawned,
		r.Completed,
		r.TasksLive,
		int64(r.Elapsed),
	)
	if err != nil {
		return fmt.Errorf("write tick: %w", err)
	}
	return nil
}

// WriteFixed appends a fixed-step report to the run.
func (j *Journal) WriteFixed(ctx context.Context, runID string, r engine.FixedReport) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO fixed_steps (run_id, step, delta_ns, ran, completed, cancelled, live)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, step) DO NOTHING
	`,
		runID,
		int64(r.Step),
		int64(r.Delta),
		r.Stats.Ran,
		r.Stats.Completed,
		r.Stats.Cancelled,
		r.Live,
	)
	if err != nil {
		return fmt.Errorf("write fixed step: %w", err)
	}
	return nil
}

// WriteEvents appends trace events in one transaction.
func (j *Journal) WriteEvents(ctx context.Context, runID string, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (run_id, seq, tick, task, kind, value)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx, runID, ev.Seq, int64(ev.Tick), ev.Task, ev.Kind, ev.Value); err != nil {
			return fmt.Errorf("write event %d: %w", ev.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	return nil
}
