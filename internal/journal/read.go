package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

const runColumns = `
	r.id, r.name, r.started_at, r.finished_at, r.status,
	(SELECT COUNT(*) FROM ticks t WHERE t.run_id = r.id)
`

// ReadRun returns a single run.
func (j *Journal) ReadRun(ctx context.Context, id string) (Run, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("read run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns every run, newest first.
func (j *Journal) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs r
		ORDER BY r.started_at DESC, r.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the most recently started run.
func (j *Journal) LatestRun(ctx context.Context) (Run, error) {
	runs, err := j.ListRuns(ctx)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, fmt.Errorf("latest run: %w", ErrRunNotFound)
	}
	return runs[0], nil
}

// ReadTicks returns the run's tick rows in tick order.
func (j *Journal) ReadTicks(ctx context.Context, runID string) ([]Tick, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT tick, now_ns, frame, delta_ns, reads, once_run,
		       repeat_ran, repeat_kept, repeat_completed, repeat_cancelled, repeat_abandoned,
		       timers_fired, woken, polled, spawned, completed, tasks_live, elapsed_ns
		FROM ticks
		WHERE run_id = ?
		ORDER BY tick ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read ticks: %w", err)
	}
	defer rows.Close()

	ticks := []Tick{}
	for rows.Next() {
		var t Tick
		var tick, now, frame, delta, elapsed int64
		if err := rows.Scan(
			&tick, &now, &frame, &delta, &t.Reads, &t.OnceRun,
			&t.RepeatRan, &t.RepeatKept, &t.RepeatCompleted, &t.RepeatCancelled, &t.RepeatAbandoned,
			&t.TimersFired, &t.Woken, &t.Polled, &t.Spawned, &t.Completed, &t.TasksLive, &elapsed,
		); err != nil {
			return nil, fmt.Errorf("read ticks: %w", err)
		}
		t.Tick = uint64(tick)
		t.Now = time.Duration(now)
		t.Frame = uint64(frame)
		t.Delta = time.Duration(delta)
		t.Elapsed = time.Duration(elapsed)
		ticks = append(ticks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ticks: %w", err)
	}
	return ticks, nil
}

// ReadFixed returns the run's fixed-step rows in step order.
func (j *Journal) ReadFixed(ctx context.Context, runID string) ([]FixedStep, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT step, delta_ns, ran, completed, cancelled, live
		FROM fixed_steps
		WHERE run_id = ?
		ORDER BY step ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read fixed steps: %w", err)
	}
	defer rows.Close()

	steps := []FixedStep{}
	for rows.Next() {
		var s FixedStep
		var step, delta int64
		if err := rows.Scan(&step, &delta, &s.Ran, &s.Completed, &s.Cancelled, &s.Live); err != nil {
			return nil, fmt.Errorf("read fixed steps: %w", err)
		}
		s.Step = uint64(step)
		s.Delta = time.Duration(delta)
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read fixed steps: %w", err)
	}
	return steps, nil
}

// ReadEvents returns the run's trace in sequence order.
func (j *Journal) ReadEvents(ctx context.Context, runID string) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, tick, task, kind, value
		FROM events
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		var tick int64
		if err := rows.Scan(&ev.Seq, &tick, &ev.Task, &ev.Kind, &ev.Value); err != nil {
			return nil, fmt.Errorf("read events: %w", err)
		}
		ev.Tick = uint64(tick)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var started int64
	var finished sql.NullInt64
	if err := row.Scan(&run.ID, &run.Name, &started, &finished, &run.Status, &run.Ticks); err != nil {
		return Run{}, err
	}
	run.StartedAt = time.Unix(0, started).UTC()
	if finished.Valid {
		run.FinishedAt = time.Unix(0, finished.Int64).UTC()
	}
	return run, nil
}
