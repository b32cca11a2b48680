package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/tickbridge/internal/engine"
	"github.com/roach88/tickbridge/internal/logging"
	"github.com/roach88/tickbridge/internal/queue"
	"github.com/roach88/tickbridge/internal/routine"
)

func createTestJournal(t *testing.T) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func beginTestRun(t *testing.T, j *Journal, id string, at time.Time) {
	t.Helper()
	if err := j.BeginRun(context.Background(), id, "scenario-"+id, at); err != nil {
		t.Fatalf("BeginRun(%s) failed: %v", id, err)
	}
}

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestOpen_CreatesFileAndPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer j.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("journal file was not created")
	}

	ctx := context.Background()
	for name, want := range map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
		"user_version": "1",
	} {
		got, err := j.pragma(ctx, name)
		if err != nil {
			t.Fatalf("pragma %s: %v", name, err)
		}
		if got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 3; i++ {
		j, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		j.Close()
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := j.DB().Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump user_version: %v", err)
	}
	j.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("Open() accepted a newer schema")
	}
}

func TestRuns_BeginFinishList(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	beginTestRun(t, j, "run-a", epoch)
	beginTestRun(t, j, "run-b", epoch.Add(time.Minute))
	beginTestRun(t, j, "run-a", epoch.Add(time.Hour)) // duplicate ignored

	if err := j.FinishRun(ctx, "run-a", StatusPassed, epoch.Add(time.Second)); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}

	runs, err := j.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "run-b" || runs[1].ID != "run-a" {
		t.Errorf("order = [%s %s], want newest first", runs[0].ID, runs[1].ID)
	}
	if runs[1].Status != StatusPassed {
		t.Errorf("run-a status = %q, want %q", runs[1].Status, StatusPassed)
	}
	if !runs[1].StartedAt.Equal(epoch) {
		t.Errorf("run-a started_at = %v, want %v (first write wins)", runs[1].StartedAt, epoch)
	}
	if runs[0].Status != StatusRunning || !runs[0].FinishedAt.IsZero() {
		t.Errorf("run-b should still be running, got %+v", runs[0])
	}

	latest, err := j.LatestRun(ctx)
	if err != nil {
		t.Fatalf("LatestRun() failed: %v", err)
	}
	if latest.ID != "run-b" {
		t.Errorf("LatestRun() = %s, want run-b", latest.ID)
	}
}

func TestRuns_NotFound(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	if _, err := j.ReadRun(ctx, "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("ReadRun() err = %v, want ErrRunNotFound", err)
	}
	if err := j.FinishRun(ctx, "nope", StatusFailed, epoch); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun() err = %v, want ErrRunNotFound", err)
	}
	if _, err := j.LatestRun(ctx); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("LatestRun() err = %v, want ErrRunNotFound", err)
	}
}

func TestTicks_RoundTripInOrder(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()
	beginTestRun(t, j, "run-1", epoch)

	for _, n := range []uint64{3, 1, 2} {
		rep := engine.TickReport{
			Tick:    n,
			Now:     time.Duration(n) * 16 * time.Millisecond,
			Frame:   n,
			Delta:   16 * time.Millisecond,
			OnceRun: int(n),
			Repeat:  queue.RepeatStats{Ran: 2, Kept: 1, Completed: 1},
			Polled:  4,
			Elapsed: 50 * time.Microsecond,
		}
		if err := j.WriteTick(ctx, "run-1", rep); err != nil {
			t.Fatalf("WriteTick(%d) failed: %v", n, err)
		}
	}

	ticks, err := j.ReadTicks(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadTicks() failed: %v", err)
	}
	if len(ticks) != 3 {
		t.Fatalf("got %d ticks, want 3", len(ticks))
	}
	for i, tk := range ticks {
		if tk.Tick != uint64(i+1) {
			t.Errorf("ticks[%d].Tick = %d, want %d", i, tk.Tick, i+1)
		}
	}
	if ticks[1].Now != 32*time.Millisecond || ticks[1].RepeatKept != 1 || ticks[1].Elapsed != 50*time.Microsecond {
		t.Errorf("tick 2 lost fields: %+v", ticks[1])
	}

	run, err := j.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if run.Ticks != 3 {
		t.Errorf("run.Ticks = %d, want 3", run.Ticks)
	}
}

func TestTicks_UnknownRunViolatesForeignKey(t *testing.T) {
	j := createTestJournal(t)
	err := j.WriteTick(context.Background(), "ghost", engine.TickReport{Tick: 1})
	if err == nil {
		t.Fatal("WriteTick() for an unknown run should fail")
	}
}

func TestTicks_EmptyRunReturnsEmptySlice(t *testing.T) {
	j := createTestJournal(t)
	beginTestRun(t, j, "run-1", epoch)

	ticks, err := j.ReadTicks(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("ReadTicks() failed: %v", err)
	}
	if ticks == nil || len(ticks) != 0 {
		t.Errorf("ReadTicks() = %#v, want empty non-nil slice", ticks)
	}
}

func TestFixed_RoundTrip(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()
	beginTestRun(t, j, "run-1", epoch)

	rep := engine.FixedReport{
		Step:  7,
		Delta: 20 * time.Millisecond,
		Stats: routine.StepStats{Ran: 3, Completed: 1, Cancelled: 1},
		Live:  1,
	}
	if err := j.WriteFixed(ctx, "run-1", rep); err != nil {
		t.Fatalf("WriteFixed() failed: %v", err)
	}

	steps, err := j.ReadFixed(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadFixed() failed: %v", err)
	}
	want := FixedStep{Step: 7, Delta: 20 * time.Millisecond, Ran: 3, Completed: 1, Cancelled: 1, Live: 1}
	if len(steps) != 1 || steps[0] != want {
		t.Errorf("ReadFixed() = %+v, want [%+v]", steps, want)
	}
}

func TestEvents_WriteIsIdempotent(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()
	beginTestRun(t, j, "run-1", epoch)

	events := []Event{
		{Seq: 1, Tick: 1, Task: "counter", Kind: "start"},
		{Seq: 2, Tick: 3, Task: "counter", Kind: "done", Value: "2"},
	}
	for i := 0; i < 2; i++ {
		if err := j.WriteEvents(ctx, "run-1", events); err != nil {
			t.Fatalf("WriteEvents() pass %d failed: %v", i, err)
		}
	}

	got, err := j.ReadEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadEvents() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[1] != events[1] {
		t.Errorf("events[1] = %+v, want %+v", got[1], events[1])
	}
}

func TestRecorder_JournalsEngineReports(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()
	beginTestRun(t, j, "run-1", epoch)

	rec := NewRecorder(ctx, j, "run-1", logging.NewNop())
	type world struct{ n int }
	eng := engine.New[world](engine.WithLogger(logging.NewNop()), engine.WithObserver(rec))
	defer eng.Close()

	var w world
	for i := 0; i < 4; i++ {
		eng.Tick(&w, 16*time.Millisecond)
	}
	eng.FixedTick(&w, 20*time.Millisecond)

	if err := rec.Err(); err != nil {
		t.Fatalf("recorder errors: %v", err)
	}

	ticks, err := j.ReadTicks(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadTicks() failed: %v", err)
	}
	if len(ticks) != 4 {
		t.Errorf("got %d ticks, want 4", len(ticks))
	}

	steps, err := j.ReadFixed(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadFixed() failed: %v", err)
	}
	if len(steps) != 1 {
		t.Errorf("got %d fixed steps, want 1", len(steps))
	}
}

func TestRecorder_KeepsWriteErrors(t *testing.T) {
	j := createTestJournal(t)
	rec := NewRecorder(context.Background(), j, "missing-run", logging.NewNop())

	rec.ObserveTick(engine.TickReport{Tick: 1})
	rec.ObserveFixed(engine.FixedReport{Step: 1})

	if rec.Err() == nil {
		t.Error("Err() = nil, want the foreign key failures")
	}
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("a", "b")
	if got := gen.Generate(); got != "a" {
		t.Errorf("first = %q, want a", got)
	}
	if got := gen.Generate(); got != "b" {
		t.Errorf("second = %q, want b", got)
	}

	defer func() {
		if recover() == nil {
			t.Error("exhausted generator did not panic")
		}
	}()
	gen.Generate()
}

func TestUUIDv7Generator_Sortable(t *testing.T) {
	var gen UUIDv7Generator
	a, b := gen.Generate(), gen.Generate()
	if len(a) != 36 {
		t.Errorf("len = %d, want 36", len(a))
	}
	if a == b {
		t.Error("generated duplicate ids")
	}
	if a > b {
		t.Errorf("ids not time ordered: %s > %s", a, b)
	}
}
