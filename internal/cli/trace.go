package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/tickbridge/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	DBPath    string
	List      bool
	ShowTicks bool
}

// TraceTotals sums the tick rows of a run.
type TraceTotals struct {
	Ticks       int           `json:"ticks"`
	FixedSteps  int           `json:"fixed_steps"`
	OnceRun     int64         `json:"once_run"`
	Reads       int64         `json:"reads"`
	Polled      int64         `json:"polled"`
	Spawned     int64         `json:"spawned"`
	Completed   int64         `json:"completed"`
	TimersFired int64         `json:"timers_fired"`
	MaxLive     int           `json:"max_live"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}

// TraceReport is the output of trace for one run.
type TraceReport struct {
	Run    journal.Run     `json:"run"`
	Totals TraceTotals     `json:"totals"`
	Events []journal.Event `json:"events"`
	Ticks  []journal.Tick  `json:"ticks,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [run-id]",
		Short: "Show a journaled run",
		Long: `Trace reads a run back from the journal and prints its event trace and
tick totals. Without a run id the most recent run is shown.

Examples:
  tickbridge trace --db journal.db
  tickbridge trace --db journal.db --list
  tickbridge trace 0192f0c4-... --db journal.db --ticks --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return runTrace(cmd, opts, runID)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "journal database path (overrides journal_path)")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list recorded runs")
	cmd.Flags().BoolVar(&opts.ShowTicks, "ticks", false, "include per-tick rows")

	return cmd
}

func runTrace(cmd *cobra.Command, opts *TraceOptions, runID string) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	dbPath := firstNonEmpty(opts.DBPath, opts.Config.JournalPath)
	if dbPath == "" {
		return NewExitError(ExitCommandError, "no journal: pass --db or set journal_path")
	}
	j, err := journal.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	if opts.List {
		runs, err := j.ListRuns(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		return writeRunList(out, runs)
	}

	var run journal.Run
	if runID == "" {
		run, err = j.LatestRun(ctx)
	} else {
		run, err = j.ReadRun(ctx, runID)
	}
	if errors.Is(err, journal.ErrRunNotFound) {
		return WrapExitError(ExitFailure, "run not found", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	report, err := loadTrace(ctx, j, run, opts.ShowTicks)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}
	opts.Logger.Debug("loaded trace", "run", run.ID, "events", len(report.Events))
	return writeTrace(out, report)
}

func loadTrace(ctx context.Context, j *journal.Journal, run journal.Run, withTicks bool) (TraceReport, error) {
	events, err := j.ReadEvents(ctx, run.ID)
	if err != nil {
		return TraceReport{}, err
	}
	ticks, err := j.ReadTicks(ctx, run.ID)
	if err != nil {
		return TraceReport{}, err
	}
	fixed, err := j.ReadFixed(ctx, run.ID)
	if err != nil {
		return TraceReport{}, err
	}

	report := TraceReport{Run: run, Events: events, Totals: sumTicks(ticks)}
	report.Totals.FixedSteps = len(fixed)
	if withTicks {
		report.Ticks = ticks
	}
	return report, nil
}

func sumTicks(ticks []journal.Tick) TraceTotals {
	t := TraceTotals{Ticks: len(ticks)}
	for _, row := range ticks {
		t.OnceRun += int64(row.OnceRun)
		t.Reads += int64(row.Reads)
		t.Polled += int64(row.Polled)
		t.Spawned += int64(row.Spawned)
		t.Completed += int64(row.Completed)
		t.TimersFired += int64(row.TimersFired)
		t.MaxLive = max(t.MaxLive, row.TasksLive)
		t.Elapsed += row.Elapsed
	}
	return t
}

func writeRunList(out *Formatter, runs []journal.Run) error {
	if out.JSON() {
		return out.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out.Writer, "no runs recorded")
		return nil
	}

	tbl := out.Table("Runs", table.Row{"ID", "Scenario", "Status", "Ticks", "Started"})
	for _, r := range runs {
		tbl.AppendRow(table.Row{r.ID, r.Name, r.Status, humanize.Comma(int64(r.Ticks)), humanize.Time(r.StartedAt)})
	}
	tbl.Render()
	return nil
}

func writeTrace(out *Formatter, report TraceReport) error {
	if out.JSON() {
		return out.Success(report)
	}

	run := report.Run
	fmt.Fprintf(out.Writer, "run %s  %s  %s  started %s\n", run.ID, run.Name, run.Status, humanize.Time(run.StartedAt))

	events := out.Table("Events", table.Row{"#", "Tick", "Task", "Event", "Value"})
	for _, ev := range report.Events {
		events.AppendRow(table.Row{ev.Seq, ev.Tick, ev.Task, ev.Kind, ev.Value})
	}
	events.Render()

	if len(report.Ticks) > 0 {
		ticks := out.Table("Ticks", table.Row{"Tick", "Frame", "Now", "Once", "Reads", "Polled", "Timers", "Live", "Elapsed"})
		for _, t := range report.Ticks {
			ticks.AppendRow(table.Row{t.Tick, t.Frame, t.Now, t.OnceRun, t.Reads, t.Polled, t.TimersFired, t.TasksLive, t.Elapsed})
		}
		ticks.Render()
	}

	tot := report.Totals
	totals := out.Table("Totals", table.Row{"Ticks", "Fixed", "Once", "Reads", "Polled", "Spawned", "Completed", "Timers", "Max live", "Elapsed"})
	totals.AppendRow(table.Row{
		humanize.Comma(int64(tot.Ticks)),
		humanize.Comma(int64(tot.FixedSteps)),
		humanize.Comma(tot.OnceRun),
		humanize.Comma(tot.Reads),
		humanize.Comma(tot.Polled),
		humanize.Comma(tot.Spawned),
		humanize.Comma(tot.Completed),
		humanize.Comma(tot.TimersFired),
		tot.MaxLive,
		tot.Elapsed,
	})
	totals.Render()
	return nil
}
