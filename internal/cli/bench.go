package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jamiealquiza/tachymeter"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/tickbridge/internal/cancel"
	"github.com/roach88/tickbridge/internal/engine"
)

// BenchOptions holds flags for the bench command.
type BenchOptions struct {
	*RootOptions
	Ticks   int
	Workers []int
}

// BenchRow is one workload size.
type BenchRow struct {
	Tasks   int           `json:"tasks"`
	Ticks   int           `json:"ticks"`
	Avg     time.Duration `json:"avg_ns"`
	Min     time.Duration `json:"min_ns"`
	P75     time.Duration `json:"p75_ns"`
	P99     time.Duration `json:"p99_ns"`
	Max     time.Duration `json:"max_ns"`
	Polled  int64         `json:"polled"`
	OnceRun int64         `json:"once_run"`
}

// benchState is the store the workload tasks mutate.
type benchState struct {
	counter int
	writes  int
}

// NewBenchCommand creates the bench command.
func NewBenchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BenchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure tick latency under a synthetic task load",
		Long: `Bench spawns a mix of tasks (mutators, sleepers and watchers) and times
every Tick call. Each --tasks value is a separate workload.

Examples:
  tickbridge bench
  tickbridge bench --ticks 5000 --tasks 10,100,1000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Ticks, "ticks", 1000, "ticks per workload")
	cmd.Flags().IntSliceVar(&opts.Workers, "tasks", []int{10, 100, 1000}, "task counts to measure")

	return cmd
}

func runBench(cmd *cobra.Command, opts *BenchOptions) error {
	if opts.Ticks < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--ticks must be positive, got %d", opts.Ticks))
	}
	out := opts.formatter(cmd)

	rows := make([]BenchRow, 0, len(opts.Workers))
	for _, n := range opts.Workers {
		if n < 1 {
			return NewExitError(ExitCommandError, fmt.Sprintf("--tasks values must be positive, got %d", n))
		}
		opts.Logger.Debug("bench workload", "tasks", n, "ticks", opts.Ticks)
		rows = append(rows, benchWorkload(opts, n))
	}

	if out.JSON() {
		return out.Success(rows)
	}

	tbl := out.Table("Tick latency", table.Row{"tasks", "ticks", "avg", "min", "p75", "p99", "max", "polls", "once"})
	for _, r := range rows {
		tbl.AppendRow(table.Row{
			humanize.Comma(int64(r.Tasks)),
			humanize.Comma(int64(r.Ticks)),
			r.Avg, r.Min, r.P75, r.P99, r.Max,
			humanize.Comma(r.Polled),
			humanize.Comma(r.OnceRun),
		})
	}
	tbl.Render()
	return nil
}

func benchWorkload(opts *BenchOptions, tasks int) BenchRow {
	cfg := opts.Config
	eng := engine.New[benchState](
		engine.WithLogger(opts.Logger),
		engine.WithReadWorkers(cfg.ReadWorkers),
		engine.WithWatchThrottle(cfg.WatchThrottle),
	)
	defer eng.Close()

	delta := cfg.TickInterval
	for i := range tasks {
		switch i % 3 {
		case 0:
			engine.Go(eng, func(c *engine.Ctx[benchState]) error {
				for {
					if err := engine.Mutate(c, func(s *benchState) {
						s.counter++
						s.writes++
					}); err != nil {
						return err
					}
				}
			})
		case 1:
			engine.Go(eng, func(c *engine.Ctx[benchState]) error {
				for {
					c.Sleep(delta)
				}
			})
		default:
			engine.Go(eng, func(c *engine.Ctx[benchState]) error {
				for next := 100; ; next += 100 {
					target := next
					if err := engine.WaitUntil(c, func(s *benchState) bool {
						return s.counter >= target
					}, cancel.None()); err != nil {
						return err
					}
				}
			})
		}
	}

	state := &benchState{}
	tach := tachymeter.New(&tachymeter.Config{Size: opts.Ticks})
	row := BenchRow{Tasks: tasks, Ticks: opts.Ticks}

	var now time.Duration
	for i := 1; i <= opts.Ticks; i++ {
		now += delta
		eng.SetNow(now)
		eng.SetFrame(uint64(i))

		start := time.Now()
		rep := eng.Tick(state, delta)
		tach.AddTime(time.Since(start))

		row.Polled += int64(rep.Polled)
		row.OnceRun += int64(rep.OnceRun)
	}

	calc := tach.Calc()
	row.Avg = calc.Time.Avg
	row.Min = calc.Time.Min
	row.P75 = calc.Time.P75
	row.P99 = calc.Time.P99
	row.Max = calc.Time.Max
	return row
}
