package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/tickbridge/internal/engine"
	"github.com/roach88/tickbridge/internal/harness"
	"github.com/roach88/tickbridge/internal/journal"
	"github.com/roach88/tickbridge/internal/metrics"
	"github.com/roach88/tickbridge/internal/scenario"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	DBPath      string
	MetricsAddr string
	Realtime    bool

	// RunIDs generates journal run ids. Tests swap in a fixed generator.
	RunIDs journal.RunIDGenerator
}

// RunSummary is the output of the run command.
type RunSummary struct {
	RunID  string          `json:"run_id,omitempty"`
	Result *harness.Result `json:"result"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts, RunIDs: journal.UUIDv7Generator{}}
	return newRunCommand(opts)
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenario.cue>",
		Short: "Run a scenario against a fresh engine",
		Long: `Run compiles a CUE scenario, drives the engine for the declared number of
ticks and checks the expected counters and pending tasks.

By default ticks are simulated back to back with a manual clock, so the
trace is deterministic. With --realtime the engine's own loop paces ticks
at the scenario's delta.

Examples:
  tickbridge run scenarios/basics.cue
  tickbridge run scenarios/basics.cue --db journal.db
  tickbridge run scenarios/timers.cue --realtime --metrics-addr :9090`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "journal database path (overrides journal_path)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics and /status on this address (overrides metrics_addr)")
	cmd.Flags().BoolVar(&opts.Realtime, "realtime", false, "pace ticks with the wall clock")

	return cmd
}

func runScenario(cmd *cobra.Command, opts *RunOptions, path string) error {
	out := opts.formatter(cmd)
	logger := opts.Logger

	if _, err := os.Stat(path); err != nil {
		return WrapExitError(ExitCommandError, "failed to read scenario", err)
	}
	sc, err := scenario.LoadFile(path)
	if err != nil {
		if ferr := out.Failure("scenario is invalid", problemList(err)); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, "scenario is invalid", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	hopts := []harness.Option{
		harness.WithLogger(logger),
		harness.WithEngineOptions(
			engine.WithReadWorkers(cfg.ReadWorkers),
			engine.WithWatchThrottle(cfg.WatchThrottle),
		),
	}

	summary := RunSummary{}

	dbPath := firstNonEmpty(opts.DBPath, cfg.JournalPath)
	var (
		j        *journal.Journal
		recorder *journal.Recorder
	)
	if dbPath != "" {
		j, err = journal.Open(dbPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer j.Close()

		summary.RunID = opts.RunIDs.Generate()
		if err := j.BeginRun(ctx, summary.RunID, sc.Name, time.Now()); err != nil {
			return WrapExitError(ExitCommandError, "failed to begin run", err)
		}
		recorder = journal.NewRecorder(ctx, j, summary.RunID, logger)
		hopts = append(hopts, harness.WithObserver(recorder))
		logger.Debug("journaling run", "db", dbPath, "run", summary.RunID)
	}

	if addr := firstNonEmpty(opts.MetricsAddr, cfg.MetricsAddr); addr != "" {
		m := metrics.New()
		hopts = append(hopts, harness.WithObserver(m))

		shutdown, err := serveMetrics(addr, metrics.NewHandler(m, summary.RunID), opts)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to serve metrics", err)
		}
		defer shutdown()
	}

	var result *harness.Result
	if opts.Realtime {
		result, err = harness.RunRealtime(ctx, sc, hopts...)
	} else {
		result, err = harness.Run(sc, hopts...)
	}

	if j != nil {
		// Record the outcome on a fresh context so an interrupt still
		// closes the run.
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if ferr := finishJournal(finishCtx, j, summary.RunID, result, err); ferr != nil {
			logger.Warn("journal finish failed", "run", summary.RunID, "error", ferr)
		}
		if rerr := recorder.Err(); rerr != nil {
			logger.Warn("journal dropped reports", "run", summary.RunID, "error", rerr)
		}
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return WrapExitError(ExitCommandError, "run interrupted", err)
		}
		return WrapExitError(ExitCommandError, "run failed", err)
	}

	summary.Result = result
	if err := writeRunSummary(out, summary); err != nil {
		return err
	}
	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %q failed: %s", result.Scenario, strings.Join(result.Errors, "; ")))
	}
	return nil
}

func finishJournal(ctx context.Context, j *journal.Journal, runID string, result *harness.Result, runErr error) error {
	status := journal.StatusAborted
	if runErr == nil {
		status = journal.StatusFailed
		if result.Pass {
			status = journal.StatusPassed
		}
	}

	var errs []error
	if result != nil {
		events := make([]journal.Event, len(result.Trace))
		for i, ev := range result.Trace {
			events[i] = journal.Event{
				Seq:   int64(i + 1),
				Tick:  ev.Tick,
				Task:  ev.Task,
				Kind:  ev.Kind,
				Value: ev.Value,
			}
		}
		errs = append(errs, j.WriteEvents(ctx, runID, events))
	}
	errs = append(errs, j.FinishRun(ctx, runID, status, time.Now()))
	return errors.Join(errs...)
}

// serveMetrics listens on addr and returns a shutdown func.
func serveMetrics(addr string, handler http.Handler, opts *RunOptions) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			opts.Logger.Error("metrics server error", "error", err)
		}
	}()
	opts.Logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			opts.Logger.Warn("metrics server shutdown failed", "error", err)
		}
	}, nil
}

func writeRunSummary(out *Formatter, summary RunSummary) error {
	if out.JSON() {
		return out.Success(summary)
	}

	res := summary.Result
	tbl := out.Table(fmt.Sprintf("%s (%d ticks)", res.Scenario, res.Ticks), table.Row{"Tick", "Task", "Event", "Value"})
	for _, ev := range res.Trace {
		tbl.AppendRow(table.Row{ev.Tick, ev.Task, ev.Kind, ev.Value})
	}
	tbl.Render()

	w := out.Writer
	names := sortedKeys(res.Counters)
	for _, name := range names {
		fmt.Fprintf(w, "  %s = %d\n", name, res.Counters[name])
	}
	if len(res.Pending) > 0 {
		fmt.Fprintf(w, "  pending: %s\n", strings.Join(res.Pending, ", "))
	}
	if summary.RunID != "" {
		fmt.Fprintf(w, "  run: %s\n", summary.RunID)
	}

	if res.Pass {
		fmt.Fprintln(w, "PASS")
		return nil
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  - %s\n", e)
	}
	fmt.Fprintln(w, "FAIL")
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
