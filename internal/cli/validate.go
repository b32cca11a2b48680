package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/tickbridge/internal/scenario"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// ValidateReport describes one validated file.
type ValidateReport struct {
	File     string   `json:"file"`
	Valid    bool     `json:"valid"`
	Scenario string   `json:"scenario,omitempty"`
	Tasks    int      `json:"tasks,omitempty"`
	Ticks    int      `json:"ticks,omitempty"`
	Problems []string `json:"problems,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <scenario.cue>...",
		Short: "Check scenario files without running them",
		Long: `Validate compiles each scenario against the schema and reports every
problem found: unknown fields, bad durations, undeclared counters,
duplicate task names and expectations naming unknown tasks.

Examples:
  tickbridge validate scenarios/*.cue
  tickbridge validate basics.cue --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, opts, args)
		},
	}

	return cmd
}

func runValidate(cmd *cobra.Command, opts *ValidateOptions, paths []string) error {
	out := opts.formatter(cmd)

	reports := make([]ValidateReport, 0, len(paths))
	invalid := 0
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return WrapExitError(ExitCommandError, "failed to read scenario", err)
		}

		report := ValidateReport{File: path, Valid: true}
		sc, err := scenario.LoadFile(path)
		if err != nil {
			report.Valid = false
			report.Problems = problemList(err)
			invalid++
		} else {
			report.Scenario = sc.Name
			report.Tasks = len(sc.Tasks)
			report.Ticks = sc.Ticks
		}
		opts.Logger.Debug("validated scenario", "file", path, "valid", report.Valid)
		reports = append(reports, report)
	}

	if out.JSON() {
		if err := out.Success(reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			if r.Valid {
				fmt.Fprintf(out.Writer, "ok    %s (%s: %d tasks, %d ticks)\n", r.File, r.Scenario, r.Tasks, r.Ticks)
				continue
			}
			fmt.Fprintf(out.Writer, "FAIL  %s\n", r.File)
			for _, p := range r.Problems {
				fmt.Fprintf(out.Writer, "      %s\n", p)
			}
		}
	}

	if invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios invalid", invalid, len(paths)))
	}
	return nil
}

// problemList flattens joined errors into one message each.
func problemList(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, problemList(e)...)
		}
		return out
	}
	return []string{err.Error()}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
