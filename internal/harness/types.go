package harness

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Event is one trace line.
type Event struct {
	Tick  uint64 `json:"tick"`
	Task  string `json:"task"`
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"`
}

func (e Event) String() string {
	if e.Value == "" {
		return fmt.Sprintf("tick %d %s %s", e.Tick, e.Task, e.Kind)
	}
	return fmt.Sprintf("tick %d %s %s %s", e.Tick, e.Task, e.Kind, e.Value)
}

// Result is the outcome of one scenario run.
type Result struct {
	Scenario string         `json:"scenario"`
	Ticks    int            `json:"ticks"`
	Pass     bool           `json:"pass"`
	Trace    []Event        `json:"trace"`
	Counters map[string]int `json:"counters"`
	Pending  []string       `json:"pending"`
	Errors   []string       `json:"errors,omitempty"`
}

func newResult(name string, ticks int) *Result {
	return &Result{
		Scenario: name,
		Ticks:    ticks,
		Pass:     true,
		Trace:    []Event{},
		Counters: map[string]int{},
		Pending:  []string{},
	}
}

// AddError records an expectation failure and marks the result failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Snapshot renders the result as indented JSON for golden comparison.
func (r *Result) Snapshot() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return append(data, '\n'), nil
}

// Count returns how many trace events match task and kind. An empty task
// matches every task.
func (r *Result) Count(task, kind string) int {
	n := 0
	for _, ev := range r.Trace {
		if (task == "" || ev.Task == task) && ev.Kind == kind {
			n++
		}
	}
	return n
}

// Filter returns the trace lines of one task.
func (r *Result) Filter(task string) []Event {
	out := []Event{}
	for _, ev := range r.Trace {
		if ev.Task == task {
			out = append(out, ev)
		}
	}
	return out
}

// check compares the end state with the scenario's expectations.
func (r *Result) check(counters map[string]int, pending []string) {
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		want := counters[name]
		got, ok := r.Counters[name]
		if !ok {
			r.AddError("counter %q does not exist", name)
			continue
		}
		if got != want {
			r.AddError("counter %q = %d, want %d", name, got, want)
		}
	}

	if pending == nil {
		return
	}
	want := slices.Clone(pending)
	slices.Sort(want)
	got := slices.Clone(r.Pending)
	slices.Sort(got)
	if !slices.Equal(got, want) {
		r.AddError("pending tasks [%s], want [%s]", strings.Join(got, ", "), strings.Join(want, ", "))
	}
}
