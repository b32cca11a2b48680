// Package scenario compiles CUE scenario files.
//
// A scenario describes a counter world, a set of tasks to spawn on given
// ticks and the expected end state. Compilation unifies the file with the
// embedded #Scenario schema, requires a concrete result and decodes each
// task's args into its typed struct.
package scenario

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaCUE string

// Scenario is a compiled scenario.
type Scenario struct {
	Name        string
	Description string
	Ticks       int
	Delta       time.Duration
	FixedStep   time.Duration
	Counters    map[string]int
	Tasks       []Task
	Expect      Expect
}

// Task is one task to spawn. Args holds the kind's typed arguments, e.g.
// AddArgs for KindAdd.
type Task struct {
	Name  string
	Kind  Kind
	Start int
	Args  any
}

// Expect is the end state a run is checked against. Nil fields are not
// checked.
type Expect struct {
	Counters map[string]int
	Pending  []string
}

type rawScenario struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Ticks       int            `json:"ticks"`
	Delta       string         `json:"delta"`
	FixedStep   string         `json:"fixed_step"`
	Counters    map[string]int `json:"counters"`
	Tasks       []rawTask      `json:"tasks"`
	Expect      *rawExpect     `json:"expect"`
}

type rawTask struct {
	Name  string         `json:"name"`
	Kind  string         `json:"kind"`
	Start int            `json:"start"`
	Args  map[string]any `json:"args"`
}

type rawExpect struct {
	Counters map[string]int `json:"counters"`
	Pending  []string       `json:"pending"`
}

// LoadFile reads and compiles a scenario file.
func LoadFile(path string) (*Scenario, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return Compile(filepath.Base(path), src)
}

// Compile compiles scenario source. filename only labels error positions.
func Compile(filename string, src []byte) (*Scenario, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("scenario schema: %w", err)
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Scenario")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var raw rawScenario
	if err := unified.Decode(&raw); err != nil {
		return nil, formatCUEError(err)
	}

	sc, err := build(raw)
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func build(raw rawScenario) (*Scenario, error) {
	sc := &Scenario{
		Name:        raw.Name,
		Description: raw.Description,
		Ticks:       raw.Ticks,
		Counters:    raw.Counters,
	}
	if sc.Counters == nil {
		sc.Counters = map[string]int{}
	}

	var problems []error

	var err error
	if sc.Delta, err = time.ParseDuration(raw.Delta); err != nil || sc.Delta <= 0 {
		problems = append(problems, &CompileError{Field: "delta", Message: fmt.Sprintf("invalid duration %q", raw.Delta)})
	}
	if sc.FixedStep, err = time.ParseDuration(raw.FixedStep); err != nil || sc.FixedStep <= 0 {
		problems = append(problems, &CompileError{Field: "fixed_step", Message: fmt.Sprintf("invalid duration %q", raw.FixedStep)})
	}

	names := make(map[string]bool, len(raw.Tasks))
	for i, rt := range raw.Tasks {
		field := fmt.Sprintf("tasks[%d]", i)
		if names[rt.Name] {
			problems = append(problems, &CompileError{Field: field + ".name", Message: fmt.Sprintf("duplicate task name %q", rt.Name)})
		}
		names[rt.Name] = true

		if rt.Start >= sc.Ticks {
			problems = append(problems, &CompileError{
				Field:   field + ".start",
				Message: fmt.Sprintf("start %d is not before the last tick %d", rt.Start, sc.Ticks),
			})
		}

		task, err := decodeTask(rt)
		if err != nil {
			problems = append(problems, &CompileError{Field: field + ".args", Message: err.Error()})
			continue
		}
		for _, c := range task.counters() {
			if _, ok := sc.Counters[c]; !ok {
				problems = append(problems, &CompileError{
					Field:   field + ".args",
					Message: fmt.Sprintf("task %q uses undeclared counter %q", rt.Name, c),
				})
			}
		}
		sc.Tasks = append(sc.Tasks, task)
	}

	if raw.Expect != nil {
		sc.Expect = Expect{Counters: raw.Expect.Counters, Pending: raw.Expect.Pending}
		for _, name := range raw.Expect.Pending {
			if !names[name] {
				problems = append(problems, &CompileError{
					Field:   "expect.pending",
					Message: fmt.Sprintf("unknown task %q", name),
				})
			}
		}
	}

	if err := errors.Join(problems...); err != nil {
		return nil, err
	}
	return sc, nil
}
