package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const basicsScenario = `
name:  "basics"
ticks: 6
counters: {hits: 0}
tasks: [
	{name: "bump", kind: "add", args: {counter: "hits", times: 2}},
	{name: "gate", kind: "wait_until", args: {counter: "hits", at_least: 2}},
	{name: "spin", kind: "yield", start: 1, args: {times: 2}},
]
expect: {
	counters: {hits: 2}
	pending: []
}
`

const failingScenario = `
name:  "short"
ticks: 2
counters: {hits: 0}
tasks: [
	{name: "bump", kind: "add", args: {counter: "hits", times: 5}},
]
expect: counters: {hits: 5}
`

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return executeCmd(t, NewRootCommand(), args...)
}

func executeCmd(t *testing.T, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeScenario(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}
