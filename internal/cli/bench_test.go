package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBenchText(t *testing.T) {
	stdout, _, err := execute(t, "bench", "--ticks", "20", "--tasks", "3,30")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Tick latency")
	assert.Contains(t, stdout, "30")
}

func TestBenchJSON(t *testing.T) {
	stdout, _, err := execute(t, "bench", "--ticks", "10", "--tasks", "6", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data []BenchRow `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Len(t, resp.Data, 1)
	row := resp.Data[0]
	assert.Equal(t, 6, row.Tasks)
	assert.Equal(t, 10, row.Ticks)
	assert.Positive(t, row.Polled)
	assert.Positive(t, row.OnceRun, "mutators queue once closures every tick")
	assert.LessOrEqual(t, row.Min, row.Max)
}

func TestBenchRejectsBadFlags(t *testing.T) {
	_, _, err := execute(t, "bench", "--ticks", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(t, "bench", "--tasks", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
