package harness

import (
	"maps"

	"github.com/roach88/tickbridge/internal/cell"
)

// World is the store every scenario runs against.
type World struct {
	Counters map[string]int
	Signals  *cell.Bundle
}

// NewWorld copies the initial counters and attaches a fresh signal bundle
// for the scenario in signals.
func NewWorld(name string, counters map[string]int, signals *cell.Registry[string]) *World {
	c := make(map[string]int, len(counters))
	maps.Copy(c, counters)
	return &World{
		Counters: c,
		Signals:  signals.Attach(name),
	}
}
