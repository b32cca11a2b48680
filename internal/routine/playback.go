package routine

import (
	"fmt"
	"math"
	"strings"
)

// Playback decides how normalized time maps to progress.
type Playback uint8

const (
	// Once clamps progress to [0,1] and finishes at t=1.
	Once Playback = iota
	// Loop wraps progress back to 0 after every full duration.
	Loop
	// Bounce follows a triangle wave: 0 -> 1 -> 0 every two durations.
	Bounce
)

func (p Playback) String() string {
	switch p {
	case Once:
		return "once"
	case Loop:
		return "loop"
	case Bounce:
		return "bounce"
	default:
		return fmt.Sprintf("playback(%d)", uint8(p))
	}
}

// ParsePlayback accepts the names printed by String.
func ParsePlayback(s string) (Playback, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "once":
		return Once, nil
	case "loop":
		return Loop, nil
	case "bounce":
		return Bounce, nil
	default:
		return Once, fmt.Errorf("unknown playback %q", s)
	}
}

// Progress maps t (elapsed / duration) to a value in [0,1].
func (p Playback) Progress(t float64) float64 {
	if t < 0 {
		t = 0
	}
	switch p {
	case Loop:
		_, frac := math.Modf(t)
		return frac
	case Bounce:
		return 1 - math.Abs(1-math.Mod(t, 2))
	default:
		return math.Min(t, 1)
	}
}

// Finished reports whether a routine at t is done. Only Once ever finishes.
func (p Playback) Finished(t float64) bool {
	return p == Once && t >= 1
}

// Ease reshapes linear progress.
type Ease func(p float64) float64

// Easing curves.
var (
	Linear    Ease = func(p float64) float64 { return p }
	QuadIn    Ease = func(p float64) float64 { return p * p }
	QuadOut   Ease = func(p float64) float64 { return p * (2 - p) }
	QuadInOut Ease = func(p float64) float64 {
		if p < 0.5 {
			return 2 * p * p
		}
		return -1 + (4-2*p)*p
	}
	CubicInOut Ease = func(p float64) float64 {
		if p < 0.5 {
			return 4 * p * p * p
		}
		q := 2*p - 2
		return 1 + q*q*q/2
	}
	SmoothStep Ease = func(p float64) float64 { return p * p * (3 - 2*p) }
)

var easings = map[string]Ease{
	"linear":       Linear,
	"quad_in":      QuadIn,
	"quad_out":     QuadOut,
	"quad_in_out":  QuadInOut,
	"cubic_in_out": CubicInOut,
	"smoothstep":   SmoothStep,
}

// ParseEase looks a curve up by its snake_case name. Empty means Linear.
func ParseEase(name string) (Ease, error) {
	if name == "" {
		return Linear, nil
	}
	e, ok := easings[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown easing %q", name)
	}
	return e, nil
}
