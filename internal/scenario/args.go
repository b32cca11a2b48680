package scenario

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/roach88/tickbridge/internal/routine"
)

// Kind names what a task does.
type Kind string

const (
	KindAdd       Kind = "add"
	KindWaitUntil Kind = "wait_until"
	KindTween     Kind = "tween"
	KindSleep     Kind = "sleep"
	KindEmit      Kind = "emit"
	KindListen    Kind = "listen"
	KindYield     Kind = "yield"
	KindTimeout   Kind = "timeout"
)

// AddArgs adds Amount to Counter Times times, sleeping EveryFrames frames
// between additions.
type AddArgs struct {
	Counter     string `mapstructure:"counter"`
	Amount      int    `mapstructure:"amount"`
	Times       int    `mapstructure:"times"`
	EveryFrames int    `mapstructure:"every_frames"`
}

// WaitUntilArgs waits for Counter >= AtLeast.
type WaitUntilArgs struct {
	Counter string `mapstructure:"counter"`
	AtLeast int    `mapstructure:"at_least"`
}

// TweenArgs interpolates Counter from From to To on the fixed step.
// Loop and bounce playback stop after StopAfter of host time.
type TweenArgs struct {
	Counter   string        `mapstructure:"counter"`
	From      int           `mapstructure:"from"`
	To        int           `mapstructure:"to"`
	Duration  time.Duration `mapstructure:"duration"`
	Playback  string        `mapstructure:"playback"`
	Ease      string        `mapstructure:"ease"`
	StopAfter time.Duration `mapstructure:"stop_after"`

	playback routine.Playback
	ease     routine.Ease
}

// PlaybackMode returns the parsed playback.
func (a TweenArgs) PlaybackMode() routine.Playback { return a.playback }

// EaseFunc returns the parsed easing curve.
func (a TweenArgs) EaseFunc() routine.Ease { return a.ease }

// SleepArgs sleeps by host time or by frames. Exactly one is set.
type SleepArgs struct {
	Duration time.Duration `mapstructure:"duration"`
	Frames   int           `mapstructure:"frames"`
}

// EmitArgs writes each value to a named signal, yielding between writes.
type EmitArgs struct {
	Signal string `mapstructure:"signal"`
	Values []int  `mapstructure:"values"`
}

// ListenArgs waits for Count fresh writes to a named signal and optionally
// adds each value to a counter.
type ListenArgs struct {
	Signal string `mapstructure:"signal"`
	Count  int    `mapstructure:"count"`
	AddTo  string `mapstructure:"add_to"`
}

// YieldArgs yields Times times.
type YieldArgs struct {
	Times int `mapstructure:"times"`
}

// TimeoutArgs waits for Counter >= AtLeast for at most After.
type TimeoutArgs struct {
	Counter string        `mapstructure:"counter"`
	AtLeast int           `mapstructure:"at_least"`
	After   time.Duration `mapstructure:"after"`
}

func decodeTask(rt rawTask) (Task, error) {
	task := Task{Name: rt.Name, Kind: Kind(rt.Kind), Start: rt.Start}

	switch task.Kind {
	case KindAdd:
		args := AddArgs{Amount: 1, Times: 1}
		if err := decodeArgs(rt.Args, &args); err != nil {
			return task, err
		}
		task.Args = args

	case KindWaitUntil:
		var args WaitUntilArgs
		if err := decodeArgs(rt.Args, &args); err != nil {
			return task, err
		}
		task.Args = args

	case KindTween:
		args := TweenArgs{Playback: "once", Ease: "linear"}
		if err := decodeArgs(rt.Args, &args); err != nil {
			return task, err
		}
		pb, err := routine.ParsePlayback(args.Playback)
		if err != nil {
			return task, err
		}
		ease, err := routine.ParseEase(args.Ease)
		if err != nil {
			return task, err
		}
		if pb != routine.Once && args.StopAfter <= 0 {
			return task, fmt.Errorf("%s playback never finishes, set stop_after", pb)
		}
		args.playback, args.ease = pb, ease
		task.Args = args

	case KindSleep:
		var args SleepArgs
		if err := decodeArgs(rt.Args, &args); err != nil {
			return task, err
		}
		if (args.Duration > 0) == (args.Frames > 0) {
			return task, fmt.Errorf("sleep needs exactly one of duration or frames")
		}
		task.Args = args

	case KindEmit:
		var args EmitArgs
		if err := decodeArgs(rt.Args, &args); err != nil {
			return task, err
		}
		task.Args = args

	case KindListen:
		args := ListenArgs{Count: 1}
		if err := decodeArgs(rt.Args, &args); err != nil {
			return task, err
		}
		task.Args = args

	case KindYield:
		args := YieldArgs{Times: 1}
		if err := decodeArgs(rt.Args, &args); err != nil {
			return task, err
		}
		task.Args = args

	case KindTimeout:
		var args TimeoutArgs
		if err := decodeArgs(rt.Args, &args); err != nil {
			return task, err
		}
		task.Args = args

	default:
		return task, fmt.Errorf("unknown task kind %q", rt.Kind)
	}

	return task, nil
}

func decodeArgs(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// counters lists the counters a task touches.
func (t Task) counters() []string {
	switch a := t.Args.(type) {
	case AddArgs:
		return []string{a.Counter}
	case WaitUntilArgs:
		return []string{a.Counter}
	case TweenArgs:
		return []string{a.Counter}
	case TimeoutArgs:
		return []string{a.Counter}
	case ListenArgs:
		if a.AddTo != "" {
			return []string{a.AddTo}
		}
	}
	return nil
}
