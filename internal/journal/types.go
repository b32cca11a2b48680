package journal

import "time"

// Run statuses.
const (
	StatusRunning = "running"
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusAborted = "aborted"
)

// Run is one recorded engine session.
type Run struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"` // zero while running
	Status     string    `json:"status"`
	Ticks      int       `json:"ticks"`
}

// Tick is one journaled main-update call.
type Tick struct {
	Tick  uint64        `json:"tick"`
	Now   time.Duration `json:"now_ns"`
	Frame uint64        `json:"frame"`
	Delta time.Duration `json:"delta_ns"`

	Reads           int `json:"reads"`
	OnceRun         int `json:"once_run"`
	RepeatRan       int `json:"repeat_ran"`
	RepeatKept      int `json:"repeat_kept"`
	RepeatCompleted int `json:"repeat_completed"`
	RepeatCancelled int `json:"repeat_cancelled"`
	RepeatAbandoned int `json:"repeat_abandoned"`
	TimersFired     int `json:"timers_fired"`
	Woken           int `json:"woken"`
	Polled          int `json:"polled"`
	Spawned         int `json:"spawned"`
	Completed       int `json:"completed"`
	TasksLive       int `json:"tasks_live"`

	Elapsed time.Duration `json:"elapsed_ns"`
}

// FixedStep is one journaled fixed-step call.
type FixedStep struct {
	Step      uint64        `json:"step"`
	Delta     time.Duration `json:"delta_ns"`
	Ran       int           `json:"ran"`
	Completed int           `json:"completed"`
	Cancelled int           `json:"cancelled"`
	Live      int           `json:"live"`
}

// Event is one line of a run's trace.
type Event struct {
	Seq   int64  `json:"seq"`
	Tick  uint64 `json:"tick"`
	Task  string `json:"task"`
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"`
}
