package journal

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunAborted   RunStatus = "aborted"
)

// IsFinal reports whether the run has ended.
func (s RunStatus) IsFinal() bool {
	return s == RunCompleted || s == RunFailed || s == RunAborted
}

// Run is one pipeline invocation.
type Run struct {
	ID              string
	Device          string
	Backend         string
	Driver          string
	InputFormat     string
	Streams         int
	Status          RunStatus
	StartedAt       time.Time
	FinishedAt      time.Time
	FramesQueued    int
	FramesCompleted int
	ErrorMessage    string
}

// Duration returns the wall time of a finished run, zero while running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Frame is one completed output buffer.
type Frame struct {
	ID         int64
	RunID      string
	Source     string
	Stream     int
	Status     string
	Sequence   uint32
	Latency    time.Duration
	OutputPath string
	CreatedAt  time.Time
}

// Outcome closes a run.
type Outcome struct {
	Status          RunStatus
	FramesQueued    int
	FramesCompleted int
	Err             error
}
