package job

// RunState is the lifecycle state of the runner.
type RunState int

const (
	StateIdle RunState = iota
	StateRunning
	StatePaused
	StateCancelled
)

func (s RunState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCancelled:
		return "cancelled"
	}
	return "idle"
}

func (s RunState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Event interface{}

// EventProgress is published after each completed path.
type EventProgress struct {
	Percent int `json:"percent"`
	Path    int `json:"path"`
	Total   int `json:"total"`
}

type EventState struct {
	State RunState `json:"state"`
}

// EventDone is published once per job, after the last path or when the
// job is cancelled or fails.
type EventDone struct {
	Paths     int   `json:"paths"`
	Skipped   int   `json:"skipped"`
	Cancelled bool  `json:"cancelled"`
	Err       error `json:"-"`
}
