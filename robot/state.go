package robot

// State is the readiness of the device to accept a gating command.
type State int

const (
	StateIdle State = iota
	StateBusy
	StateFault
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateBusy:
		return "BUSY"
	case StateFault:
		return "FAULT"
	}
	return "UNKNOWN"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// An Event is an upward notification published on Robot.Events.
type Event interface{}

// EventState is published on every state transition.
type EventState struct {
	State State `json:"state"`
}

// EventSetup is published when the device reported its configuration.
type EventSetup struct {
	Config Config `json:"config"`
}

// EventEndstops carries the raw endstop readings as reported.
type EventEndstops struct {
	XMin int `json:"xMin"`
	XMax int `json:"xMax"`
	YMin int `json:"yMin"`
	YMax int `json:"yMax"`
}

// EventReconnect asks the transport owner to reopen the link, which the
// firmware requires after a configuration change.
type EventReconnect struct{}
