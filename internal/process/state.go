package process

// State is the lifecycle state of the supervised backend process.
// Transitions move forward only; Stopped and Failed are terminal for a launch.
type State string

const (
	StateNotStarted State = "not_started"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

func (s State) String() string { return string(s) }

// Terminal reports whether no further transitions can occur for this launch.
func (s State) Terminal() bool { return s == StateStopped || s == StateFailed }

// validTransition encodes the allowed state machine edges.
func validTransition(from, to State) bool {
	switch from {
	case StateNotStarted:
		return to == StateStarting
	case StateStarting:
		return to == StateRunning || to == StateFailed
	case StateRunning:
		return to == StateStopping || to == StateStopped || to == StateFailed
	case StateStopping:
		return to == StateStopped || to == StateFailed
	default:
		return false
	}
}
