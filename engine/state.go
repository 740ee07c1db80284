package engine

// State is the run-state of a pipeline
type State int32

const (
	Created State = iota
	Running
	PendingShutdown
	NotRunning
	Error
)

func (s State) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Running:
		return "RUNNING"
	case PendingShutdown:
		return "PENDING_SHUTDOWN"
	case NotRunning:
		return "NOT_RUNNING"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// IsRunning reports whether the pipeline is consuming
func (s State) IsRunning() bool {
	return s == Running
}

// validTransition lists the allowed state changes
func validTransition(from, to State) bool {
	switch from {
	case Created:
		return to == Running || to == PendingShutdown || to == Error
	case Running:
		return to == PendingShutdown || to == Error
	case Error:
		return to == PendingShutdown
	case PendingShutdown:
		return to == NotRunning
	default:
		return false
	}
}
