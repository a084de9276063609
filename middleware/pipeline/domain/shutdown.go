package domain

// ShutdownState só avança: Running -> Draining -> Stopped.
type ShutdownState int32

const (
	StateRunning ShutdownState = iota
	StateDraining
	StateStopped
)

func (s ShutdownState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
