package proxy

// State is the lifecycle stage of a Session. States only move forward.
type State int32

const (
	// StateConnecting is the dial to the upstream server.
	StateConnecting State = iota
	// StateHandshaking is writing the bc handshake and binding the mapper
	// listener.
	StateHandshaking
	// StateProxying means both directions are running.
	StateProxying
	// StateDraining starts when one direction has ended and its peer's write
	// side is shut down; the other direction may still deliver.
	StateDraining
	// StateClosed means every connection of the session is released.
	StateClosed
)

// String returns the lower-case state name used in logs.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateProxying:
		return "proxying"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
