package session

// State is the lifecycle state of a session.
//
// Transitions:
//
//	Idle → Connecting → Authenticating → Subscribing → Live
//	Live → Reconnecting → Connecting (after a delay)
//	any  → Closed (explicit stop, fatal auth failure, or reconnect
//	       attempts exhausted)
//
// Public sessions skip Authenticating. Reconnection re-enters the whole
// pipeline from Connecting: re-authentication and re-subscription are never
// skipped, because neither session nor book state is trusted after a gap.
type State int32

const (
	Idle State = iota
	Connecting
	Authenticating
	Subscribing
	Live
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connecting:
		return "Connecting"
	case Authenticating:
		return "Authenticating"
	case Subscribing:
		return "Subscribing"
	case Live:
		return "Live"
	case Reconnecting:
		return "Reconnecting"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}
