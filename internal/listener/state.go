package listener

// State is the connection state of a Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateListening
	StateError
)

// States lists every State in declaration order.
var States = []State{StateDisconnected, StateConnecting, StateListening, StateError}

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateListening:
		return "LISTENING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// stateNames returns the String form of every State.
func stateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = s.String()
	}
	return names
}

// FailureKind classifies why a connection was abandoned. It selects the
// reconnect delay.
type FailureKind int

const (
	// FailureConnect means the connection could not be established.
	FailureConnect FailureKind = iota
	// FailureSubscribe means the connection was established but LISTEN failed;
	// the connection is discarded and a fresh one is dialed.
	FailureSubscribe
	// FailureConnectionLost means an established connection reported an error.
	FailureConnectionLost
	// FailureProbe means the periodic liveness probe failed.
	FailureProbe
)

func (k FailureKind) String() string {
	switch k {
	case FailureConnect:
		return "connect"
	case FailureSubscribe:
		return "subscribe"
	case FailureConnectionLost:
		return "connection_lost"
	case FailureProbe:
		return "probe"
	default:
		return "unknown"
	}
}
