package core

// State is the lifecycle position of a Connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateLoggedIn
	StateJoiningChannel
	StateFinalized
	StateReconnecting
	// StateStopped is terminal and only reached on shutdown.
	StateStopped
)

var stateNames = []string{
	StateDisconnected:   "disconnected",
	StateConnecting:     "connecting",
	StateLoggedIn:       "logged_in",
	StateJoiningChannel: "joining_channel",
	StateFinalized:      "finalized",
	StateReconnecting:   "reconnecting",
	StateStopped:        "stopped",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// StateNames lists every state label, for metrics.
func StateNames() []string {
	out := make([]string, len(stateNames))
	copy(out, stateNames)
	return out
}
