// Package session owns the duplex socket to the speech service: connection
// lifecycle, the config handshake, heartbeat, bounded reconnection, and
// dispatch of decoded inbound messages to their consumers.
package session

// State is the session lifecycle state. Exactly one physical socket may be
// open at a time per session.
type State int

const (
	// StateDisconnected is the initial state, and the terminal state after
	// reconnection attempts are exhausted.
	StateDisconnected State = iota

	// StateConnecting covers the websocket dial.
	StateConnecting

	// StateConfiguring covers the config handshake after the socket opens,
	// before any audio may flow.
	StateConfiguring

	// StateActive is the steady state: audio and events flow both ways and
	// the heartbeat runs.
	StateActive

	// StateReconnecting is entered on an unexpected close while attempts
	// remain.
	StateReconnecting

	// StateTerminated is reached on explicit disengage and is absorbing
	// until a new Engage.
	StateTerminated
)

var stateNames = map[State]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConfiguring:  "configuring",
	StateActive:       "active",
	StateReconnecting: "reconnecting",
	StateTerminated:   "terminated",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "invalid"
}
