// Package channel implements messaging-channel provisioning and pairing:
// per-operator identity, pairing-code generation, and the polling loop that
// promotes a connection to live.
package channel

// ConnectionState is one stored ChannelConnection status.
type ConnectionState string

const (
	// StateConnecting is the initial state of a pairing session.
	StateConnecting ConnectionState = "connecting"
	// StateConnected means the validation endpoint reported the channel live.
	StateConnected ConnectionState = "connected"
	// StateDisconnected is set by explicit operator action.
	StateDisconnected ConnectionState = "disconnected"
	// StateError means pairing-code generation or validation failed outright.
	// Recoverable: a retry re-enters StateConnecting.
	StateError ConnectionState = "error"
)

// legalTransitions enumerates the allowed state changes. From connecting
// only a successful poll (connected) or an outright failure (error) are
// reachable; disconnection exists only for a session that was live.
var legalTransitions = map[ConnectionState][]ConnectionState{
	StateConnecting:   {StateConnected, StateError},
	StateConnected:    {StateDisconnected},
	StateDisconnected: {StateConnecting},
	StateError:        {StateConnecting},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to ConnectionState) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
