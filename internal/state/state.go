package state

import (
	"fmt"
)

// ConnectionState represents the lifecycle state of a registered tool server
type ConnectionState int

const (
	// StateCreated indicates the server was registered but never connected
	StateCreated ConnectionState = iota
	// StateAwaitingAuth indicates an out-of-band authentication step is pending user action
	StateAwaitingAuth
	// StateFetchingTools indicates a discovery cycle is querying the server's tool list
	StateFetchingTools
	// StateConnected indicates the last discovery succeeded and the tool cache is current
	StateConnected
	// StateDisconnected indicates the server is offline, either by request or after a failure
	StateDisconnected
)

// String returns the string representation of the connection state
func (s ConnectionState) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateAwaitingAuth:
		return "AwaitingAuth"
	case StateFetchingTools:
		return "FetchingTools"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so records and API payloads
// carry the state by name rather than by ordinal.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *ConnectionState) UnmarshalText(text []byte) error {
	parsed, err := ParseConnectionState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseConnectionState parses the String() form back into a state
func ParseConnectionState(text string) (ConnectionState, error) {
	switch text {
	case "Created":
		return StateCreated, nil
	case "AwaitingAuth":
		return StateAwaitingAuth, nil
	case "FetchingTools":
		return StateFetchingTools, nil
	case "Connected":
		return StateConnected, nil
	case "Disconnected":
		return StateDisconnected, nil
	default:
		return StateCreated, fmt.Errorf("unknown connection state: %q", text)
	}
}

// DisplayStatus is the coarser, presentation-facing projection of a
// ConnectionState. It is always derived on read and never stored.
type DisplayStatus int

const (
	// StatusDisconnected covers every state without a live or pending connection
	StatusDisconnected DisplayStatus = iota
	// StatusPending covers servers waiting on registration follow-up or user auth
	StatusPending
	// StatusFetching covers servers with a discovery cycle in flight
	StatusFetching
	// StatusConnected covers servers whose tool cache is current
	StatusConnected
)

// String returns the string representation of the display status
func (d DisplayStatus) String() string {
	switch d {
	case StatusConnected:
		return "Connected"
	case StatusPending:
		return "Pending"
	case StatusFetching:
		return "Fetching"
	case StatusDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (d DisplayStatus) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Display projects a ConnectionState onto its DisplayStatus. The projection
// is a pure function of the state: Connected maps 1:1, Created and
// AwaitingAuth both read as Pending, FetchingTools reads as Fetching, and
// everything else collapses to Disconnected.
func Display(s ConnectionState) DisplayStatus {
	switch s {
	case StateConnected:
		return StatusConnected
	case StateCreated, StateAwaitingAuth:
		return StatusPending
	case StateFetchingTools:
		return StatusFetching
	default:
		return StatusDisconnected
	}
}

// InvalidTransitionError reports an illegal edge in the connection state
// machine. It indicates a sequencing bug in the caller, not a runtime
// condition to retry.
type InvalidTransitionError struct {
	From ConnectionState
	To   ConnectionState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

// validTransitions is the authoritative edge set of the server state machine.
// Disconnected is reentrant so a repeated disconnect request stays a no-op,
// and only Connected and Disconnected may start a fresh discovery cycle.
var validTransitions = map[ConnectionState][]ConnectionState{
	StateCreated:       {StateAwaitingAuth, StateFetchingTools, StateDisconnected},
	StateAwaitingAuth:  {StateFetchingTools, StateDisconnected},
	StateFetchingTools: {StateConnected, StateAwaitingAuth, StateDisconnected},
	StateConnected:     {StateFetchingTools, StateDisconnected},
	StateDisconnected:  {StateFetchingTools, StateDisconnected},
}

// CanTransition reports whether the edge from -> to is part of the state machine
func CanTransition(from, to ConnectionState) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition validates the edge from -> to, returning an
// *InvalidTransitionError for edges outside the state machine.
func ValidateTransition(from, to ConnectionState) error {
	if _, ok := validTransitions[from]; !ok {
		return fmt.Errorf("invalid source state: %s", from)
	}
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// States returns every defined connection state, in ordinal order. Used by
// metrics and tests to iterate the state space.
func States() []ConnectionState {
	return []ConnectionState{
		StateCreated,
		StateAwaitingAuth,
		StateFetchingTools,
		StateConnected,
		StateDisconnected,
	}
}
