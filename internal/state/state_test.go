package state

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConnectionState_String tests the string representation of connection states
func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state    ConnectionState
		expected string
	}{
		{StateCreated, "Created"},
		{StateAwaitingAuth, "AwaitingAuth"},
		{StateFetchingTools, "FetchingTools"},
		{StateConnected, "Connected"},
		{StateDisconnected, "Disconnected"},
		{ConnectionState(999), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

// TestParseConnectionState_RoundTrip tests that every defined state survives a text round trip
func TestParseConnectionState_RoundTrip(t *testing.T) {
	for _, s := range States() {
		parsed, err := ParseConnectionState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseConnectionState("Ready")
	assert.Error(t, err)
}

// TestDisplay_Projection tests the full DisplayStatus projection table
func TestDisplay_Projection(t *testing.T) {
	tests := []struct {
		state    ConnectionState
		expected DisplayStatus
	}{
		{StateConnected, StatusConnected},
		{StateCreated, StatusPending},
		{StateAwaitingAuth, StatusPending},
		{StateFetchingTools, StatusFetching},
		{StateDisconnected, StatusDisconnected},
		{ConnectionState(999), StatusDisconnected},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, Display(tt.state))
		})
	}
}

// TestValidateTransition_LegalEdges walks every edge the lifecycle uses
func TestValidateTransition_LegalEdges(t *testing.T) {
	legal := [][2]ConnectionState{
		{StateCreated, StateFetchingTools},
		{StateCreated, StateAwaitingAuth},
		{StateCreated, StateDisconnected},
		{StateAwaitingAuth, StateFetchingTools},
		{StateAwaitingAuth, StateDisconnected},
		{StateFetchingTools, StateConnected},
		{StateFetchingTools, StateAwaitingAuth},
		{StateFetchingTools, StateDisconnected},
		{StateConnected, StateFetchingTools},
		{StateConnected, StateDisconnected},
		{StateDisconnected, StateFetchingTools},
		{StateDisconnected, StateDisconnected},
	}

	for _, edge := range legal {
		assert.NoError(t, ValidateTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
		assert.True(t, CanTransition(edge[0], edge[1]))
	}
}

// TestValidateTransition_IllegalEdges tests the edges the state machine must reject
func TestValidateTransition_IllegalEdges(t *testing.T) {
	illegal := [][2]ConnectionState{
		{StateCreated, StateConnected}, // must pass through FetchingTools
		{StateAwaitingAuth, StateConnected},
		{StateAwaitingAuth, StateCreated},
		{StateDisconnected, StateConnected},
		{StateDisconnected, StateAwaitingAuth},
		{StateConnected, StateAwaitingAuth},
		{StateConnected, StateCreated},
	}

	for _, edge := range illegal {
		err := ValidateTransition(edge[0], edge[1])
		require.Error(t, err, "%s -> %s", edge[0], edge[1])

		var ite *InvalidTransitionError
		require.True(t, errors.As(err, &ite))
		assert.Equal(t, edge[0], ite.From)
		assert.Equal(t, edge[1], ite.To)
		assert.False(t, CanTransition(edge[0], edge[1]))
	}
}

// TestValidateTransition_UnknownSource tests rejection of undefined source states
func TestValidateTransition_UnknownSource(t *testing.T) {
	err := ValidateTransition(ConnectionState(42), StateConnected)
	require.Error(t, err)

	var ite *InvalidTransitionError
	assert.False(t, errors.As(err, &ite), "unknown source is not a table edge error")
}
