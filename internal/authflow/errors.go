package authflow

import (
	"errors"
	"fmt"
)

// StaleFlowError reports an auth completion that arrived after its flow
// stopped being actionable: the server was removed, disconnected, or already
// completed another flow. Callers log it and move on; it is never surfaced
// to the user as a failure.
type StaleFlowError struct {
	ServerID string
	Reason   string
}

func (e *StaleFlowError) Error() string {
	return fmt.Sprintf("auth flow for server %s is stale: %s", e.ServerID, e.Reason)
}

// IsStaleFlow reports whether err is a StaleFlowError.
func IsStaleFlow(err error) bool {
	var staleErr *StaleFlowError
	return errors.As(err, &staleErr)
}
