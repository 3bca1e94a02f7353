package registry

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDiscoveryDiscarded is returned by CommitDiscovery when the validity
// check fails at commit time: the discovery was cancelled (or its server
// removed) while the remote query was in flight, so its result must not be
// applied.
var ErrDiscoveryDiscarded = errors.New("discovery result discarded")

// ValidationError reports invalid input on create or update. Not retryable
// without changing the request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports one or more unknown ids of a given kind.
type NotFoundError struct {
	Kind string // "server" or "tool"
	IDs  []string
}

func (e *NotFoundError) Error() string {
	if len(e.IDs) == 1 {
		return fmt.Sprintf("%s not found: %s", e.Kind, e.IDs[0])
	}
	return fmt.Sprintf("%ss not found: %s", e.Kind, strings.Join(e.IDs, ", "))
}

// NewServerNotFound builds the NotFoundError for a single unknown server id
func NewServerNotFound(id string) *NotFoundError {
	return &NotFoundError{Kind: "server", IDs: []string{id}}
}

// ConflictError reports an operation rejected because it would race
// concurrent lifecycle activity on the same server. Retryable once the
// conflicting operation settles.
type ConflictError struct {
	Op       string
	ServerID string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflicts with concurrent activity on server %s: %s", e.Op, e.ServerID, e.Reason)
}

// AlreadyInProgressError reports that a discovery cycle is already running
// for the server. Retryable after the outstanding cycle settles.
type AlreadyInProgressError struct {
	ServerID string
}

func (e *AlreadyInProgressError) Error() string {
	return fmt.Sprintf("discovery already in progress for server %s", e.ServerID)
}

// IsNotFound reports whether err carries a NotFoundError anywhere in its chain
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
