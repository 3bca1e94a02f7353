package discovery

import (
	"context"
	"errors"
	"fmt"

	"mcpdock-go/internal/registry"
)

// Transport kinds a remote query may settle on
const (
	TransportStreamableHTTP = "streamable-http"
	TransportSSE            = "sse"
)

// ErrAuthRequired signals that the remote refused the tool query pending an
// out-of-band authentication step. Discovery surfaces it mid-flight as well
// as pre-flight; the lifecycle reacts by parking the server in AwaitingAuth.
var ErrAuthRequired = errors.New("authentication required by remote server")

// RemoteTool is one tool as reported by the remote server
type RemoteTool struct {
	Name        string
	Description string
	ParamsJSON  string
}

// Result carries a successful remote query: the tool list and the transport
// that actually answered.
type Result struct {
	Tools     []RemoteTool
	Transport string
}

// Remote abstracts the discovery endpoint of a tool server. Implementations
// must honor ctx cancellation; a cancelled query's outcome is discarded by
// the engine.
type Remote interface {
	ListTools(ctx context.Context, server *registry.ServerRecord) (*Result, error)
}

// ConnectionFailedError reports a remote discovery failure. It is retryable:
// the caller re-issues a reconnect once the remote recovers.
type ConnectionFailedError struct {
	ServerID string
	Err      error
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("connection to server %s failed: %v", e.ServerID, e.Err)
}

func (e *ConnectionFailedError) Unwrap() error {
	return e.Err
}
