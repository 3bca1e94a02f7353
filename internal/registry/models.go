package registry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mcpdock-go/internal/state"
)

// Bucket names for bbolt database
const (
	ServersBucket = "servers"
	ToolsBucket   = "tools"
	MetaBucket    = "meta"
)

// Meta keys
const (
	SchemaVersionKey = "schema"
	FlowSecretKey    = "flow_secret"
)

// Current schema version
const CurrentSchemaVersion = 1

// toolKeySep separates server id from tool name in the tools bucket key.
// Server ids are UUIDs and tool names are protocol identifiers, neither
// contains a NUL byte.
const toolKeySep = "\x00"

// Auth kinds a server record may carry
const (
	AuthKindNone  = "none"
	AuthKindOAuth = "oauth"
)

// Auth initiators: who is expected to kick off a re-authentication
const (
	AuthInitiatorUser   = "user"
	AuthInitiatorSystem = "system"
)

// ServerRecord represents a registered tool server in storage
type ServerRecord struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Description   string                `json:"description,omitempty"`
	Endpoint      string                `json:"endpoint"`
	Transport     string                `json:"transport,omitempty"`      // streamable-http or sse, set after discovery
	AuthKind      string                `json:"auth_kind,omitempty"`      // none, oauth
	AuthInitiator string                `json:"auth_initiator,omitempty"` // user, system
	Headers       map[string]string     `json:"headers,omitempty"`        // HTTP headers, values may be secret refs
	State         state.ConnectionState `json:"state"`
	LastError     string                `json:"last_error,omitempty"`
	Created       time.Time             `json:"created"`
	Updated       time.Time             `json:"updated"`
	StateChanged  time.Time             `json:"state_changed"`
}

// ToolRecord represents one cached tool exposed by a server
type ToolRecord struct {
	ID          string    `json:"id"` // composite "<server_id>:<name>"
	ServerID    string    `json:"server_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ParamsJSON  string    `json:"params_json,omitempty"`
	Enabled     bool      `json:"enabled"`
	Updated     time.Time `json:"updated"`
}

// ToolUpdate is one tool as reported by a discovery cycle, before it is
// reconciled into the cache.
type ToolUpdate struct {
	Name        string
	Description string
	ParamsJSON  string
}

// ReconcileSummary reports what one reconciliation changed.
type ReconcileSummary struct {
	Inserted   []*ToolRecord
	Updated    []*ToolRecord
	RemovedIDs []string
}

// Changed reports whether the reconciliation touched the cache at all
func (s *ReconcileSummary) Changed() bool {
	return len(s.Inserted) > 0 || len(s.Updated) > 0 || len(s.RemovedIDs) > 0
}

// ToolID builds the stable composite id for a server's tool. A tool that
// survives a discovery cycle keeps its id, so user references (enable state,
// index docs) stay valid across cycles.
func ToolID(serverID, name string) string {
	return fmt.Sprintf("%s:%s", serverID, name)
}

// SplitToolID splits a composite tool id into server id and tool name.
// Server ids are UUIDs, so the first colon is the separator.
func SplitToolID(toolID string) (serverID, name string, ok bool) {
	idx := strings.Index(toolID, ":")
	if idx <= 0 || idx == len(toolID)-1 {
		return "", "", false
	}
	return toolID[:idx], toolID[idx+1:], true
}

func toolKey(serverID, name string) []byte {
	return []byte(serverID + toolKeySep + name)
}

func toolKeyPrefix(serverID string) []byte {
	return []byte(serverID + toolKeySep)
}

// MarshalBinary implements encoding.BinaryMarshaler
func (r *ServerRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (r *ServerRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}

// MarshalBinary implements encoding.BinaryMarshaler
func (t *ToolRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(t)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (t *ToolRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, t)
}
