package registry

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mcpdock-go/internal/state"
)

// Registry is the durable record of configured tool servers and their tool
// caches. It layers the lifecycle contract on top of BoltDB: input
// validation, per-server critical sections, and the busy guard that keeps
// removal and bulk disables from racing an in-flight discovery.
type Registry struct {
	db     *BoltDB
	logger *zap.SugaredLogger

	mu          sync.Mutex
	serverLocks map[string]*sync.Mutex

	busyMu sync.RWMutex
	busy   func(serverID string) bool

	hookMu         sync.RWMutex
	transitionHook func(serverID string, from, to state.ConnectionState, cause string)
}

// CreateRequest carries the fields accepted on server registration
type CreateRequest struct {
	Name          string
	Description   string
	Endpoint      string
	AuthKind      string
	AuthInitiator string
	Headers       map[string]string
}

// UpdateRequest carries a partial update; nil fields keep their current value
type UpdateRequest struct {
	Name          *string
	Description   *string
	Endpoint      *string
	AuthKind      *string
	AuthInitiator *string
	Headers       map[string]string
}

// NewRegistry creates a registry over an open database. Transient states left
// behind by a previous run are normalized before the registry is handed out.
func NewRegistry(db *BoltDB, logger *zap.SugaredLogger) (*Registry, error) {
	normalized, err := db.NormalizeTransientStates()
	if err != nil {
		return nil, err
	}
	if normalized > 0 {
		logger.Infof("Normalized %d server(s) stuck in a transient state", normalized)
	}

	return &Registry{
		db:          db,
		logger:      logger,
		serverLocks: make(map[string]*sync.Mutex),
	}, nil
}

// SetBusyCheck wires the discovery engine's in-flight probe. Remove and
// DisableAllTools consult it; a nil check means nothing is ever busy.
func (r *Registry) SetBusyCheck(busy func(serverID string) bool) {
	r.busyMu.Lock()
	defer r.busyMu.Unlock()
	r.busy = busy
}

func (r *Registry) isBusy(serverID string) bool {
	r.busyMu.RLock()
	defer r.busyMu.RUnlock()
	return r.busy != nil && r.busy(serverID)
}

// SetTransitionHook wires an observer called after every successful state
// transition, including the commit-time transition to Connected. The hook
// runs outside the server's critical section, so it may call back into the
// registry.
func (r *Registry) SetTransitionHook(hook func(serverID string, from, to state.ConnectionState, cause string)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.transitionHook = hook
}

func (r *Registry) notifyTransition(serverID string, from, to state.ConnectionState, cause string) {
	r.hookMu.RLock()
	hook := r.transitionHook
	r.hookMu.RUnlock()
	if hook != nil {
		hook(serverID, from, to, cause)
	}
}

// lockServer returns the mutex guarding one server's critical sections
func (r *Registry) lockServer(serverID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lock, exists := r.serverLocks[serverID]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	r.serverLocks[serverID] = lock
	return lock
}

// lockServers acquires the locks of every named server in a stable order and
// returns the release function. Stable ordering keeps two bulk operations
// from deadlocking each other.
func (r *Registry) lockServers(serverIDs []string) func() {
	unique := make([]string, 0, len(serverIDs))
	seen := make(map[string]bool, len(serverIDs))
	for _, id := range serverIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Strings(unique)

	locks := make([]*sync.Mutex, 0, len(unique))
	for _, id := range unique {
		lock := r.lockServer(id)
		lock.Lock()
		locks = append(locks, lock)
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// Create registers a new server in the Created state
func (r *Registry) Create(req CreateRequest) (*ServerRecord, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if err := validateEndpoint(req.Endpoint); err != nil {
		return nil, err
	}
	if err := validateAuthFields(req.AuthKind, req.AuthInitiator); err != nil {
		return nil, err
	}

	now := time.Now()
	record := &ServerRecord{
		ID:            uuid.NewString(),
		Name:          name,
		Description:   req.Description,
		Endpoint:      req.Endpoint,
		AuthKind:      req.AuthKind,
		AuthInitiator: req.AuthInitiator,
		Headers:       req.Headers,
		State:         state.StateCreated,
		Created:       now,
		Updated:       now,
		StateChanged:  now,
	}

	if err := r.db.SaveServer(record); err != nil {
		return nil, err
	}

	r.logger.Infow("Registered tool server", "id", record.ID, "name", record.Name, "endpoint", record.Endpoint)
	return record, nil
}

// Get retrieves one server record
func (r *Registry) Get(id string) (*ServerRecord, error) {
	return r.db.GetServer(id)
}

// List returns all server records
func (r *Registry) List() ([]*ServerRecord, error) {
	return r.db.ListServers()
}

// FindByName returns the first server with the given display name
func (r *Registry) FindByName(name string) (*ServerRecord, error) {
	records, err := r.db.ListServers()
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.Name == name {
			return record, nil
		}
	}
	return nil, &NotFoundError{Kind: "server", IDs: []string{name}}
}

// Update merges the provided fields into an existing server record
func (r *Registry) Update(id string, patch UpdateRequest) (*ServerRecord, error) {
	lock := r.lockServer(id)
	lock.Lock()
	defer lock.Unlock()

	record, err := r.db.GetServer(id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
		}
		record.Name = name
	}
	if patch.Description != nil {
		record.Description = *patch.Description
	}
	if patch.Endpoint != nil {
		if err := validateEndpoint(*patch.Endpoint); err != nil {
			return nil, err
		}
		record.Endpoint = *patch.Endpoint
	}
	authKind := record.AuthKind
	if patch.AuthKind != nil {
		authKind = *patch.AuthKind
	}
	authInitiator := record.AuthInitiator
	if patch.AuthInitiator != nil {
		authInitiator = *patch.AuthInitiator
	}
	if err := validateAuthFields(authKind, authInitiator); err != nil {
		return nil, err
	}
	record.AuthKind = authKind
	record.AuthInitiator = authInitiator
	if patch.Headers != nil {
		record.Headers = patch.Headers
	}

	if err := r.db.SaveServer(record); err != nil {
		return nil, err
	}

	r.logger.Debugw("Updated tool server", "id", record.ID, "name", record.Name)
	return record, nil
}

// Remove deletes a server and cascades deletion of its tools. A discovery
// cycle in flight for the server makes removal a conflict; the orchestrator
// cancels the cycle first on its delete path.
func (r *Registry) Remove(id string) ([]string, error) {
	lock := r.lockServer(id)
	lock.Lock()
	defer lock.Unlock()

	if r.isBusy(id) {
		return nil, &ConflictError{Op: "remove", ServerID: id, Reason: "discovery in flight"}
	}

	removedTools, err := r.db.DeleteServerCascade(id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	delete(r.serverLocks, id)
	r.mu.Unlock()

	r.logger.Infow("Removed tool server", "id", id, "tools_removed", len(removedTools))
	return removedTools, nil
}

// SetState transitions a server to newState, enforcing the transition table
func (r *Registry) SetState(id string, newState state.ConnectionState) (state.ConnectionState, error) {
	return r.SetStateWithCause(id, newState, "")
}

// SetStateWithCause transitions a server and records why, for states reached
// through a failure.
func (r *Registry) SetStateWithCause(id string, newState state.ConnectionState, cause string) (state.ConnectionState, error) {
	return r.SetStateGuarded(id, newState, cause, nil)
}

// SetStateGuarded transitions a server only while valid still holds. The
// check runs inside the server's critical section, which is what lets a
// discovery session verify it has not been cancelled in the same breath as
// it moves the state; a false check returns ErrDiscoveryDiscarded.
func (r *Registry) SetStateGuarded(id string, newState state.ConnectionState, cause string, valid func() bool) (state.ConnectionState, error) {
	lock := r.lockServer(id)
	lock.Lock()

	if valid != nil && !valid() {
		lock.Unlock()
		return 0, ErrDiscoveryDiscarded
	}

	oldState, err := r.db.UpdateServerState(id, newState, cause)
	lock.Unlock()
	if err != nil {
		return oldState, err
	}

	r.logger.Debugw("Server state changed", "id", id, "from", oldState.String(), "to", newState.String())
	r.notifyTransition(id, oldState, newState, cause)
	return oldState, nil
}

// ListServerTools returns the cached tools of one server
func (r *Registry) ListServerTools(serverID string) ([]*ToolRecord, error) {
	return r.db.ListServerTools(serverID)
}

// CountServerTools returns the size of one server's tool cache
func (r *Registry) CountServerTools(serverID string) (int, error) {
	return r.db.CountServerTools(serverID)
}

// CommitDiscovery applies a successful discovery result under the server's
// lock. valid is evaluated inside the critical section; when it reports
// false the result is dropped with ErrDiscoveryDiscarded, which is how a
// cancelled discovery's late completion is kept from resurrecting a server.
func (r *Registry) CommitDiscovery(serverID, transport string, updates []ToolUpdate, valid func() bool) (*ReconcileSummary, error) {
	lock := r.lockServer(serverID)
	lock.Lock()

	if valid != nil && !valid() {
		lock.Unlock()
		return nil, ErrDiscoveryDiscarded
	}

	summary, err := r.db.CommitDiscovery(serverID, transport, updates)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	r.notifyTransition(serverID, state.StateFetchingTools, state.StateConnected, "")
	return summary, nil
}

// SetToolsEnabled flips the enabled flag on the given tools, all-or-nothing.
// The affected servers' locks are held for the duration so the update cannot
// interleave with a reconciliation commit.
func (r *Registry) SetToolsEnabled(toolIDs []string, enabled bool) ([]*ToolRecord, error) {
	if len(toolIDs) == 0 {
		return nil, nil
	}

	serverIDs := make([]string, 0, len(toolIDs))
	for _, toolID := range toolIDs {
		if serverID, _, ok := SplitToolID(toolID); ok {
			serverIDs = append(serverIDs, serverID)
		}
	}
	release := r.lockServers(serverIDs)
	defer release()

	return r.db.SetToolsEnabled(toolIDs, enabled)
}

// DisableAllTools disables every tool of one server. While a discovery is
// reconciling the server's tools the id list would be stale, so the call is
// rejected instead of applied.
func (r *Registry) DisableAllTools(serverID string) ([]string, error) {
	lock := r.lockServer(serverID)
	lock.Lock()
	defer lock.Unlock()

	if r.isBusy(serverID) {
		return nil, &AlreadyInProgressError{ServerID: serverID}
	}

	return r.db.DisableAllTools(serverID)
}

// FlowSecret returns the per-install signing secret for auth continuation tokens
func (r *Registry) FlowSecret() ([]byte, error) {
	return r.db.EnsureFlowSecret()
}

// Ping verifies the underlying database is reachable
func (r *Registry) Ping() error {
	return r.db.Ping()
}

// Close closes the underlying database
func (r *Registry) Close() error {
	return r.db.Close()
}

func validateEndpoint(endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		return &ValidationError{Field: "endpoint", Reason: "must not be empty"}
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return &ValidationError{Field: "endpoint", Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "endpoint", Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ValidationError{Field: "endpoint", Reason: "missing host"}
	}
	return nil
}

func validateAuthFields(authKind, authInitiator string) error {
	switch authKind {
	case "", AuthKindNone, AuthKindOAuth:
	default:
		return &ValidationError{Field: "auth_kind", Reason: "must be none or oauth"}
	}
	switch authInitiator {
	case "", AuthInitiatorUser, AuthInitiatorSystem:
	default:
		return &ValidationError{Field: "auth_initiator", Reason: "must be user or system"}
	}
	return nil
}
