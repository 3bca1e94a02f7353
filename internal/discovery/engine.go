package discovery

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"mcpdock-go/internal/registry"
	"mcpdock-go/internal/state"
)

var tracer = otel.Tracer("mcpdock/discovery")

// session tracks one in-flight discovery cycle for a server
type session struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	cancelled bool
}

func (s *session) markCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return false
	}
	s.cancelled = true
	return true
}

func (s *session) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Engine runs discovery cycles: move a server to FetchingTools, query its
// remote tool list, reconcile the result into the registry, and settle the
// server in Connected, AwaitingAuth, or Disconnected. At most one cycle per
// server id is in flight at a time; a cancelled cycle's outcome is discarded.
type Engine struct {
	registry *registry.Registry
	remote   Remote
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewEngine creates a discovery engine over a registry and a remote. The
// engine registers itself as the registry's busy probe so removal and bulk
// disables see in-flight cycles.
func NewEngine(reg *registry.Registry, remote Remote, logger *zap.Logger) *Engine {
	e := &Engine{
		registry: reg,
		remote:   remote,
		logger:   logger,
		sessions: make(map[string]*session),
	}
	reg.SetBusyCheck(e.InFlight)
	return e
}

// Discover runs one discovery cycle for the server and returns what the
// reconciliation changed. A second call while one is outstanding fails with
// AlreadyInProgressError. An auth refusal parks the server in AwaitingAuth
// and returns ErrAuthRequired; a remote failure parks it in Disconnected and
// returns a ConnectionFailedError with the cache left untouched.
func (e *Engine) Discover(ctx context.Context, serverID string) (*registry.ReconcileSummary, error) {
	sess, sessCtx, err := e.startSession(ctx, serverID)
	if err != nil {
		return nil, err
	}
	defer e.endSession(serverID, sess)

	sessCtx, span := tracer.Start(sessCtx, "discovery.cycle")
	defer span.End()
	span.SetAttributes(attribute.String("server.id", serverID))

	summary, err := e.runCycle(sessCtx, serverID, sess)
	span.SetAttributes(attribute.String("discovery.outcome", outcomeLabel(err)))
	if err != nil && !errors.Is(err, registry.ErrDiscoveryDiscarded) {
		span.RecordError(err)
	}
	return summary, err
}

func (e *Engine) runCycle(ctx context.Context, serverID string, sess *session) (*registry.ReconcileSummary, error) {
	valid := func() bool { return !sess.isCancelled() }

	server, err := e.registry.Get(serverID)
	if err != nil {
		return nil, err
	}

	// The auth controller moves a server into FetchingTools itself when it
	// resumes a completed flow; everyone else enters here.
	if server.State != state.StateFetchingTools {
		if _, err := e.registry.SetStateGuarded(serverID, state.StateFetchingTools, "", valid); err != nil {
			return nil, err
		}
	}

	e.logger.Info("Discovering tools",
		zap.String("server_id", serverID),
		zap.String("server", server.Name),
		zap.String("endpoint", server.Endpoint))

	result, err := e.remote.ListTools(ctx, server)
	switch {
	case err == nil:
		updates := make([]registry.ToolUpdate, 0, len(result.Tools))
		for _, tool := range result.Tools {
			updates = append(updates, registry.ToolUpdate{
				Name:        tool.Name,
				Description: tool.Description,
				ParamsJSON:  tool.ParamsJSON,
			})
		}

		summary, err := e.registry.CommitDiscovery(serverID, result.Transport, updates, valid)
		if err != nil {
			if errors.Is(err, registry.ErrDiscoveryDiscarded) {
				e.logger.Debug("Discarding discovery result after cancellation",
					zap.String("server_id", serverID))
			}
			return nil, err
		}

		e.logger.Info("Discovery completed",
			zap.String("server_id", serverID),
			zap.String("transport", result.Transport),
			zap.Int("inserted", len(summary.Inserted)),
			zap.Int("updated", len(summary.Updated)),
			zap.Int("removed", len(summary.RemovedIDs)))
		return summary, nil

	case errors.Is(err, ErrAuthRequired):
		// Hand control back to the auth flow; tools stay as they were.
		if _, serr := e.registry.SetStateGuarded(serverID, state.StateAwaitingAuth, "", valid); serr != nil {
			if errors.Is(serr, registry.ErrDiscoveryDiscarded) {
				e.logger.Debug("Discarding auth-required outcome after cancellation",
					zap.String("server_id", serverID))
				return nil, serr
			}
			return nil, serr
		}
		e.logger.Info("Remote requires authentication, awaiting auth flow",
			zap.String("server_id", serverID))
		return nil, err

	default:
		if sess.isCancelled() {
			e.logger.Debug("Discarding discovery failure after cancellation",
				zap.String("server_id", serverID),
				zap.Error(err))
			return nil, registry.ErrDiscoveryDiscarded
		}

		if _, serr := e.registry.SetStateGuarded(serverID, state.StateDisconnected, err.Error(), valid); serr != nil {
			if errors.Is(serr, registry.ErrDiscoveryDiscarded) || registry.IsNotFound(serr) {
				e.logger.Debug("Discarding discovery failure, server gone or disconnected",
					zap.String("server_id", serverID))
				return nil, registry.ErrDiscoveryDiscarded
			}
			return nil, serr
		}

		e.logger.Warn("Discovery failed, server disconnected",
			zap.String("server_id", serverID),
			zap.Error(err))
		return nil, &ConnectionFailedError{ServerID: serverID, Err: err}
	}
}

// Cancel cooperatively cancels the in-flight discovery for a server. The
// cycle's eventual completion is discarded, not applied. Returns whether
// there was a live cycle to cancel.
func (e *Engine) Cancel(serverID string) bool {
	e.mu.Lock()
	sess := e.sessions[serverID]
	e.mu.Unlock()

	if sess == nil || !sess.markCancelled() {
		return false
	}
	sess.cancel()
	e.logger.Debug("Cancelled in-flight discovery", zap.String("server_id", serverID))
	return true
}

// InFlight reports whether a live, not yet cancelled discovery cycle exists
// for the server. A cancelled cycle no longer counts: its result is already
// doomed to be discarded, so removal and bulk disables need not wait for it
// to drain.
func (e *Engine) InFlight(serverID string) bool {
	e.mu.Lock()
	sess := e.sessions[serverID]
	e.mu.Unlock()
	return sess != nil && !sess.isCancelled()
}

func (e *Engine) startSession(ctx context.Context, serverID string) (*session, context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.sessions[serverID]; exists {
		return nil, nil, &registry.AlreadyInProgressError{ServerID: serverID}
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &session{cancel: cancel, done: make(chan struct{})}
	e.sessions[serverID] = sess
	return sess, sessCtx, nil
}

func (e *Engine) endSession(serverID string, sess *session) {
	e.mu.Lock()
	delete(e.sessions, serverID)
	e.mu.Unlock()

	sess.cancel()
	close(sess.done)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrAuthRequired):
		return "auth_required"
	case errors.Is(err, registry.ErrDiscoveryDiscarded):
		return "discarded"
	default:
		return "failed"
	}
}
