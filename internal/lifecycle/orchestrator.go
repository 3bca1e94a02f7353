// Package lifecycle coordinates the managed life of tool servers: connect and
// disconnect requests, auth hand-offs, tool toggles, and the event stream that
// tells clients what changed. It owns no policy of its own; it sequences the
// registry, discovery engine, auth controller, and search index so each
// operation observes the lifecycle contract end to end.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"mcpdock-go/internal/authflow"
	"mcpdock-go/internal/configimport"
	"mcpdock-go/internal/discovery"
	"mcpdock-go/internal/index"
	"mcpdock-go/internal/observability"
	"mcpdock-go/internal/registry"
	"mcpdock-go/internal/state"
	"mcpdock-go/internal/toolstatus"
)

// ErrIndexDisabled is returned by search operations when the orchestrator was
// built without a search index.
var ErrIndexDisabled = errors.New("tool search index is disabled")

// ServerView is a server record projected for clients: the stored record plus
// the derived display status, tool counts, and pending-auth details.
type ServerView struct {
	*registry.ServerRecord
	DisplayStatus string `json:"display_status"`
	ToolsTotal    int    `json:"tools_total"`
	ToolsEnabled  int    `json:"tools_enabled"`
	AuthPending   bool   `json:"auth_pending,omitempty"`
	CallbackURL   string `json:"callback_url,omitempty"`
}

// Options carries the orchestrator's collaborators. Index and Observability
// are optional; everything else is required.
type Options struct {
	Registry      *registry.Registry
	Engine        *discovery.Engine
	Auth          *authflow.Controller
	Tools         *toolstatus.Manager
	Index         *index.Manager
	Observability *observability.Manager
	Logger        *zap.Logger
}

// Orchestrator is the single entry point for lifecycle operations. HTTP
// handlers and the CLI talk to it, never to the engine or registry directly.
type Orchestrator struct {
	registry *registry.Registry
	engine   *discovery.Engine
	auth     *authflow.Controller
	tools    *toolstatus.Manager
	index    *index.Manager
	obs      *observability.Manager
	importer *configimport.Importer
	bus      *Bus
	logger   *zap.Logger
}

// NewOrchestrator wires the collaborators together and installs the state
// transition observer, so every transition anywhere in the system surfaces as
// a server.state event and a metric.
func NewOrchestrator(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		registry: opts.Registry,
		engine:   opts.Engine,
		auth:     opts.Auth,
		tools:    opts.Tools,
		index:    opts.Index,
		obs:      opts.Observability,
		importer: configimport.NewImporter(opts.Registry, logger.Named("import")),
		bus:      NewBus(logger.Named("events")),
		logger:   logger,
	}
	o.registry.SetTransitionHook(o.onTransition)
	return o
}

// Events returns the bus clients subscribe to for lifecycle notifications.
func (o *Orchestrator) Events() *Bus {
	return o.bus
}

// CreateServer registers a new tool server. The record starts in the Created
// state; nothing connects until the caller asks for it.
func (o *Orchestrator) CreateServer(req registry.CreateRequest) (*registry.ServerRecord, error) {
	record, err := o.registry.Create(req)
	if err != nil {
		return nil, err
	}

	o.publish(EventTypeServersChanged, map[string]any{"reason": "created", "server_id": record.ID})
	o.RefreshStats()
	return record, nil
}

// UpdateServer merges a partial update into an existing server record.
func (o *Orchestrator) UpdateServer(id string, patch registry.UpdateRequest) (*registry.ServerRecord, error) {
	record, err := o.registry.Update(id, patch)
	if err != nil {
		return nil, err
	}

	o.publish(EventTypeServersChanged, map[string]any{"reason": "updated", "server_id": record.ID})
	return record, nil
}

// ImportConfig upserts servers from an MCP client configuration file. One
// event covers the whole batch.
func (o *Orchestrator) ImportConfig(content []byte, opts *configimport.ImportOptions) (*configimport.ImportResult, error) {
	result, err := o.importer.Import(content, opts)
	if err != nil {
		return nil, err
	}

	if !result.DryRun && result.Summary.Created+result.Summary.Updated > 0 {
		o.publish(EventTypeServersChanged, map[string]any{
			"reason":  "imported",
			"created": result.Summary.Created,
			"updated": result.Summary.Updated,
		})
		o.RefreshStats()
	}
	return result, nil
}

// GetServer returns one server projected for clients.
func (o *Orchestrator) GetServer(id string) (*ServerView, error) {
	record, err := o.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return o.view(record), nil
}

// ListServers returns all servers projected for clients, sorted by name.
func (o *Orchestrator) ListServers() ([]*ServerView, error) {
	records, err := o.registry.List()
	if err != nil {
		return nil, err
	}

	views := make([]*ServerView, 0, len(records))
	for _, record := range records {
		views = append(views, o.view(record))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	return views, nil
}

// ListTools returns the cached tools of one server.
func (o *Orchestrator) ListTools(serverID string) ([]*registry.ToolRecord, error) {
	if _, err := o.registry.Get(serverID); err != nil {
		return nil, err
	}
	return o.registry.ListServerTools(serverID)
}

// Connect runs a discovery cycle for the server: the initial connect of a
// Created server and the manual reconnect of a Connected or Disconnected one
// are the same operation. A server waiting on authentication is not
// silently reconnected; the caller must finish or abandon the auth flow
// first.
func (o *Orchestrator) Connect(ctx context.Context, serverID string) (*registry.ReconcileSummary, error) {
	server, err := o.registry.Get(serverID)
	if err != nil {
		return nil, err
	}

	switch server.State {
	case state.StateAwaitingAuth:
		return nil, &registry.ConflictError{Op: "connect", ServerID: serverID, Reason: "authentication pending"}
	case state.StateFetchingTools:
		return nil, &registry.AlreadyInProgressError{ServerID: serverID}
	}

	// A Created server that declared OAuth goes straight to the auth flow;
	// probing the remote first would only bounce off its sign-in refusal.
	// Reconnects probe again and let the remote demand sign-in itself.
	if server.State == state.StateCreated && o.auth.RequiresAuth(server) {
		if _, err := o.BeginAuth(ctx, serverID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", server.Name, discovery.ErrAuthRequired)
	}

	started := time.Now()
	summary, err := o.engine.Discover(ctx, serverID)
	o.afterDiscovery(ctx, serverID, summary, err, time.Since(started))
	if err != nil {
		return nil, err
	}

	o.RefreshStats()
	return summary, nil
}

// Disconnect takes the server to Disconnected. An in-flight discovery is
// cancelled cooperatively and its eventual result discarded; the tool cache
// keeps its last state. Disconnecting an already disconnected server is a
// no-op.
func (o *Orchestrator) Disconnect(ctx context.Context, serverID string) error {
	server, err := o.registry.Get(serverID)
	if err != nil {
		return err
	}
	if server.State == state.StateDisconnected {
		return nil
	}

	cancelled := o.engine.Cancel(serverID)
	o.auth.Forget(serverID)

	if _, err := o.registry.SetStateWithCause(serverID, state.StateDisconnected, ""); err != nil {
		return err
	}

	o.logger.Info("Disconnected server",
		zap.String("server_id", serverID),
		zap.Bool("cancelled_discovery", cancelled))
	o.RefreshStats()
	return nil
}

// DisconnectAndDelete disconnects the server and then removes it together
// with its cached tools. If the removal fails the server stays behind in the
// Disconnected state with its tools intact, which a later delete can finish.
func (o *Orchestrator) DisconnectAndDelete(ctx context.Context, serverID string) error {
	if err := o.Disconnect(ctx, serverID); err != nil {
		return err
	}

	removedToolIDs, err := o.registry.Remove(serverID)
	if err != nil {
		return err
	}

	if o.index != nil {
		if err := o.index.RemoveServer(serverID); err != nil {
			o.logger.Warn("Failed to remove server tools from search index",
				zap.String("server_id", serverID), zap.Error(err))
		}
	}

	o.publish(EventTypeServersChanged, map[string]any{"reason": "removed", "server_id": serverID})
	if len(removedToolIDs) > 0 {
		o.publish(EventTypeToolsChanged, map[string]any{
			"server_id": serverID,
			"removed":   len(removedToolIDs),
		})
	}
	o.RefreshStats()
	return nil
}

// RequiresAuth reports whether the server's declared auth kind sends connect
// through an auth flow first. Servers without a declared kind report false;
// their remotes may still demand sign-in during discovery.
func (o *Orchestrator) RequiresAuth(serverID string) (bool, error) {
	server, err := o.registry.Get(serverID)
	if err != nil {
		return false, err
	}
	return o.auth.RequiresAuth(server), nil
}

// PendingAuth returns the pending auth flow of the server, if any.
func (o *Orchestrator) PendingAuth(serverID string) (*authflow.Flow, bool) {
	return o.auth.PendingFlow(serverID)
}

// BeginAuth starts (or restates) the auth flow for a server and announces it
// on the event bus.
func (o *Orchestrator) BeginAuth(ctx context.Context, serverID string) (*authflow.Flow, error) {
	flow, err := o.auth.Begin(ctx, serverID)
	if err != nil {
		return nil, err
	}

	o.recordAuthFlow("begun")
	o.publish(EventTypeAuthPending, map[string]any{
		"server_id":    flow.ServerID,
		"flow_id":      flow.FlowID,
		"callback_url": flow.CallbackURL,
	})
	o.RefreshStats()
	return flow, nil
}

// CompleteAuth redeems a continuation token and resumes discovery for the
// waiting server. A stale completion - the server was removed or disconnected
// while the user authenticated - is logged and reported, never escalated; the
// user did nothing wrong.
func (o *Orchestrator) CompleteAuth(ctx context.Context, token string) (*authflow.Completion, error) {
	started := time.Now()
	completion, err := o.auth.Complete(ctx, token)
	if completion == nil {
		var stale *authflow.StaleFlowError
		if errors.As(err, &stale) {
			o.recordAuthFlow("stale")
			o.logger.Warn("Ignoring stale auth completion",
				zap.String("server_id", stale.ServerID),
				zap.String("reason", stale.Reason))
		}
		return nil, err
	}

	o.recordAuthFlow("completed")
	o.publish(EventTypeAuthCompleted, map[string]any{
		"server_id": completion.ServerID,
		"flow_id":   completion.FlowID,
	})
	o.afterDiscovery(ctx, completion.ServerID, completion.Summary, err, time.Since(started))
	o.RefreshStats()
	return completion, err
}

// SweepAuthFlows drops auth flows whose server no longer waits on them.
func (o *Orchestrator) SweepAuthFlows() int {
	return o.auth.Sweep()
}

// SetToolsEnabled flips the enabled flag on the given tools, all-or-nothing.
func (o *Orchestrator) SetToolsEnabled(toolIDs []string, enabled bool) ([]*registry.ToolRecord, error) {
	changed, err := o.tools.SetEnabled(toolIDs, enabled)
	if err != nil {
		return nil, err
	}

	action := "disable"
	if enabled {
		action = "enable"
	}
	o.recordToolToggle(action, len(changed))
	o.publish(EventTypeToolsChanged, map[string]any{"reason": action, "count": len(changed)})
	o.RefreshStats()
	return changed, nil
}

// DisableAllTools disables every tool of one server.
func (o *Orchestrator) DisableAllTools(serverID string) ([]string, error) {
	disabled, err := o.tools.DisableAll(serverID)
	if err != nil {
		return nil, err
	}

	o.recordToolToggle("disable_all", len(disabled))
	o.publish(EventTypeToolsChanged, map[string]any{
		"reason":    "disable_all",
		"server_id": serverID,
		"count":     len(disabled),
	})
	o.RefreshStats()
	return disabled, nil
}

// SearchTools runs a full-text query over the tool index.
func (o *Orchestrator) SearchTools(query string, limit int) ([]*index.SearchResult, error) {
	if o.index == nil {
		return nil, ErrIndexDisabled
	}
	return o.index.Search(query, limit)
}

// RebuildIndex drops and rebuilds the search index from the registry. The
// registry is the source of truth; the index is a derived view that may drift
// after crashes or skipped upserts.
func (o *Orchestrator) RebuildIndex() error {
	if o.index == nil {
		return ErrIndexDisabled
	}

	servers, err := o.registry.List()
	if err != nil {
		return err
	}
	return o.index.Rebuild(servers, o.registry.ListServerTools)
}

// RefreshStats recomputes the server, tool and index gauges. Called after
// mutating operations and periodically by the serve loop.
func (o *Orchestrator) RefreshStats() {
	metrics := o.metrics()
	if metrics == nil {
		return
	}

	servers, err := o.registry.List()
	if err != nil {
		o.logger.Warn("Failed to list servers for stats refresh", zap.Error(err))
		return
	}

	byState := make(map[string]int)
	totalTools, enabledTools := 0, 0
	for _, server := range servers {
		byState[server.State.String()]++
		if total, enabled, err := o.tools.Counts(server.ID); err == nil {
			totalTools += total
			enabledTools += enabled
		}
	}
	metrics.SetServerStats(byState)
	metrics.SetToolStats(totalTools, enabledTools)

	if o.index != nil {
		if count, err := o.index.DocCount(); err == nil {
			metrics.SetIndexSize(count)
		}
	}
}

// afterDiscovery translates a discovery outcome into events, metrics and
// index maintenance. State transitions are not handled here; those arrive
// through the registry's transition hook no matter who caused them.
func (o *Orchestrator) afterDiscovery(ctx context.Context, serverID string, summary *registry.ReconcileSummary, err error, elapsed time.Duration) {
	switch {
	case err == nil:
		o.recordDiscovery("success", elapsed)
		o.syncIndex(serverID, summary)
		if summary != nil && summary.Changed() {
			if metrics := o.metrics(); metrics != nil {
				metrics.RecordReconcile(len(summary.Inserted), len(summary.Updated), len(summary.RemovedIDs))
			}
			o.publish(EventTypeToolsChanged, map[string]any{
				"server_id": serverID,
				"inserted":  len(summary.Inserted),
				"updated":   len(summary.Updated),
				"removed":   len(summary.RemovedIDs),
			})
		}

	case errors.Is(err, discovery.ErrAuthRequired):
		o.recordDiscovery("auth_required", elapsed)
		if _, berr := o.BeginAuth(ctx, serverID); berr != nil {
			o.logger.Warn("Could not begin auth flow for server",
				zap.String("server_id", serverID), zap.Error(berr))
		}

	case errors.Is(err, registry.ErrDiscoveryDiscarded):
		o.recordDiscovery("discarded", elapsed)

	case registry.IsNotFound(err):
		// server vanished mid-cycle, nothing left to report on

	default:
		var inProgress *registry.AlreadyInProgressError
		if errors.As(err, &inProgress) {
			o.recordDiscovery("rejected", elapsed)
			return
		}
		o.recordDiscovery("failed", elapsed)
	}
}

// syncIndex applies a reconcile summary to the search index. Index failures
// are logged and swallowed; the index can always be rebuilt from the
// registry.
func (o *Orchestrator) syncIndex(serverID string, summary *registry.ReconcileSummary) {
	if o.index == nil || summary == nil || !summary.Changed() {
		return
	}

	if len(summary.RemovedIDs) > 0 {
		if err := o.index.RemoveTools(summary.RemovedIDs); err != nil {
			o.logger.Warn("Failed to remove tools from search index",
				zap.String("server_id", serverID), zap.Error(err))
		}
	}

	changed := make([]*registry.ToolRecord, 0, len(summary.Inserted)+len(summary.Updated))
	changed = append(changed, summary.Inserted...)
	changed = append(changed, summary.Updated...)
	if len(changed) == 0 {
		return
	}

	server, err := o.registry.Get(serverID)
	if err != nil {
		o.logger.Warn("Failed to load server for index update",
			zap.String("server_id", serverID), zap.Error(err))
		return
	}
	if err := o.index.UpsertServerTools(server, changed); err != nil {
		o.logger.Warn("Failed to index discovered tools",
			zap.String("server_id", serverID), zap.Error(err))
	}
}

func (o *Orchestrator) view(record *registry.ServerRecord) *ServerView {
	view := &ServerView{
		ServerRecord:  record,
		DisplayStatus: state.Display(record.State).String(),
	}
	if total, enabled, err := o.tools.Counts(record.ID); err == nil {
		view.ToolsTotal = total
		view.ToolsEnabled = enabled
	}
	if record.State == state.StateAwaitingAuth {
		if flow, ok := o.auth.PendingFlow(record.ID); ok {
			view.AuthPending = true
			view.CallbackURL = flow.CallbackURL
		}
	}
	return view
}

// onTransition is the registry's transition observer. Every successful state
// change funnels through here exactly once.
func (o *Orchestrator) onTransition(serverID string, from, to state.ConnectionState, cause string) {
	if metrics := o.metrics(); metrics != nil {
		metrics.RecordStateTransition(from.String(), to.String())
	}

	payload := map[string]any{
		"server_id":      serverID,
		"from":           from.String(),
		"state":          to.String(),
		"display_status": state.Display(to).String(),
	}
	if cause != "" {
		payload["last_error"] = cause
	}
	o.publish(EventTypeServerState, payload)
}

func (o *Orchestrator) publish(eventType EventType, payload map[string]any) {
	o.bus.Publish(eventType, payload)
	if metrics := o.metrics(); metrics != nil {
		metrics.RecordEvent(string(eventType))
	}
}

func (o *Orchestrator) metrics() *observability.MetricsManager {
	if o.obs == nil {
		return nil
	}
	return o.obs.Metrics()
}

func (o *Orchestrator) recordDiscovery(outcome string, elapsed time.Duration) {
	if metrics := o.metrics(); metrics != nil {
		metrics.RecordDiscovery(outcome, elapsed)
	}
}

func (o *Orchestrator) recordAuthFlow(outcome string) {
	if metrics := o.metrics(); metrics != nil {
		metrics.RecordAuthFlow(outcome)
	}
}

func (o *Orchestrator) recordToolToggle(action string, count int) {
	if metrics := o.metrics(); metrics != nil {
		metrics.RecordToolToggle(action, count)
	}
}
