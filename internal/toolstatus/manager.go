// Package toolstatus owns the per-tool enabled flag: targeted toggles and
// the per-server kill switch. Toggles go through the registry so they are
// all-or-nothing, then the search index is refreshed to match.
package toolstatus

import (
	"go.uber.org/zap"

	"mcpdock-go/internal/registry"
)

// Indexer receives refreshed tool records after a toggle so search results
// reflect the current enabled flags.
type Indexer interface {
	UpsertServerTools(server *registry.ServerRecord, tools []*registry.ToolRecord) error
}

// Manager flips tool enabled flags and keeps the index in step.
type Manager struct {
	registry *registry.Registry
	indexer  Indexer
	logger   *zap.Logger
}

// NewManager creates a tool status manager. indexer may be nil when no
// search index is wired in.
func NewManager(reg *registry.Registry, indexer Indexer, logger *zap.Logger) *Manager {
	return &Manager{
		registry: reg,
		indexer:  indexer,
		logger:   logger,
	}
}

// SetEnabled flips the enabled flag on the named tools. All-or-nothing: if
// any id does not resolve to a cached tool, nothing changes and the error
// names every missing id.
func (m *Manager) SetEnabled(toolIDs []string, enabled bool) ([]*registry.ToolRecord, error) {
	changed, err := m.registry.SetToolsEnabled(toolIDs, enabled)
	if err != nil {
		return nil, err
	}

	m.reindex(changed)

	m.logger.Info("Toggled tools",
		zap.Int("count", len(changed)),
		zap.Bool("enabled", enabled))
	return changed, nil
}

// DisableAll turns off every cached tool of a server and returns the
// affected tool ids. Refused while a discovery cycle is reconciling the
// server, so the kill switch always applies to the post-reconciliation set.
func (m *Manager) DisableAll(serverID string) ([]string, error) {
	ids, err := m.registry.DisableAllTools(serverID)
	if err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		tools, lerr := m.registry.ListServerTools(serverID)
		if lerr != nil {
			m.logger.Warn("Failed to reload tools after bulk disable",
				zap.String("server_id", serverID), zap.Error(lerr))
		} else {
			m.reindex(tools)
		}
	}

	m.logger.Info("Disabled all tools",
		zap.String("server_id", serverID),
		zap.Int("count", len(ids)))
	return ids, nil
}

// Counts reports how many tools a server has cached and how many of them
// are enabled.
func (m *Manager) Counts(serverID string) (total, enabled int, err error) {
	tools, err := m.registry.ListServerTools(serverID)
	if err != nil {
		return 0, 0, err
	}

	for _, tool := range tools {
		if tool.Enabled {
			enabled++
		}
	}
	return len(tools), enabled, nil
}

// reindex pushes refreshed records into the search index, grouped by
// server. Index failures are logged, not propagated: the registry is the
// source of truth and the index can be rebuilt.
func (m *Manager) reindex(tools []*registry.ToolRecord) {
	if m.indexer == nil || len(tools) == 0 {
		return
	}

	byServer := make(map[string][]*registry.ToolRecord)
	for _, tool := range tools {
		byServer[tool.ServerID] = append(byServer[tool.ServerID], tool)
	}

	for serverID, group := range byServer {
		server, err := m.registry.Get(serverID)
		if err != nil {
			m.logger.Warn("Failed to load server for reindex",
				zap.String("server_id", serverID), zap.Error(err))
			continue
		}
		if err := m.indexer.UpsertServerTools(server, group); err != nil {
			m.logger.Warn("Failed to reindex toggled tools",
				zap.String("server_id", serverID), zap.Error(err))
		}
	}
}
