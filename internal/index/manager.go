package index

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"mcpdock-go/internal/registry"
)

// Manager provides a unified interface for indexing operations
type Manager struct {
	bleveIndex *BleveIndex
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewManager creates a new index manager
func NewManager(dataDir string, logger *zap.Logger) (*Manager, error) {
	bleveIndex, err := NewBleveIndex(dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}

	return &Manager{
		bleveIndex: bleveIndex,
		logger:     logger,
	}, nil
}

// Close closes the index manager
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bleveIndex != nil {
		return m.bleveIndex.Close()
	}
	return nil
}

// UpsertServerTools indexes the given tool records under their server
func (m *Manager) UpsertServerTools(server *registry.ServerRecord, tools []*registry.ToolRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := make([]*ToolDocument, 0, len(tools))
	for _, tool := range tools {
		docs = append(docs, docFromRecord(server, tool))
	}
	return m.bleveIndex.BatchUpsert(docs)
}

// RemoveTools removes tool documents by their composite ids
func (m *Manager) RemoveTools(toolIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(toolIDs) == 0 {
		return nil
	}
	return m.bleveIndex.Delete(toolIDs)
}

// RemoveServer removes every tool document belonging to a server
func (m *Manager) RemoveServer(serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.bleveIndex.DeleteServerTools(serverID)
}

// Search searches for tools matching the query
func (m *Manager) Search(query string, limit int) ([]*SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 20 // default limit
	}

	return m.bleveIndex.Search(query, limit)
}

// DocCount returns the number of indexed documents
func (m *Manager) DocCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.bleveIndex.DocCount()
}

// Rebuild drops the index and re-populates it from storage. toolsFor is
// called once per server to fetch its current tool records.
func (m *Manager) Rebuild(servers []*registry.ServerRecord, toolsFor func(serverID string) ([]*registry.ToolRecord, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.bleveIndex.Reset(); err != nil {
		return fmt.Errorf("failed to reset index: %w", err)
	}

	total := 0
	for _, server := range servers {
		tools, err := toolsFor(server.ID)
		if err != nil {
			return fmt.Errorf("failed to load tools for server %s: %w", server.ID, err)
		}

		docs := make([]*ToolDocument, 0, len(tools))
		for _, tool := range tools {
			docs = append(docs, docFromRecord(server, tool))
		}
		if err := m.bleveIndex.BatchUpsert(docs); err != nil {
			return fmt.Errorf("failed to index tools for server %s: %w", server.ID, err)
		}
		total += len(docs)
	}

	m.logger.Info("Rebuilt tool index",
		zap.Int("servers", len(servers)),
		zap.Int("tools", total))
	return nil
}

// GetStats returns indexing statistics
func (m *Manager) GetStats() (map[string]interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docCount, err := m.bleveIndex.DocCount()
	if err != nil {
		return nil, err
	}

	stats := map[string]interface{}{
		"document_count": docCount,
		"index_type":     "bleve",
		"search_backend": "BM25",
	}

	return stats, nil
}

func docFromRecord(server *registry.ServerRecord, tool *registry.ToolRecord) *ToolDocument {
	return &ToolDocument{
		ToolName:    tool.Name,
		ServerID:    tool.ServerID,
		ServerName:  server.Name,
		Description: tool.Description,
		ParamsJSON:  tool.ParamsJSON,
		Enabled:     tool.Enabled,
	}
}
