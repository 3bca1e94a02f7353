package index

import (
	"fmt"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"go.uber.org/zap"

	"mcpdock-go/internal/registry"
)

// BleveIndex wraps Bleve index operations
type BleveIndex struct {
	index  bleve.Index
	logger *zap.Logger
}

// ToolDocument represents a tool document in the index
type ToolDocument struct {
	ToolName    string `json:"tool_name"`
	ServerID    string `json:"server_id"`
	ServerName  string `json:"server_name"`
	Description string `json:"description"`
	ParamsJSON  string `json:"params_json"`
	Enabled     bool   `json:"enabled"`
}

// SearchResult is one search hit with its BM25 score
type SearchResult struct {
	Tool  *ToolDocument `json:"tool"`
	Score float64       `json:"score"`
}

// NewBleveIndex creates a new Bleve index
func NewBleveIndex(dataDir string, logger *zap.Logger) (*BleveIndex, error) {
	indexPath := filepath.Join(dataDir, "index.bleve")

	// Try to open existing index
	index, err := bleve.Open(indexPath)
	if err != nil {
		// If index doesn't exist, create a new one
		logger.Info("Creating new Bleve index", zap.String("path", indexPath))
		index, err = createBleveIndex(indexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create Bleve index: %w", err)
		}
	} else {
		logger.Info("Opened existing Bleve index", zap.String("path", indexPath))
	}

	return &BleveIndex{
		index:  index,
		logger: logger,
	}, nil
}

// createBleveIndex creates a new Bleve index with proper mapping
func createBleveIndex(indexPath string) (bleve.Index, error) {
	indexMapping := bleve.NewIndexMapping()

	toolMapping := bleve.NewDocumentMapping()

	// Tool name field (keyword analyzer - exact match)
	toolNameField := bleve.NewTextFieldMapping()
	toolNameField.Analyzer = keyword.Name
	toolNameField.Store = true
	toolNameField.Index = true
	toolMapping.AddFieldMappingsAt("tool_name", toolNameField)

	// Server id field (keyword analyzer; drives delete-by-server)
	serverIDField := bleve.NewTextFieldMapping()
	serverIDField.Analyzer = keyword.Name
	serverIDField.Store = true
	serverIDField.Index = true
	toolMapping.AddFieldMappingsAt("server_id", serverIDField)

	// Server name field (keyword analyzer)
	serverNameField := bleve.NewTextFieldMapping()
	serverNameField.Analyzer = keyword.Name
	serverNameField.Store = true
	serverNameField.Index = true
	toolMapping.AddFieldMappingsAt("server_name", serverNameField)

	// Description field (standard analyzer for full-text search)
	descriptionField := bleve.NewTextFieldMapping()
	descriptionField.Analyzer = standard.Name
	descriptionField.Store = true
	descriptionField.Index = true
	toolMapping.AddFieldMappingsAt("description", descriptionField)

	// Parameters JSON field (standard analyzer)
	paramsField := bleve.NewTextFieldMapping()
	paramsField.Analyzer = standard.Name
	paramsField.Store = true
	paramsField.Index = true
	toolMapping.AddFieldMappingsAt("params_json", paramsField)

	// Enabled flag
	enabledField := bleve.NewBooleanFieldMapping()
	enabledField.Store = true
	enabledField.Index = true
	toolMapping.AddFieldMappingsAt("enabled", enabledField)

	indexMapping.AddDocumentMapping("tool", toolMapping)
	indexMapping.DefaultMapping = toolMapping

	return bleve.New(indexPath, indexMapping)
}

// Close closes the index
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// Upsert indexes a tool document, replacing any previous version
func (b *BleveIndex) Upsert(doc *ToolDocument) error {
	docID := registry.ToolID(doc.ServerID, doc.ToolName)

	b.logger.Debug("Indexing tool", zap.String("doc_id", docID))
	return b.index.Index(docID, doc)
}

// BatchUpsert indexes multiple tool documents in a single batch
func (b *BleveIndex) BatchUpsert(docs []*ToolDocument) error {
	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(registry.ToolID(doc.ServerID, doc.ToolName), doc); err != nil {
			return fmt.Errorf("failed to add document to batch: %w", err)
		}
	}

	b.logger.Debug("Batch indexing tools", zap.Int("count", len(docs)))
	return b.index.Batch(batch)
}

// Delete removes tool documents by their composite ids
func (b *BleveIndex) Delete(toolIDs []string) error {
	batch := b.index.NewBatch()
	for _, id := range toolIDs {
		batch.Delete(id)
	}

	b.logger.Debug("Deleting tools from index", zap.Int("count", len(toolIDs)))
	return b.index.Batch(batch)
}

// DeleteServerTools removes all tool documents belonging to a server
func (b *BleveIndex) DeleteServerTools(serverID string) error {
	query := bleve.NewTermQuery(serverID)
	query.SetField("server_id")

	searchReq := bleve.NewSearchRequest(query)
	searchReq.Size = 1000 // Assume max 1000 tools per server
	searchReq.Fields = []string{"tool_name", "server_id"}

	searchResult, err := b.index.Search(searchReq)
	if err != nil {
		return fmt.Errorf("failed to search for server tools: %w", err)
	}

	for _, hit := range searchResult.Hits {
		if err := b.index.Delete(hit.ID); err != nil {
			b.logger.Warn("Failed to delete tool", zap.String("tool_id", hit.ID), zap.Error(err))
		}
	}

	b.logger.Info("Deleted tools from server",
		zap.Int("count", len(searchResult.Hits)),
		zap.String("server_id", serverID))
	return nil
}

// Search searches for tools using BM25 scoring
func (b *BleveIndex) Search(query string, limit int) ([]*SearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}

	matchQuery := bleve.NewMatchQuery(query)

	searchReq := bleve.NewSearchRequest(matchQuery)
	searchReq.Size = limit
	searchReq.Fields = []string{"tool_name", "server_id", "server_name", "description", "params_json", "enabled"}
	searchReq.Highlight = bleve.NewHighlight()

	b.logger.Debug("Searching tools", zap.String("query", query), zap.Int("limit", limit))

	searchResult, err := b.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	var results []*SearchResult
	for _, hit := range searchResult.Hits {
		doc := &ToolDocument{
			ToolName:    getStringField(hit.Fields, "tool_name"),
			ServerID:    getStringField(hit.Fields, "server_id"),
			ServerName:  getStringField(hit.Fields, "server_name"),
			Description: getStringField(hit.Fields, "description"),
			ParamsJSON:  getStringField(hit.Fields, "params_json"),
			Enabled:     getBoolField(hit.Fields, "enabled"),
		}

		results = append(results, &SearchResult{
			Tool:  doc,
			Score: hit.Score,
		})
	}

	b.logger.Debug("Found tools matching query", zap.Int("count", len(results)), zap.String("query", query))
	return results, nil
}

// DocCount returns the number of documents in the index
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Reset removes every document so the index can be rebuilt from storage
func (b *BleveIndex) Reset() error {
	query := bleve.NewMatchAllQuery()
	searchReq := bleve.NewSearchRequest(query)
	searchReq.Size = 10000

	for {
		searchResult, err := b.index.Search(searchReq)
		if err != nil {
			return fmt.Errorf("failed to enumerate index: %w", err)
		}
		if len(searchResult.Hits) == 0 {
			return nil
		}

		batch := b.index.NewBatch()
		for _, hit := range searchResult.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete documents: %w", err)
		}
	}
}

// Helper function to get string field from search results
func getStringField(fields map[string]interface{}, fieldName string) string {
	if val, ok := fields[fieldName]; ok {
		if strVal, ok := val.(string); ok {
			return strVal
		}
	}
	return ""
}

func getBoolField(fields map[string]interface{}, fieldName string) bool {
	if val, ok := fields[fieldName]; ok {
		if boolVal, ok := val.(bool); ok {
			return boolVal
		}
	}
	return false
}
