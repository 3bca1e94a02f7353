package configimport

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ClaudeConfig represents the Claude-style JSON configuration structure
// shared by Claude Desktop, Claude Code, and most MCP-aware editors.
type ClaudeConfig struct {
	MCPServers map[string]ClaudeServerConfig `json:"mcpServers"`
}

// ClaudeServerConfig represents a single server in a Claude-style config.
type ClaudeServerConfig struct {
	Type    string            `json:"type,omitempty"` // stdio, http, sse
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ClaudeParser parses Claude-style JSON configuration files.
type ClaudeParser struct{}

// Format returns the configuration format this parser handles.
func (p *ClaudeParser) Format() ConfigFormat {
	return FormatClaude
}

// Parse parses Claude-style JSON configuration content.
func (p *ClaudeParser) Parse(content []byte) ([]*ParsedServer, error) {
	var cfg ClaudeConfig
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, &ImportError{
			Type:    "parse_error",
			Message: fmt.Sprintf("invalid JSON: %v", err),
		}
	}

	if len(cfg.MCPServers) == 0 {
		return nil, &ImportError{
			Type:    "no_servers",
			Message: "no MCP servers found (looking for an mcpServers object)",
		}
	}

	names := make([]string, 0, len(cfg.MCPServers))
	for name := range cfg.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	servers := make([]*ParsedServer, 0, len(names))
	for _, name := range names {
		serverCfg := cfg.MCPServers[name]

		parsed := &ParsedServer{
			Name:         name,
			Endpoint:     serverCfg.URL,
			Command:      serverCfg.Command,
			Headers:      serverCfg.Headers,
			SourceFormat: FormatClaude,
		}

		if serverCfg.Type != "" && serverCfg.Type != "stdio" && serverCfg.URL == "" {
			parsed.Warnings = append(parsed.Warnings,
				fmt.Sprintf("%s server has no url field", serverCfg.Type))
		}

		servers = append(servers, parsed)
	}

	return servers, nil
}
