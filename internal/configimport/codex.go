package configimport

import (
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// CodexConfig represents the Codex CLI configuration file structure (TOML).
type CodexConfig struct {
	MCPServers map[string]CodexServerConfig `toml:"mcp_servers"`
}

// CodexServerConfig represents a single server in a Codex config.
type CodexServerConfig struct {
	// Stdio transport
	Command string   `toml:"command,omitempty"`
	Args    []string `toml:"args,omitempty"`

	// HTTP transport
	URL               string            `toml:"url,omitempty"`
	BearerToken       string            `toml:"bearer_token,omitempty"`
	BearerTokenEnvVar string            `toml:"bearer_token_env_var,omitempty"`
	HTTPHeaders       map[string]string `toml:"http_headers,omitempty"`
	EnvHTTPHeaders    map[string]string `toml:"env_http_headers,omitempty"`

	// Behavior
	Enabled       *bool    `toml:"enabled,omitempty"`
	EnabledTools  []string `toml:"enabled_tools,omitempty"`
	DisabledTools []string `toml:"disabled_tools,omitempty"`
}

// CodexParser parses Codex CLI configuration files (TOML).
type CodexParser struct{}

// Format returns the configuration format this parser handles.
func (p *CodexParser) Format() ConfigFormat {
	return FormatCodex
}

// Parse parses Codex CLI configuration content. Environment-variable
// indirections in the source become ${env:NAME} references, resolved at
// dial time rather than baked in at import time.
func (p *CodexParser) Parse(content []byte) ([]*ParsedServer, error) {
	var cfg CodexConfig
	if _, err := toml.Decode(string(content), &cfg); err != nil {
		return nil, &ImportError{
			Type:    "parse_error",
			Message: fmt.Sprintf("invalid TOML: %v", err),
		}
	}

	if len(cfg.MCPServers) == 0 {
		return nil, &ImportError{
			Type:    "no_servers",
			Message: "no MCP servers found (looking for [mcp_servers.*] tables)",
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

		headers := make(map[string]string)
		for k, v := range serverCfg.HTTPHeaders {
			headers[k] = v
		}
		for headerName, envVar := range serverCfg.EnvHTTPHeaders {
			headers[headerName] = fmt.Sprintf("${env:%s}", envVar)
		}

		switch {
		case serverCfg.BearerToken != "":
			headers["Authorization"] = "Bearer " + serverCfg.BearerToken
		case serverCfg.BearerTokenEnvVar != "":
			headers["Authorization"] = fmt.Sprintf("Bearer ${env:%s}", serverCfg.BearerTokenEnvVar)
		}
		if len(headers) == 0 {
			headers = nil
		}

		parsed := &ParsedServer{
			Name:         name,
			Endpoint:     serverCfg.URL,
			Command:      serverCfg.Command,
			Headers:      headers,
			Disabled:     serverCfg.Enabled != nil && !*serverCfg.Enabled,
			SourceFormat: FormatCodex,
		}

		if len(serverCfg.EnabledTools) > 0 || len(serverCfg.DisabledTools) > 0 {
			parsed.Warnings = append(parsed.Warnings,
				"tool filters are not imported; enable or disable tools after discovery")
		}

		servers = append(servers, parsed)
	}

	return servers, nil
}
