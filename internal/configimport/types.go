// Package configimport imports tool-server definitions from existing MCP
// client configuration files: Claude-style JSON, Codex-style TOML, and plain
// YAML server lists. Parsed servers are upserted into the registry by name.
package configimport

import "strings"

// ConfigFormat represents supported configuration formats
type ConfigFormat string

const (
	FormatUnknown ConfigFormat = "unknown"
	FormatClaude  ConfigFormat = "claude"
	FormatCodex   ConfigFormat = "codex"
	FormatYAML    ConfigFormat = "yaml"
)

// String returns a human-readable format name for display
func (f ConfigFormat) String() string {
	switch f {
	case FormatClaude:
		return "Claude JSON"
	case FormatCodex:
		return "Codex TOML"
	case FormatYAML:
		return "YAML server list"
	default:
		return "Unknown"
	}
}

// ParseFormat maps a user-supplied format name to a ConfigFormat. An empty
// name means auto-detect and is accepted; anything unrecognized is not.
func ParseFormat(name string) (ConfigFormat, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return FormatUnknown, true
	case "claude", "json":
		return FormatClaude, true
	case "codex", "toml":
		return FormatCodex, true
	case "yaml", "yml":
		return FormatYAML, true
	default:
		return FormatUnknown, false
	}
}

// ParsedServer is a server definition lifted out of a source config file,
// before any registry interaction.
type ParsedServer struct {
	Name        string
	Description string

	// Endpoint is the remote URL; empty for stdio definitions
	Endpoint string

	// Command is the stdio launch command, kept only so skips can name it
	Command string

	Headers  map[string]string
	AuthKind string

	// Disabled marks servers the source config had switched off
	Disabled bool

	SourceFormat ConfigFormat
	Warnings     []string
}

// ImportResult is the complete outcome of one import operation.
type ImportResult struct {
	Format            ConfigFormat     `json:"format"`
	FormatDisplayName string           `json:"format_display_name"`
	Imported          []ImportedServer `json:"imported"`
	Skipped           []SkippedServer  `json:"skipped"`
	Failed            []FailedServer   `json:"failed"`
	Warnings          []string         `json:"warnings,omitempty"`
	Summary           ImportSummary    `json:"summary"`
	DryRun            bool             `json:"dry_run,omitempty"`
}

// ImportedServer records one successful (or would-be, on dry runs) upsert.
type ImportedServer struct {
	// ID is empty on dry runs for servers that do not exist yet
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	Action   string `json:"action"` // created or updated
}

// SkippedServer records a server that was deliberately not imported.
type SkippedServer struct {
	Name   string `json:"name"`
	Reason string `json:"reason"` // stdio_not_supported, disabled_in_source, invalid_name
}

// FailedServer records a server that could not be imported.
type FailedServer struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// ImportSummary provides counts for display.
type ImportSummary struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// ImportOptions configures one import operation.
type ImportOptions struct {
	// FormatHint skips auto-detection when set
	FormatHint ConfigFormat

	// DryRun parses and validates without touching the registry
	DryRun bool
}

// ImportError is a structured error for parse and format failures.
type ImportError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ImportError) Error() string {
	return e.Message
}
