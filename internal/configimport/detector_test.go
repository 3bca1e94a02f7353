package configimport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleClaudeJSON = `{
	"mcpServers": {
		"files": {
			"type": "http",
			"url": "https://files.example.com/mcp"
		}
	}
}`

const sampleCodexTOML = `
[mcp_servers.files]
url = "https://files.example.com/mcp"
`

const sampleYAMLList = `
- name: files
  endpoint: https://files.example.com/mcp
`

func TestDetectFormat_ByExtension(t *testing.T) {
	tests := []struct {
		path string
		want ConfigFormat
	}{
		{"/home/user/.codex/config.toml", FormatCodex},
		{"servers.yaml", FormatYAML},
		{"servers.yml", FormatYAML},
		{"claude_desktop_config.json", FormatClaude},
		{"CONFIG.TOML", FormatCodex},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			// Content deliberately empty: the extension decides
			format, err := DetectFormat(tt.path, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, format)
		})
	}
}

func TestDetectFormat_BySniffing(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    ConfigFormat
	}{
		{"claude json", sampleClaudeJSON, FormatClaude},
		{"codex toml", sampleCodexTOML, FormatCodex},
		{"yaml list", sampleYAMLList, FormatYAML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, err := DetectFormat("", []byte(tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.want, format)
		})
	}
}

func TestDetectFormat_Unknown(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"json without mcpServers", `{"servers": {}}`},
		{"toml without mcp_servers", `listen = ":8080"`},
		{"prose", "this is not a config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DetectFormat("", []byte(tt.content))
			assert.ErrorIs(t, err, ErrUnknownFormat)
		})
	}
}
