package configimport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodexParser_Parse(t *testing.T) {
	content := `
[mcp_servers.linear]
url = "https://mcp.linear.app/mcp"
bearer_token_env_var = "LINEAR_TOKEN"

[mcp_servers.docs]
url = "https://docs.example.com/mcp"
bearer_token = "literal-token"
http_headers = { "X-Tenant" = "acme" }
env_http_headers = { "X-Api-Key" = "DOCS_API_KEY" }

[mcp_servers.local]
command = "uvx"
args = ["some-local-server"]

[mcp_servers.muted]
url = "https://muted.example.com/mcp"
enabled = false
`

	servers, err := (&CodexParser{}).Parse([]byte(content))
	require.NoError(t, err)
	require.Len(t, servers, 4)

	byName := make(map[string]*ParsedServer)
	for _, s := range servers {
		byName[s.Name] = s
	}

	linear := byName["linear"]
	require.NotNil(t, linear)
	assert.Equal(t, "https://mcp.linear.app/mcp", linear.Endpoint)
	assert.Equal(t, "Bearer ${env:LINEAR_TOKEN}", linear.Headers["Authorization"],
		"env indirection becomes a secret reference, resolved at dial time")

	docs := byName["docs"]
	require.NotNil(t, docs)
	assert.Equal(t, "Bearer literal-token", docs.Headers["Authorization"])
	assert.Equal(t, "acme", docs.Headers["X-Tenant"])
	assert.Equal(t, "${env:DOCS_API_KEY}", docs.Headers["X-Api-Key"])

	local := byName["local"]
	require.NotNil(t, local)
	assert.Empty(t, local.Endpoint)
	assert.Equal(t, "uvx", local.Command)

	muted := byName["muted"]
	require.NotNil(t, muted)
	assert.True(t, muted.Disabled)
}

func TestCodexParser_ToolFilterWarning(t *testing.T) {
	content := `
[mcp_servers.filtered]
url = "https://filtered.example.com/mcp"
disabled_tools = ["dangerous_tool"]
`

	servers, err := (&CodexParser{}).Parse([]byte(content))
	require.NoError(t, err)
	require.Len(t, servers, 1)
	require.Len(t, servers[0].Warnings, 1)
	assert.Contains(t, servers[0].Warnings[0], "tool filters are not imported")
}

func TestCodexParser_Errors(t *testing.T) {
	t.Run("invalid toml", func(t *testing.T) {
		_, err := (&CodexParser{}).Parse([]byte(`[unclosed`))
		var importErr *ImportError
		require.ErrorAs(t, err, &importErr)
		assert.Equal(t, "parse_error", importErr.Type)
	})

	t.Run("no servers", func(t *testing.T) {
		_, err := (&CodexParser{}).Parse([]byte(`model = "o3"`))
		var importErr *ImportError
		require.ErrorAs(t, err, &importErr)
		assert.Equal(t, "no_servers", importErr.Type)
	})
}
