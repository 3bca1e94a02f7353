package configimport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYAMLParser_Parse(t *testing.T) {
	content := `
- name: files-east
  description: File tools in the east region
  endpoint: https://files-east.example.com/mcp
  auth: oauth
- name: search
  url: https://search.example.com/mcp
  headers:
    Authorization: Bearer ${env:SEARCH_TOKEN}
- name: retired
  endpoint: https://retired.example.com/mcp
  disabled: true
`

	servers, err := (&YAMLParser{}).Parse([]byte(content))
	require.NoError(t, err)
	require.Len(t, servers, 3)

	files := servers[0]
	assert.Equal(t, "files-east", files.Name)
	assert.Equal(t, "File tools in the east region", files.Description)
	assert.Equal(t, "https://files-east.example.com/mcp", files.Endpoint)
	assert.Equal(t, "oauth", files.AuthKind)
	assert.Equal(t, FormatYAML, files.SourceFormat)

	search := servers[1]
	assert.Equal(t, "https://search.example.com/mcp", search.Endpoint, "url is an accepted alias")
	assert.Equal(t, "Bearer ${env:SEARCH_TOKEN}", search.Headers["Authorization"])

	assert.True(t, servers[2].Disabled)
}

func TestYAMLParser_Errors(t *testing.T) {
	t.Run("not a list", func(t *testing.T) {
		_, err := (&YAMLParser{}).Parse([]byte(`name: files`))
		var importErr *ImportError
		require.ErrorAs(t, err, &importErr)
		assert.Equal(t, "parse_error", importErr.Type)
	})

	t.Run("empty list", func(t *testing.T) {
		_, err := (&YAMLParser{}).Parse([]byte(`[]`))
		var importErr *ImportError
		require.ErrorAs(t, err, &importErr)
		assert.Equal(t, "no_servers", importErr.Type)
	})
}
