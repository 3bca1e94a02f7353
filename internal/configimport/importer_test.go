package configimport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpdock-go/internal/registry"
)

func newTestImporter(t *testing.T) (*Importer, *registry.Registry) {
	t.Helper()
	logger := zap.NewNop()

	db, err := registry.NewBoltDB(t.TempDir(), logger.Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg, err := registry.NewRegistry(db, logger.Sugar())
	require.NoError(t, err)

	return NewImporter(reg, logger), reg
}

func TestImporter_CreatesRemoteSkipsStdio(t *testing.T) {
	importer, reg := newTestImporter(t)

	content := `{
		"mcpServers": {
			"github": {
				"type": "http",
				"url": "https://api.githubcopilot.com/mcp/",
				"headers": {"Authorization": "Bearer ${env:GITHUB_TOKEN}"}
			},
			"filesystem": {
				"command": "npx",
				"args": ["-y", "@modelcontextprotocol/server-filesystem"]
			}
		}
	}`

	result, err := importer.Import([]byte(content), &ImportOptions{FormatHint: FormatClaude})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Summary.Total)
	assert.Equal(t, 1, result.Summary.Created)
	assert.Equal(t, 1, result.Summary.Skipped)
	assert.Zero(t, result.Summary.Failed)

	require.Len(t, result.Imported, 1)
	assert.Equal(t, actionCreated, result.Imported[0].Action)
	assert.NotEmpty(t, result.Imported[0].ID)

	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "filesystem", result.Skipped[0].Name)
	assert.Equal(t, "stdio_not_supported", result.Skipped[0].Reason)

	record, err := reg.FindByName("github")
	require.NoError(t, err)
	assert.Equal(t, "https://api.githubcopilot.com/mcp/", record.Endpoint)
	assert.Equal(t, "Bearer ${env:GITHUB_TOKEN}", record.Headers["Authorization"])
}

func TestImporter_UpsertsByName(t *testing.T) {
	importer, reg := newTestImporter(t)

	existing, err := reg.Create(registry.CreateRequest{
		Name:     "linear",
		Endpoint: "https://old.linear.app/mcp",
		AuthKind: registry.AuthKindOAuth,
	})
	require.NoError(t, err)

	content := `
[mcp_servers.linear]
url = "https://mcp.linear.app/mcp"
`
	result, err := importer.Import([]byte(content), &ImportOptions{FormatHint: FormatCodex})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Summary.Updated)
	assert.Zero(t, result.Summary.Created)
	require.Len(t, result.Imported, 1)
	assert.Equal(t, existing.ID, result.Imported[0].ID)
	assert.Equal(t, actionUpdated, result.Imported[0].Action)

	record, err := reg.Get(existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://mcp.linear.app/mcp", record.Endpoint)
	assert.Equal(t, registry.AuthKindOAuth, record.AuthKind, "unspecified fields keep their value")
}

func TestImporter_DryRunTouchesNothing(t *testing.T) {
	importer, reg := newTestImporter(t)

	content := `
- name: files
  endpoint: https://files.example.com/mcp
`
	result, err := importer.Import([]byte(content), &ImportOptions{FormatHint: FormatYAML, DryRun: true})
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.Summary.Created)
	require.Len(t, result.Imported, 1)
	assert.Empty(t, result.Imported[0].ID, "dry run mints no record")

	_, err = reg.FindByName("files")
	assert.True(t, registry.IsNotFound(err))
}

func TestImporter_SanitizesNames(t *testing.T) {
	importer, reg := newTestImporter(t)

	content := `
- name: "My Company Server!"
  endpoint: https://company.example.com/mcp
- name: "!!!"
  endpoint: https://junk.example.com/mcp
`
	result, err := importer.Import([]byte(content), &ImportOptions{FormatHint: FormatYAML})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Summary.Created)
	assert.Equal(t, 1, result.Summary.Failed)

	_, err = reg.FindByName("My_Company_Server")
	assert.NoError(t, err)

	found := false
	for _, warning := range result.Warnings {
		if strings.Contains(warning, "renamed") {
			found = true
			break
		}
	}
	assert.True(t, found, "renaming produces a warning")
}

func TestImporter_DisabledSourceServersAreSkipped(t *testing.T) {
	importer, reg := newTestImporter(t)

	content := `
[mcp_servers.muted]
url = "https://muted.example.com/mcp"
enabled = false
`
	result, err := importer.Import([]byte(content), &ImportOptions{FormatHint: FormatCodex})
	require.NoError(t, err)

	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "disabled_in_source", result.Skipped[0].Reason)

	_, err = reg.FindByName("muted")
	assert.True(t, registry.IsNotFound(err))
}

func TestImporter_BadEndpointFailsThatServerOnly(t *testing.T) {
	importer, reg := newTestImporter(t)

	content := `
- name: good
  endpoint: https://good.example.com/mcp
- name: bad
  endpoint: ftp://bad.example.com/mcp
`
	result, err := importer.Import([]byte(content), &ImportOptions{FormatHint: FormatYAML})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Summary.Created)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "bad", result.Failed[0].Name)
	assert.Contains(t, result.Failed[0].Error, "scheme")

	_, err = reg.FindByName("good")
	assert.NoError(t, err)
}

func TestImporter_ImportFileDetectsByExtension(t *testing.T) {
	importer, reg := newTestImporter(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[mcp_servers.docs]
url = "https://docs.example.com/mcp"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	result, err := importer.ImportFile(path, nil)
	require.NoError(t, err)

	assert.Equal(t, FormatCodex, result.Format)
	assert.Equal(t, 1, result.Summary.Created)

	_, err = reg.FindByName("docs")
	assert.NoError(t, err)
}
