package seed

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpdock-go/internal/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	logger := zap.NewNop()

	db, err := registry.NewBoltDB(t.TempDir(), logger.Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg, err := registry.NewRegistry(db, logger.Sugar())
	require.NoError(t, err)

	return reg
}

func writeSeedFile(t *testing.T, path string, file File) {
	t.Helper()
	content, err := json.Marshal(file)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func TestSync_CreatesDeclaredServers(t *testing.T) {
	reg := newTestRegistry(t)
	path := filepath.Join(t.TempDir(), "servers_seed.json")

	writeSeedFile(t, path, File{Servers: []Server{
		{
			Name:     "files-east",
			Endpoint: "https://files-east.internal/mcp",
			Auth:     registry.AuthKindOAuth,
		},
		{
			Name:        "search",
			Description: "Shared search tools",
			Endpoint:    "https://search.internal/mcp",
			Headers:     map[string]string{"X-Team": "platform"},
		},
	}})

	w := NewWatcher(reg, path, zap.NewNop())
	created, updated, err := w.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Zero(t, updated)

	record, err := reg.FindByName("files-east")
	require.NoError(t, err)
	assert.Equal(t, registry.AuthKindOAuth, record.AuthKind)

	record, err = reg.FindByName("search")
	require.NoError(t, err)
	assert.Equal(t, "Shared search tools", record.Description)
	assert.Equal(t, "platform", record.Headers["X-Team"])
}

func TestSync_UpdatesChangedAndSkipsUnchanged(t *testing.T) {
	reg := newTestRegistry(t)
	path := filepath.Join(t.TempDir(), "servers_seed.json")

	file := File{Servers: []Server{{
		Name:     "files",
		Endpoint: "https://files.internal/mcp",
	}}}
	writeSeedFile(t, path, file)

	w := NewWatcher(reg, path, zap.NewNop())
	created, updated, err := w.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Zero(t, updated)

	// Same content again is a no-op.
	created, updated, err = w.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Zero(t, updated)

	file.Servers[0].Endpoint = "https://files-v2.internal/mcp"
	writeSeedFile(t, path, file)

	created, updated, err = w.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Equal(t, 1, updated)

	record, err := reg.FindByName("files")
	require.NoError(t, err)
	assert.Equal(t, "https://files-v2.internal/mcp", record.Endpoint)
}

func TestSync_DeclaredFieldsAreAuthoritative(t *testing.T) {
	reg := newTestRegistry(t)
	path := filepath.Join(t.TempDir(), "servers_seed.json")

	_, err := reg.Create(registry.CreateRequest{
		Name:        "files",
		Description: "Hand-registered",
		Endpoint:    "https://files.internal/mcp",
		AuthKind:    registry.AuthKindOAuth,
		Headers:     map[string]string{"X-Legacy": "1"},
	})
	require.NoError(t, err)

	// The seed entry declares no description, auth, or headers, so syncing
	// clears them.
	writeSeedFile(t, path, File{Servers: []Server{{
		Name:     "files",
		Endpoint: "https://files.internal/mcp",
	}}})

	w := NewWatcher(reg, path, zap.NewNop())
	created, updated, err := w.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Equal(t, 1, updated)

	record, err := reg.FindByName("files")
	require.NoError(t, err)
	assert.Empty(t, record.Description)
	assert.Equal(t, registry.AuthKindNone, record.AuthKind)
	assert.Empty(t, record.Headers)
}

func TestSync_NeverDeletes(t *testing.T) {
	reg := newTestRegistry(t)
	path := filepath.Join(t.TempDir(), "servers_seed.json")

	_, err := reg.Create(registry.CreateRequest{
		Name:     "hand-registered",
		Endpoint: "https://manual.internal/mcp",
	})
	require.NoError(t, err)

	writeSeedFile(t, path, File{Servers: []Server{{
		Name:     "seeded",
		Endpoint: "https://seeded.internal/mcp",
	}}})

	w := NewWatcher(reg, path, zap.NewNop())
	created, _, err := w.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	_, err = reg.FindByName("hand-registered")
	assert.NoError(t, err, "servers absent from the seed file must survive")
}

func TestSync_BadEntryDoesNotAbortTheRest(t *testing.T) {
	reg := newTestRegistry(t)
	path := filepath.Join(t.TempDir(), "servers_seed.json")

	writeSeedFile(t, path, File{Servers: []Server{
		{Name: "broken", Endpoint: "ftp://nope"},
		{Name: "", Endpoint: "https://anonymous.internal/mcp"},
		{Name: "good", Endpoint: "https://good.internal/mcp"},
	}})

	w := NewWatcher(reg, path, zap.NewNop())
	created, updated, err := w.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Zero(t, updated)

	_, err = reg.FindByName("good")
	assert.NoError(t, err)
	_, err = reg.FindByName("broken")
	assert.True(t, registry.IsNotFound(err))
}

func TestSync_MissingFileIsNoop(t *testing.T) {
	reg := newTestRegistry(t)
	path := filepath.Join(t.TempDir(), "servers_seed.json")

	w := NewWatcher(reg, path, zap.NewNop())
	created, updated, err := w.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Zero(t, updated)
}

func TestSync_MalformedFileErrors(t *testing.T) {
	reg := newTestRegistry(t)
	path := filepath.Join(t.TempDir(), "servers_seed.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	w := NewWatcher(reg, path, zap.NewNop())
	_, _, err := w.Sync(context.Background())
	assert.ErrorContains(t, err, "parse seed file")
}

func TestSync_NotifiesOnlyOnChange(t *testing.T) {
	reg := newTestRegistry(t)
	path := filepath.Join(t.TempDir(), "servers_seed.json")

	writeSeedFile(t, path, File{Servers: []Server{{
		Name:     "files",
		Endpoint: "https://files.internal/mcp",
	}}})

	var calls int
	w := NewWatcher(reg, path, zap.NewNop())
	w.SetNotify(func(created, updated int) {
		calls++
		assert.Equal(t, 1, created)
		assert.Zero(t, updated)
	})

	_, _, err := w.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// Unchanged sync stays silent.
	_, _, err = w.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRun_AppliesFileChanges(t *testing.T) {
	reg := newTestRegistry(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "servers_seed.json")

	writeSeedFile(t, path, File{Servers: []Server{{
		Name:     "files",
		Endpoint: "https://files.internal/mcp",
	}}})

	w := NewWatcher(reg, path, zap.NewNop())
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// The initial sync applies the file that was already there.
	require.Eventually(t, func() bool {
		_, err := reg.FindByName("files")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	// Give the directory watch time to arm before rewriting the file.
	time.Sleep(100 * time.Millisecond)

	writeSeedFile(t, path, File{Servers: []Server{{
		Name:     "files",
		Endpoint: "https://files-v2.internal/mcp",
	}}})

	require.Eventually(t, func() bool {
		record, err := reg.FindByName("files")
		return err == nil && record.Endpoint == "https://files-v2.internal/mcp"
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}
