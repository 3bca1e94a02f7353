package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpdock-go/internal/registry"
	"mcpdock-go/internal/state"
)

// remoteFunc adapts a function to the Remote interface for scripted tests.
type remoteFunc func(ctx context.Context, server *registry.ServerRecord) (*Result, error)

func (f remoteFunc) ListTools(ctx context.Context, server *registry.ServerRecord) (*Result, error) {
	return f(ctx, server)
}

// blockingRemote parks ListTools until the test releases it, so tests can
// observe and interfere with an in-flight cycle.
type blockingRemote struct {
	started   chan struct{}
	release   chan struct{}
	honourCtx bool
	result    *Result
	err       error
}

func (r *blockingRemote) ListTools(ctx context.Context, server *registry.ServerRecord) (*Result, error) {
	close(r.started)
	if r.honourCtx {
		select {
		case <-r.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		<-r.release
	}
	return r.result, r.err
}

func toolResult(transport string, names ...string) *Result {
	res := &Result{Transport: transport}
	for _, name := range names {
		res.Tools = append(res.Tools, RemoteTool{
			Name:        name,
			Description: "tool " + name,
			ParamsJSON:  `{"type":"object"}`,
		})
	}
	return res
}

func setupTestEngine(t *testing.T, remote Remote) (*Engine, *registry.Registry, func()) {
	tmpDir, err := os.MkdirTemp("", "engine_test_*")
	require.NoError(t, err)

	logger := zap.NewNop()
	db, err := registry.NewBoltDB(tmpDir, logger.Sugar())
	require.NoError(t, err)

	reg, err := registry.NewRegistry(db, logger.Sugar())
	require.NoError(t, err)

	eng := NewEngine(reg, remote, logger)

	cleanup := func() {
		reg.Close()
		os.RemoveAll(tmpDir)
	}
	return eng, reg, cleanup
}

func createTestServer(t *testing.T, reg *registry.Registry, name string) *registry.ServerRecord {
	srv, err := reg.Create(registry.CreateRequest{
		Name:     name,
		Endpoint: fmt.Sprintf("https://%s.example/mcp", name),
	})
	require.NoError(t, err)
	return srv
}

func TestDiscover_Success(t *testing.T) {
	remote := remoteFunc(func(ctx context.Context, server *registry.ServerRecord) (*Result, error) {
		return toolResult(TransportStreamableHTTP, "read_file", "write_file"), nil
	})
	eng, reg, cleanup := setupTestEngine(t, remote)
	defer cleanup()

	srv := createTestServer(t, reg, "files")

	summary, err := eng.Discover(context.Background(), srv.ID)
	require.NoError(t, err)
	assert.Len(t, summary.Inserted, 2)
	assert.Empty(t, summary.Updated)
	assert.Empty(t, summary.RemovedIDs)

	got, err := reg.Get(srv.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StateConnected, got.State)
	assert.Equal(t, TransportStreamableHTTP, got.Transport)
	assert.Empty(t, got.LastError)

	tools, err := reg.ListServerTools(srv.ID)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	for _, tool := range tools {
		assert.True(t, tool.Enabled)
	}
}

func TestDiscover_FailureLeavesCacheUntouched(t *testing.T) {
	var fail bool
	remote := remoteFunc(func(ctx context.Context, server *registry.ServerRecord) (*Result, error) {
		if fail {
			return nil, errors.New("dial tcp: connection refused")
		}
		return toolResult(TransportStreamableHTTP, "read_file", "write_file"), nil
	})
	eng, reg, cleanup := setupTestEngine(t, remote)
	defer cleanup()

	srv := createTestServer(t, reg, "files")

	_, err := eng.Discover(context.Background(), srv.ID)
	require.NoError(t, err)

	fail = true
	_, err = eng.Discover(context.Background(), srv.ID)
	var connErr *ConnectionFailedError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, srv.ID, connErr.ServerID)

	got, err := reg.Get(srv.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StateDisconnected, got.State)
	assert.Contains(t, got.LastError, "connection refused")

	// The failed cycle must not disturb the previously discovered tools.
	tools, err := reg.ListServerTools(srv.ID)
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	// The failure is retryable: the next cycle may succeed again.
	fail = false
	_, err = eng.Discover(context.Background(), srv.ID)
	require.NoError(t, err)

	got, err = reg.Get(srv.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StateConnected, got.State)
	assert.Empty(t, got.LastError)
}

func TestDiscover_AuthRequired(t *testing.T) {
	remote := remoteFunc(func(ctx context.Context, server *registry.ServerRecord) (*Result, error) {
		return nil, fmt.Errorf("streamable-http: %w", ErrAuthRequired)
	})
	eng, reg, cleanup := setupTestEngine(t, remote)
	defer cleanup()

	srv := createTestServer(t, reg, "files")

	_, err := eng.Discover(context.Background(), srv.ID)
	require.ErrorIs(t, err, ErrAuthRequired)

	got, err := reg.Get(srv.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StateAwaitingAuth, got.State)

	count, err := reg.CountServerTools(srv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDiscover_ServerNotFound(t *testing.T) {
	remote := remoteFunc(func(ctx context.Context, server *registry.ServerRecord) (*Result, error) {
		t.Fatal("remote must not be queried for an unknown server")
		return nil, nil
	})
	eng, _, cleanup := setupTestEngine(t, remote)
	defer cleanup()

	_, err := eng.Discover(context.Background(), "no-such-server")
	assert.True(t, registry.IsNotFound(err))
}

func TestDiscover_SecondCallRejectedWhileInFlight(t *testing.T) {
	remote := &blockingRemote{
		started: make(chan struct{}),
		release: make(chan struct{}),
		result:  toolResult(TransportSSE, "search"),
	}
	eng, reg, cleanup := setupTestEngine(t, remote)
	defer cleanup()

	srv := createTestServer(t, reg, "files")

	errCh := make(chan error, 1)
	go func() {
		_, err := eng.Discover(context.Background(), srv.ID)
		errCh <- err
	}()
	<-remote.started

	assert.True(t, eng.InFlight(srv.ID))

	_, err := eng.Discover(context.Background(), srv.ID)
	var busyErr *registry.AlreadyInProgressError
	require.ErrorAs(t, err, &busyErr)
	assert.Equal(t, srv.ID, busyErr.ServerID)

	close(remote.release)
	require.NoError(t, <-errCh)
	assert.False(t, eng.InFlight(srv.ID))

	got, err := reg.Get(srv.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StateConnected, got.State)
	assert.Equal(t, TransportSSE, got.Transport)
}

func TestDiscover_CancelDiscardsLateSuccess(t *testing.T) {
	// The remote ignores cancellation and eventually hands back a full
	// result; the engine must still throw it away.
	remote := &blockingRemote{
		started: make(chan struct{}),
		release: make(chan struct{}),
		result:  toolResult(TransportStreamableHTTP, "read_file"),
	}
	eng, reg, cleanup := setupTestEngine(t, remote)
	defer cleanup()

	srv := createTestServer(t, reg, "files")

	errCh := make(chan error, 1)
	go func() {
		_, err := eng.Discover(context.Background(), srv.ID)
		errCh <- err
	}()
	<-remote.started

	assert.True(t, eng.Cancel(srv.ID))
	assert.False(t, eng.InFlight(srv.ID), "a cancelled cycle no longer counts as busy")
	assert.False(t, eng.Cancel(srv.ID), "second cancel is a no-op")

	close(remote.release)
	require.ErrorIs(t, <-errCh, registry.ErrDiscoveryDiscarded)

	count, err := reg.CountServerTools(srv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "discarded result must not reach the tool cache")

	assert.False(t, eng.Cancel(srv.ID), "nothing left to cancel once the cycle drained")
}

func TestDiscover_CancelDiscardsFailure(t *testing.T) {
	remote := &blockingRemote{
		started:   make(chan struct{}),
		release:   make(chan struct{}),
		honourCtx: true,
	}
	eng, reg, cleanup := setupTestEngine(t, remote)
	defer cleanup()

	srv := createTestServer(t, reg, "files")

	errCh := make(chan error, 1)
	go func() {
		_, err := eng.Discover(context.Background(), srv.ID)
		errCh <- err
	}()
	<-remote.started

	require.True(t, eng.Cancel(srv.ID))

	// The remote honours the context, so the cycle drains with ctx.Canceled,
	// which must surface as a discard rather than a connection failure.
	err := <-errCh
	require.ErrorIs(t, err, registry.ErrDiscoveryDiscarded)

	var connErr *ConnectionFailedError
	assert.False(t, errors.As(err, &connErr))
}

func TestDiscover_RemoveConflictsUntilCancelled(t *testing.T) {
	remote := &blockingRemote{
		started: make(chan struct{}),
		release: make(chan struct{}),
		result:  toolResult(TransportStreamableHTTP, "read_file"),
	}
	eng, reg, cleanup := setupTestEngine(t, remote)
	defer cleanup()

	srv := createTestServer(t, reg, "files")

	errCh := make(chan error, 1)
	go func() {
		_, err := eng.Discover(context.Background(), srv.ID)
		errCh <- err
	}()
	<-remote.started

	// Removal is refused while the cycle is live.
	_, err := reg.Remove(srv.ID)
	var conflictErr *registry.ConflictError
	require.ErrorAs(t, err, &conflictErr)

	// After a cancel the server can be removed even though the cycle has
	// not drained yet; the late result is discarded against the gone row.
	require.True(t, eng.Cancel(srv.ID))
	_, err = reg.Remove(srv.ID)
	require.NoError(t, err)

	close(remote.release)
	require.ErrorIs(t, <-errCh, registry.ErrDiscoveryDiscarded)
}
