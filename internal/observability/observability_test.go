package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func gatheredNames(t *testing.T, mm *MetricsManager) map[string]bool {
	families, err := mm.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	return names
}

func TestMetricsManager_RegistersCoreMetrics(t *testing.T) {
	mm := NewMetricsManager(zap.NewNop().Sugar())

	mm.SetUptime(time.Now().Add(-time.Minute))
	mm.SetServerStats(map[string]int{"Connected": 2, "Disconnected": 1})
	mm.SetToolStats(10, 7)
	mm.SetIndexSize(10)
	mm.RecordDiscovery("success", 1200*time.Millisecond)
	mm.RecordDiscovery("failed", 300*time.Millisecond)
	mm.RecordStateTransition("FetchingTools", "Connected")
	mm.RecordAuthFlow("begun")
	mm.RecordToolToggle("disable", 3)
	mm.RecordEvent("servers.changed")

	names := gatheredNames(t, mm)
	for _, want := range []string{
		"mcpdock_uptime_seconds",
		"mcpdock_servers_total",
		"mcpdock_servers_by_state",
		"mcpdock_tools_total",
		"mcpdock_tools_enabled",
		"mcpdock_index_documents_total",
		"mcpdock_discovery_cycles_total",
		"mcpdock_discovery_duration_seconds",
		"mcpdock_state_transitions_total",
		"mcpdock_auth_flows_total",
		"mcpdock_tool_toggles_total",
		"mcpdock_events_published_total",
	} {
		assert.True(t, names[want], "expected metric family %s", want)
	}
}

func TestMetricsManager_Handler(t *testing.T) {
	mm := NewMetricsManager(zap.NewNop().Sugar())
	mm.SetUptime(time.Now())

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	mm.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mcpdock_uptime_seconds")
}

func TestMetricsManager_HTTPMiddleware(t *testing.T) {
	mm := NewMetricsManager(zap.NewNop().Sugar())

	handler := mm.HTTPMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/servers", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	names := gatheredNames(t, mm)
	assert.True(t, names["mcpdock_http_requests_total"])
	assert.True(t, names["mcpdock_http_request_duration_seconds"])
}

func TestHealthManager_Healthz(t *testing.T) {
	hm := NewHealthManager(zap.NewNop().Sugar())
	hm.AddHealthChecker(NewCheck("storage", func(ctx context.Context) error { return nil }))

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	hm.HealthzHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response.Status)
	require.Len(t, response.Components, 1)
	assert.Equal(t, "storage", response.Components[0].Name)

	assert.True(t, hm.IsHealthy())
}

func TestHealthManager_FailingCheck(t *testing.T) {
	hm := NewHealthManager(zap.NewNop().Sugar())
	hm.AddHealthChecker(NewCheck("storage", func(ctx context.Context) error { return nil }))
	hm.AddHealthChecker(NewCheck("index", func(ctx context.Context) error {
		return fmt.Errorf("index offline")
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	hm.HealthzHandler()(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var response HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "unhealthy", response.Status)
	assert.False(t, hm.IsHealthy())
}

func TestHealthManager_Readyz(t *testing.T) {
	hm := NewHealthManager(zap.NewNop().Sugar())
	hm.AddReadinessChecker(NewCheck("storage", func(ctx context.Context) error {
		return fmt.Errorf("still warming up")
	}))

	req := httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody)
	rec := httptest.NewRecorder()
	hm.ReadyzHandler()(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, hm.IsReady())
}

func TestManager_Defaults(t *testing.T) {
	config := DefaultConfig("mcpdock", "1.0.0")
	assert.True(t, config.Health.Enabled)
	assert.True(t, config.Metrics.Enabled)
	assert.False(t, config.Tracing.Enabled, "tracing is opt-in")

	manager, err := NewManager(zap.NewNop().Sugar(), config)
	require.NoError(t, err)
	require.NotNil(t, manager.Health())
	require.NotNil(t, manager.Metrics())
	assert.Nil(t, manager.Tracing())

	manager.RegisterCheck(NewCheck("storage", func(ctx context.Context) error { return nil }))
	assert.True(t, manager.IsHealthy())
	assert.True(t, manager.IsReady())

	// The middleware chain stays transparent to handlers.
	handler := manager.HTTPMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	require.NoError(t, manager.Close(context.Background()))
}
