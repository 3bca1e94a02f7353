package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsManager manages Prometheus metrics
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	// Core metrics
	uptime         prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	serversTotal   prometheus.Gauge
	serversByState *prometheus.GaugeVec
	toolsTotal     prometheus.Gauge
	toolsEnabled   prometheus.Gauge
	indexSize      prometheus.Gauge

	// Lifecycle metrics
	discoveryCycles   *prometheus.CounterVec
	discoveryDuration prometheus.Histogram
	reconcileChanges  *prometheus.CounterVec
	stateTransitions  *prometheus.CounterVec
	authFlows         *prometheus.CounterVec
	toolToggles       *prometheus.CounterVec
	eventsPublished   *prometheus.CounterVec
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	registry := prometheus.NewRegistry()

	mm := &MetricsManager{
		logger:   logger,
		registry: registry,
	}

	mm.initMetrics()
	mm.registerMetrics()

	return mm
}

// initMetrics initializes all Prometheus metrics
func (mm *MetricsManager) initMetrics() {
	// System metrics
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpdock_uptime_seconds",
		Help: "Time since the application started",
	})

	// HTTP metrics
	mm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpdock_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	mm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpdock_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Server metrics
	mm.serversTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpdock_servers_total",
		Help: "Total number of registered servers",
	})

	mm.serversByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mcpdock_servers_by_state",
			Help: "Number of servers per connection state",
		},
		[]string{"state"},
	)

	// Tool metrics
	mm.toolsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpdock_tools_total",
		Help: "Total number of cached tools",
	})

	mm.toolsEnabled = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpdock_tools_enabled",
		Help: "Number of cached tools currently enabled",
	})

	mm.indexSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpdock_index_documents_total",
		Help: "Number of documents in the search index",
	})

	// Discovery metrics
	mm.discoveryCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpdock_discovery_cycles_total",
			Help: "Total number of discovery cycles by outcome",
		},
		[]string{"outcome"}, // outcome: success, auth_required, failed, discarded, rejected
	)

	mm.discoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mcpdock_discovery_duration_seconds",
			Help:    "Time taken to run a discovery cycle",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	mm.reconcileChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpdock_reconcile_changes_total",
			Help: "Tool cache changes applied by reconciliation",
		},
		[]string{"op"}, // op: insert, update, remove
	)

	mm.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpdock_state_transitions_total",
			Help: "Total number of server state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	mm.authFlows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpdock_auth_flows_total",
			Help: "Total number of auth flow events",
		},
		[]string{"outcome"}, // outcome: begun, completed, stale
	)

	mm.toolToggles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpdock_tool_toggles_total",
			Help: "Total number of tools toggled",
		},
		[]string{"action"}, // action: enable, disable, disable_all
	)

	mm.eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpdock_events_published_total",
			Help: "Total number of events published to subscribers",
		},
		[]string{"type"},
	)
}

// registerMetrics registers all metrics with the registry
func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.httpRequests,
		mm.httpDuration,
		mm.serversTotal,
		mm.serversByState,
		mm.toolsTotal,
		mm.toolsEnabled,
		mm.indexSize,
		mm.discoveryCycles,
		mm.discoveryDuration,
		mm.reconcileChanges,
		mm.stateTransitions,
		mm.authFlows,
		mm.toolToggles,
		mm.eventsPublished,
	)

	// Also register Go runtime metrics
	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry for custom metrics
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// Metric update methods

// SetUptime sets the uptime metric
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordHTTPRequest records an HTTP request
func (mm *MetricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	mm.httpRequests.WithLabelValues(method, path, status).Inc()
	mm.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// SetServerStats updates server gauges from a per-state breakdown
func (mm *MetricsManager) SetServerStats(byState map[string]int) {
	total := 0
	mm.serversByState.Reset()
	for stateName, count := range byState {
		mm.serversByState.WithLabelValues(stateName).Set(float64(count))
		total += count
	}
	mm.serversTotal.Set(float64(total))
}

// SetToolStats updates the tool cache gauges
func (mm *MetricsManager) SetToolStats(total, enabled int) {
	mm.toolsTotal.Set(float64(total))
	mm.toolsEnabled.Set(float64(enabled))
}

// SetIndexSize sets the search index size
func (mm *MetricsManager) SetIndexSize(size uint64) {
	mm.indexSize.Set(float64(size))
}

// RecordDiscovery records a finished discovery cycle
func (mm *MetricsManager) RecordDiscovery(outcome string, duration time.Duration) {
	mm.discoveryCycles.WithLabelValues(outcome).Inc()
	mm.discoveryDuration.Observe(duration.Seconds())
}

// RecordReconcile counts the changes one reconciliation applied
func (mm *MetricsManager) RecordReconcile(inserted, updated, removed int) {
	if inserted > 0 {
		mm.reconcileChanges.WithLabelValues("insert").Add(float64(inserted))
	}
	if updated > 0 {
		mm.reconcileChanges.WithLabelValues("update").Add(float64(updated))
	}
	if removed > 0 {
		mm.reconcileChanges.WithLabelValues("remove").Add(float64(removed))
	}
}

// RecordStateTransition records a server state transition
func (mm *MetricsManager) RecordStateTransition(fromState, toState string) {
	mm.stateTransitions.WithLabelValues(fromState, toState).Inc()
}

// RecordAuthFlow records an auth flow event
func (mm *MetricsManager) RecordAuthFlow(outcome string) {
	mm.authFlows.WithLabelValues(outcome).Inc()
}

// RecordToolToggle records toggled tools
func (mm *MetricsManager) RecordToolToggle(action string, count int) {
	mm.toolToggles.WithLabelValues(action).Add(float64(count))
}

// RecordEvent records a published event
func (mm *MetricsManager) RecordEvent(eventType string) {
	mm.eventsPublished.WithLabelValues(eventType).Inc()
}

// HTTPMiddleware returns middleware that records HTTP metrics
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap the response writer to capture status code
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			mm.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(ww.statusCode), duration)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
