// Package observability provides health checks, metrics, and tracing
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthChecker reports whether a component is healthy
type HealthChecker interface {
	// HealthCheck returns nil if healthy, error if unhealthy
	HealthCheck(ctx context.Context) error
	// Name returns the name of the component being checked
	Name() string
}

// ReadinessChecker reports whether a component is ready to serve
type ReadinessChecker interface {
	// ReadinessCheck returns nil if ready, error if not ready
	ReadinessCheck(ctx context.Context) error
	// Name returns the name of the component being checked
	Name() string
}

// ComponentStatus is the check result for one component
type ComponentStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthResponse is the overall health or readiness response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentStatus `json:"components"`
}

// HealthManager runs registered health and readiness checks
type HealthManager struct {
	logger            *zap.SugaredLogger
	healthCheckers    []HealthChecker
	readinessCheckers []ReadinessChecker
	timeout           time.Duration
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger *zap.SugaredLogger) *HealthManager {
	return &HealthManager{
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// AddHealthChecker registers a health checker
func (hm *HealthManager) AddHealthChecker(checker HealthChecker) {
	hm.healthCheckers = append(hm.healthCheckers, checker)
}

// AddReadinessChecker registers a readiness checker
func (hm *HealthManager) AddReadinessChecker(checker ReadinessChecker) {
	hm.readinessCheckers = append(hm.readinessCheckers, checker)
}

// SetTimeout sets the timeout for health checks
func (hm *HealthManager) SetTimeout(timeout time.Duration) {
	hm.timeout = timeout
}

// HealthzHandler returns an HTTP handler for the /healthz endpoint
func (hm *HealthManager) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), hm.timeout)
		defer cancel()

		response := hm.checkHealth(ctx)
		statusCode := http.StatusOK
		if response.Status != "healthy" {
			statusCode = http.StatusServiceUnavailable
		}
		hm.writeJSON(w, statusCode, response)
	}
}

// ReadyzHandler returns an HTTP handler for the /readyz endpoint
func (hm *HealthManager) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), hm.timeout)
		defer cancel()

		response := hm.checkReadiness(ctx)
		statusCode := http.StatusOK
		if response.Status != "ready" {
			statusCode = http.StatusServiceUnavailable
		}
		hm.writeJSON(w, statusCode, response)
	}
}

func (hm *HealthManager) checkHealth(ctx context.Context) HealthResponse {
	response := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Components: make([]ComponentStatus, 0, len(hm.healthCheckers)),
	}

	for _, checker := range hm.healthCheckers {
		start := time.Now()
		status := ComponentStatus{Name: checker.Name(), Status: "healthy"}

		if err := checker.HealthCheck(ctx); err != nil {
			status.Status = "unhealthy"
			status.Error = err.Error()
			response.Status = "unhealthy"
			hm.logger.Warnw("Health check failed",
				"component", checker.Name(),
				"error", err)
		}

		status.Latency = time.Since(start).String()
		response.Components = append(response.Components, status)
	}

	return response
}

func (hm *HealthManager) checkReadiness(ctx context.Context) HealthResponse {
	response := HealthResponse{
		Status:     "ready",
		Timestamp:  time.Now(),
		Components: make([]ComponentStatus, 0, len(hm.readinessCheckers)),
	}

	for _, checker := range hm.readinessCheckers {
		start := time.Now()
		status := ComponentStatus{Name: checker.Name(), Status: "ready"}

		if err := checker.ReadinessCheck(ctx); err != nil {
			status.Status = "not_ready"
			status.Error = err.Error()
			response.Status = "not_ready"
			hm.logger.Warnw("Readiness check failed",
				"component", checker.Name(),
				"error", err)
		}

		status.Latency = time.Since(start).String()
		response.Components = append(response.Components, status)
	}

	return response
}

func (hm *HealthManager) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		hm.logger.Errorw("Failed to encode health response", "error", err)
	}
}

// IsHealthy returns true if all health checks pass
func (hm *HealthManager) IsHealthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), hm.timeout)
	defer cancel()
	return hm.checkHealth(ctx).Status == "healthy"
}

// IsReady returns true if all readiness checks pass
func (hm *HealthManager) IsReady() bool {
	ctx, cancel := context.WithTimeout(context.Background(), hm.timeout)
	defer cancel()
	return hm.checkReadiness(ctx).Status == "ready"
}

// Check adapts a plain function to both checker interfaces. The storage and
// index probes are registered this way.
type Check struct {
	name string
	fn   func(ctx context.Context) error
}

// NewCheck creates a named check from a function
func NewCheck(name string, fn func(ctx context.Context) error) *Check {
	return &Check{name: name, fn: fn}
}

// Name returns the name of the check
func (c *Check) Name() string {
	return c.name
}

// HealthCheck runs the check
func (c *Check) HealthCheck(ctx context.Context) error {
	if c.fn == nil {
		return fmt.Errorf("check function is nil")
	}
	return c.fn(ctx)
}

// ReadinessCheck runs the check
func (c *Check) ReadinessCheck(ctx context.Context) error {
	return c.HealthCheck(ctx)
}

var (
	_ HealthChecker    = (*Check)(nil)
	_ ReadinessChecker = (*Check)(nil)
)
