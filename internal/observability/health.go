package observability

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy HealthStatus = "healthy"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a health check function.
type HealthCheck func(ctx context.Context) error

// ComponentHealth represents the health status of a single component.
type ComponentHealth struct {
	Status  HealthStatus `json:"status"`
	Error   string       `json:"error,omitempty"`
	Latency string       `json:"latency,omitempty"`
}

// HealthResponse represents the overall health check response.
type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

// ReadinessResponse represents the readiness check response.
type ReadinessResponse struct {
	Ready      bool                       `json:"ready"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

// HealthChecker manages health and readiness checks.
type HealthChecker struct {
	mu              sync.RWMutex
	healthChecks    map[string]HealthCheck
	readinessChecks map[string]HealthCheck
	version         string
	timeout         time.Duration
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		healthChecks:    make(map[string]HealthCheck),
		readinessChecks: make(map[string]HealthCheck),
		version:         version,
		timeout:         5 * time.Second,
	}
}

// RegisterHealthCheck registers a liveness-style health check for a component.
func (hc *HealthChecker) RegisterHealthCheck(name string, check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.healthChecks[name] = check
}

// RegisterReadinessCheck registers a readiness check for a component.
func (hc *HealthChecker) RegisterReadinessCheck(name string, check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.readinessChecks[name] = check
}

// SetTimeout sets the timeout for health checks.
func (hc *HealthChecker) SetTimeout(timeout time.Duration) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.timeout = timeout
}

// CheckHealth performs all health checks and returns the health status.
func (hc *HealthChecker) CheckHealth(ctx context.Context) *HealthResponse {
	components := hc.run(ctx, hc.snapshot(hc.healthChecks))

	overall := StatusHealthy
	for _, component := range components {
		if component.Status == StatusUnhealthy {
			overall = StatusUnhealthy
			break
		}
	}

	return &HealthResponse{
		Status:     overall,
		Timestamp:  time.Now(),
		Version:    hc.version,
		Components: components,
	}
}

// CheckReadiness performs all readiness checks and returns the readiness status.
func (hc *HealthChecker) CheckReadiness(ctx context.Context) *ReadinessResponse {
	components := hc.run(ctx, hc.snapshot(hc.readinessChecks))

	ready := true
	for _, component := range components {
		if component.Status != StatusHealthy {
			ready = false
			break
		}
	}

	return &ReadinessResponse{
		Ready:      ready,
		Timestamp:  time.Now(),
		Components: components,
	}
}

func (hc *HealthChecker) snapshot(src map[string]HealthCheck) map[string]HealthCheck {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	checks := make(map[string]HealthCheck, len(src))
	for name, check := range src {
		checks[name] = check
	}
	return checks
}

// run executes checks concurrently under the configured timeout.
func (hc *HealthChecker) run(ctx context.Context, checks map[string]HealthCheck) map[string]ComponentHealth {
	hc.mu.RLock()
	timeout := hc.timeout
	hc.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	components := make(map[string]ComponentHealth, len(checks))

	// Checks never return an error to the group so one failure does not
	// cancel its siblings.
	var g errgroup.Group
	for name, check := range checks {
		g.Go(func() error {
			start := time.Now()
			err := check(ctx)

			health := ComponentHealth{Status: StatusHealthy, Latency: time.Since(start).String()}
			if err != nil {
				health.Status = StatusUnhealthy
				health.Error = err.Error()
				if ctx.Err() != nil {
					health.Error = "check timed out"
				}
			}

			mu.Lock()
			components[name] = health
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return components
}
