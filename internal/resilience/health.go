package resilience

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name    string                 `json:"name"`
	Status  HealthStatus           `json:"status"`
	Message string                 `json:"message,omitempty"`
	Latency time.Duration          `json:"latency"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthCheck represents a health check function.
type HealthCheck func(ctx context.Context) ComponentHealth

// SystemHealth represents overall system health.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Uptime     string            `json:"uptime"`
	Goroutines int               `json:"goroutines"`
	Components []ComponentHealth `json:"components"`
}

// HealthMonitor runs registered component checks on demand.
type HealthMonitor struct {
	mu         sync.RWMutex
	startTime  time.Time
	components map[string]HealthCheck
	timeout    time.Duration
}

// NewHealthMonitor creates a health monitor whose checks share timeout.
func NewHealthMonitor(timeout time.Duration) *HealthMonitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthMonitor{
		startTime:  time.Now(),
		components: make(map[string]HealthCheck),
		timeout:    timeout,
	}
}

// RegisterComponent registers a health check for a component.
func (m *HealthMonitor) RegisterComponent(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = check
}

// Check runs every component check concurrently and aggregates the result.
// A check that panics is reported unhealthy.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.components))
	for k, v := range m.components {
		checks[k] = v
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	p := pool.NewWithResults[ComponentHealth]()
	for name, check := range checks {
		name, check := name, check
		p.Go(func() (health ComponentHealth) {
			defer func() {
				if r := recover(); r != nil {
					health = ComponentHealth{
						Name:    name,
						Status:  HealthStatusUnhealthy,
						Message: fmt.Sprintf("check panicked: %v", r),
					}
				}
			}()
			start := time.Now()
			health = check(ctx)
			health.Name = name
			if health.Latency == 0 {
				health.Latency = time.Since(start)
			}
			return health
		})
	}
	components := p.Wait()
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	overall := HealthStatusHealthy
	for _, c := range components {
		switch c.Status {
		case HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if overall == HealthStatusHealthy {
				overall = HealthStatusDegraded
			}
		}
	}

	return SystemHealth{
		Status:     overall,
		Uptime:     time.Since(m.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		Components: components,
	}
}

// DatabaseHealthCheck creates a health check for database connections.
func DatabaseHealthCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		var health ComponentHealth

		start := time.Now()
		err := ping(ctx)
		health.Latency = time.Since(start)

		if err != nil {
			health.Status = HealthStatusUnhealthy
			health.Message = fmt.Sprintf("ping failed: %v", err)
			return health
		}

		if health.Latency > 100*time.Millisecond {
			health.Status = HealthStatusDegraded
			health.Message = fmt.Sprintf("slow: %v", health.Latency)
			return health
		}

		health.Status = HealthStatusHealthy
		return health
	}
}

// BreakerHealthCheck reports an open circuit as degraded; alerts for the
// affected source are skipped until it recovers.
func BreakerHealthCheck(breakers ...*CircuitBreaker) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		health := ComponentHealth{
			Status:  HealthStatusHealthy,
			Details: make(map[string]interface{}, len(breakers)),
		}
		for _, cb := range breakers {
			stats := cb.Stats()
			health.Details[stats.Name] = stats
			if stats.State != CircuitClosed {
				health.Status = HealthStatusDegraded
				health.Message = fmt.Sprintf("%s circuit %s", stats.Name, stats.State)
			}
		}
		return health
	}
}

// StatsHealthCheck reports a counter snapshot, such as push connection
// metrics, as always-healthy detail.
func StatsHealthCheck(key string, stats func() interface{}) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		return ComponentHealth{
			Status:  HealthStatusHealthy,
			Details: map[string]interface{}{key: stats()},
		}
	}
}
