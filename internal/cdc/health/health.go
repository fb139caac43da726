// Package health provides health check functionality for reader workers.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/janovincze/iris/internal/cdc/slots"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component is degraded but functional.
	StatusDegraded Status = "degraded"
	// StatusUnknown indicates the health status is unknown.
	StatusUnknown Status = "unknown"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	// Name is the name of the component.
	Name string `json:"name"`

	// Status is the health status.
	Status Status `json:"status"`

	// Message provides additional details.
	Message string `json:"message,omitempty"`

	// Duration is how long the check took.
	Duration time.Duration `json:"duration_ms"`

	// LastCheck is when the check was last performed.
	LastCheck time.Time `json:"last_check"`

	// Error is the error message if the check failed.
	Error string `json:"error,omitempty"`
}

// Checker defines the interface for health check providers.
type Checker interface {
	// Check performs the health check.
	Check(ctx context.Context) CheckResult

	// Name returns the name of the component.
	Name() string
}

// Manager runs health checks for the worker's components.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	results  map[string]CheckResult
	logger   *slog.Logger
	timeout  time.Duration
}

// ManagerConfig holds configuration for the health manager.
type ManagerConfig struct {
	// Timeout is the timeout for individual health checks.
	Timeout time.Duration
}

// DefaultManagerConfig returns a ManagerConfig with sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Timeout: 5 * time.Second,
	}
}

// NewManager creates a new health manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		results: make(map[string]CheckResult),
		logger:  logger.With("component", "health-manager"),
		timeout: cfg.Timeout,
	}
}

// Register adds a health checker to the manager.
func (m *Manager) Register(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
	m.logger.Debug("registered health checker", "name", checker.Name())
}

// CheckAll performs health checks on all registered components.
func (m *Manager) CheckAll(ctx context.Context) map[string]CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make(map[string]CheckResult)

	for _, checker := range m.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
		result := checker.Check(checkCtx)
		cancel()

		results[checker.Name()] = result
		m.results[checker.Name()] = result
	}

	return results
}

// IsReady reports whether the worker can take on new partitions. Degraded
// components still count as ready.
func (m *Manager) IsReady(ctx context.Context) bool {
	for _, result := range m.CheckAll(ctx) {
		if result.Status != StatusHealthy && result.Status != StatusDegraded {
			return false
		}
	}
	return true
}

// OverallStatus is the aggregate health of all components.
type OverallStatus struct {
	// Status is the overall status.
	Status Status `json:"status"`

	// Components contains individual component results.
	Components map[string]CheckResult `json:"components"`

	// Timestamp is when the status was computed.
	Timestamp time.Time `json:"timestamp"`
}

// GetOverallStatus returns the aggregate health status.
func (m *Manager) GetOverallStatus(ctx context.Context) OverallStatus {
	results := m.CheckAll(ctx)

	overall := OverallStatus{
		Status:     StatusHealthy,
		Components: results,
		Timestamp:  time.Now(),
	}

	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			overall.Status = StatusUnhealthy
			return overall
		case StatusDegraded:
			if overall.Status == StatusHealthy {
				overall.Status = StatusDegraded
			}
		case StatusUnknown:
			if overall.Status == StatusHealthy {
				overall.Status = StatusUnknown
			}
		}
	}

	return overall
}

// DatabaseChecker checks connectivity to a backing database.
type DatabaseChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewDatabaseChecker creates a new database health checker.
func NewDatabaseChecker(name string, ping func(ctx context.Context) error) *DatabaseChecker {
	return &DatabaseChecker{name: name, ping: ping}
}

// Name returns the name of the component.
func (c *DatabaseChecker) Name() string {
	return c.name
}

// Check performs the health check.
func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.name,
		LastCheck: start,
	}

	err := c.ping(ctx)
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "database connection failed"
	} else {
		result.Status = StatusHealthy
		result.Message = "database connection successful"
	}

	return result
}

// SlotPoolChecker reports the saturation of the shared execution slot pool.
// A saturated pool is degraded, not unhealthy: running partitions are fine,
// the worker just cannot admit new ones.
type SlotPoolChecker struct {
	pool *slots.Pool
}

// NewSlotPoolChecker creates a health checker for the execution slot pool.
func NewSlotPoolChecker(pool *slots.Pool) *SlotPoolChecker {
	return &SlotPoolChecker{pool: pool}
}

// Name returns the name of the component.
func (c *SlotPoolChecker) Name() string {
	return "slot-pool"
}

// Check performs the health check.
func (c *SlotPoolChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	inUse, size := c.pool.InUse(), c.pool.Size()

	result := CheckResult{
		Name:      c.Name(),
		LastCheck: start,
		Duration:  time.Since(start),
	}

	if inUse >= size {
		result.Status = StatusDegraded
		result.Message = "all execution slots in use"
	} else {
		result.Status = StatusHealthy
		result.Message = "execution slots available"
	}

	return result
}

// Ensure interfaces are implemented.
var (
	_ Checker = (*DatabaseChecker)(nil)
	_ Checker = (*SlotPoolChecker)(nil)
)
