package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Readiness probes hit real dependencies (database, sandbox), so keep the
// budget short enough for Kubernetes probe defaults.
const healthCheckTimeout = 3 * time.Second

// HealthChecker aggregates readiness across the engine's dependencies.
// Checks are registered once at startup and run on every /readyz request.
type HealthChecker struct {
	checks []HealthCheck
	logger *slog.Logger
}

// HealthCheck is a named dependency probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthStatus is the JSON body served on the health and readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of a single dependency probe.
type CheckResult struct {
	Status  string `json:"status"`            // "ok" or "fail"
	Message string `json:"message,omitempty"` // Error message on failure.
}

func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger}
}

// AddCheck registers a named probe. Not safe to call once the gateway is
// serving requests.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check})
}

// CheckHealth reports liveness. The process answering at all is the signal,
// so this never consults the registered probes.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady runs every registered probe and aggregates the results.
// Probes run concurrently so the timeout bounds the slowest dependency
// rather than the sum of all of them. Any failure degrades the status.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	if len(h.checks) == 0 {
		return HealthStatus{Status: "ok"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult, len(h.checks)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, c := range h.checks {
		wg.Add(1)
		go func(c HealthCheck) {
			defer wg.Done()
			err := c.Check(checkCtx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				status.Status = "degraded"
				status.Checks[c.Name] = CheckResult{Status: "fail", Message: err.Error()}
				if h.logger != nil {
					h.logger.Warn("readiness check failed",
						slog.String("check", c.Name),
						slog.String("error", err.Error()),
					)
				}
				return
			}
			status.Checks[c.Name] = CheckResult{Status: "ok"}
		}(c)
	}
	wg.Wait()

	return status
}
