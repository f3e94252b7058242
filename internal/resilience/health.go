package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck probes one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

type CheckResult struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type HealthReport struct {
	Status    HealthStatus           `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// HealthAggregator runs registered checks concurrently and folds them into a
// single status.
type HealthAggregator struct {
	mu      sync.RWMutex
	names   []string
	checks  map[string]HealthCheck
	timeout time.Duration
}

func NewHealthAggregator(timeout time.Duration) *HealthAggregator {
	return &HealthAggregator{
		checks:  make(map[string]HealthCheck),
		timeout: timeout,
	}
}

// Register adds or replaces a named check.
func (h *HealthAggregator) Register(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.checks[name]; !ok {
		h.names = append(h.names, name)
	}
	h.checks[name] = check
}

// Check runs every check and reports healthy when all pass, degraded when
// some pass and unhealthy when none do. With no checks registered the
// aggregate is healthy.
func (h *HealthAggregator) Check(ctx context.Context) HealthReport {
	h.mu.RLock()
	names := append([]string(nil), h.names...)
	checks := make([]HealthCheck, len(names))
	for i, name := range names {
		checks[i] = h.checks[name]
	}
	h.mu.RUnlock()

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	results := make([]CheckResult, len(names))
	var g errgroup.Group
	for i := range checks {
		i := i
		g.Go(func() error {
			if err := checks[i](ctx); err != nil {
				results[i] = CheckResult{Healthy: false, Error: err.Error()}
				return nil
			}
			results[i] = CheckResult{Healthy: true}
			return nil
		})
	}
	_ = g.Wait()

	report := HealthReport{
		Checks:    make(map[string]CheckResult, len(names)),
		Timestamp: time.Now().UTC(),
	}
	passed := 0
	for i, name := range names {
		report.Checks[name] = results[i]
		if results[i].Healthy {
			passed++
		}
	}

	switch {
	case passed == len(names):
		report.Status = StatusHealthy
	case passed == 0:
		report.Status = StatusUnhealthy
	default:
		report.Status = StatusDegraded
	}
	return report
}
