// Package monitor provides background health monitoring for ready
// desktops. It only observes: a desktop found unreachable is reported, but
// its session stays Ready until a relay fails to connect to it.
package monitor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/audit"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/health"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/registry"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
)

// CheckResult holds the result of a single desktop health check.
type CheckResult struct {
	Key    string        `json:"key"`
	Target target.Target `json:"target"`
	health.CheckResult
}

// Monitor periodically checks the health of all ready desktops.
type Monitor struct {
	interval time.Duration
	registry *registry.Registry
	prober   health.Prober
	auditLog audit.Recorder
	logger   *slog.Logger

	mu      sync.RWMutex
	results map[string]CheckResult
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithAuditLogger records health transitions.
func WithAuditLogger(recorder audit.Recorder) Option {
	return func(m *Monitor) {
		m.auditLog = recorder
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// New creates a new Monitor.
func New(interval time.Duration, reg *registry.Registry, prober health.Prober, opts ...Option) *Monitor {
	m := &Monitor{
		interval: interval,
		registry: reg,
		prober:   prober,
		logger:   slog.Default(),
		results:  make(map[string]CheckResult),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run starts the monitoring loop. It blocks until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Debug("starting health monitor", "interval", m.interval)

	// Run an immediate check, then loop on interval.
	m.checkAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("health monitor stopping")
			return ctx.Err()
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

// checkAll performs health checks on all ready desktops.
func (m *Monitor) checkAll(ctx context.Context) []CheckResult {
	var results []CheckResult
	seen := make(map[string]bool)

	for _, rec := range m.registry.Snapshot() {
		if ctx.Err() != nil {
			break
		}
		if rec.State != registry.StateReady {
			continue
		}
		seen[rec.Key] = true

		result := CheckResult{
			Key:         rec.Key,
			Target:      rec.Target,
			CheckResult: health.Check(ctx, m.prober, rec.Target),
		}
		results = append(results, result)
		m.store(result)
	}

	// Forget desktops that are no longer ready.
	m.mu.Lock()
	for key := range m.results {
		if !seen[key] {
			delete(m.results, key)
		}
	}
	m.mu.Unlock()

	return results
}

func (m *Monitor) store(result CheckResult) {
	m.mu.Lock()
	prev, had := m.results[result.Key]
	m.results[result.Key] = result
	m.mu.Unlock()

	if had && prev.Status == result.Status {
		return
	}
	if result.Status != health.StatusHealthy {
		m.logger.Warn("desktop unhealthy", "key", result.Key, "target", result.Target.String(),
			"status", result.Status, "error", result.Error)
	} else if had {
		m.logger.Info("desktop recovered", "key", result.Key, "target", result.Target.String())
	}
	if m.auditLog != nil {
		details := string(result.Status)
		if result.Error != "" {
			details += ": " + result.Error
		}
		_ = m.auditLog.Log(audit.Event{Type: audit.EventHealth, Key: result.Key,
			Target: result.Target.String(), Details: details})
	}
}

// Result returns the latest check of key.
func (m *Monitor) Result(key string) (CheckResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[key]
	return r, ok
}

// Results returns the latest checks, sorted by key.
func (m *Monitor) Results() []CheckResult {
	m.mu.RLock()
	out := make([]CheckResult, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, r)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
