package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultCheckInterval = 30 * time.Second

// entry is a registered Checker plus the values Manager ensures every
// CheckResult carries regardless of what the Checker itself set.
type entry struct {
	checker  Checker
	critical bool
	timeout  time.Duration
}

// Manager runs every registered Checker on demand and keeps a
// background loop that logs when the aggregate status changes, so an
// operator tailing logs sees a transition even between probes.
type Manager struct {
	mu            sync.RWMutex
	checkers      map[string]entry
	checkInterval time.Duration
	lastOverall   CheckStatus
	started       bool
	stopCh        chan struct{}
	logger        *zap.Logger
}

// NewManager creates a Manager with no checkers registered.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		checkers:      make(map[string]entry),
		checkInterval: defaultCheckInterval,
		lastOverall:   StatusUnknown,
		stopCh:        make(chan struct{}),
		logger:        logger,
	}
}

// RegisterChecker adds checker under its own Name(). Registering the
// same name twice is an error.
func (m *Manager) RegisterChecker(checker Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := checker.Name()
	if name == "" {
		return fmt.Errorf("health: checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("health: checker %q already registered", name)
	}

	m.checkers[name] = entry{checker: checker, critical: checker.IsCritical(), timeout: checker.Timeout()}
	m.logger.Info("health checker registered", zap.String("checker", name), zap.Bool("critical", checker.IsCritical()))
	return nil
}

// GetOverallHealth runs every checker and collapses the result to a
// single status (spec §9 liveness/readiness semantics).
func (m *Manager) GetOverallHealth(ctx context.Context) OverallHealth {
	start := time.Now()
	detailed := m.GetDetailedHealth(ctx)
	overall := detailed.Overall
	overall.Duration = time.Since(start)
	return overall
}

// GetDetailedHealth runs every checker and returns a per-component
// breakdown alongside the aggregate.
func (m *Manager) GetDetailedHealth(ctx context.Context) DetailedHealth {
	m.mu.RLock()
	checkers := make(map[string]entry, len(m.checkers))
	for name, e := range m.checkers {
		checkers[name] = e
	}
	m.mu.RUnlock()

	timestamp := time.Now()
	components := make(map[string]CheckResult, len(checkers))
	summary := HealthSummary{Total: len(checkers)}

	for name, e := range checkers {
		result := m.runCheck(ctx, name, e)
		components[name] = result

		switch result.Status {
		case StatusHealthy:
			summary.Healthy++
		case StatusDegraded:
			summary.Degraded++
		case StatusUnhealthy:
			summary.Unhealthy++
		}
		if result.Critical {
			summary.Critical++
		} else {
			summary.NonCritical++
		}
	}

	overall := calculateOverallStatus(components, summary)
	return DetailedHealth{Overall: overall, Components: components, Summary: summary, Timestamp: timestamp}
}

func (m *Manager) runCheck(ctx context.Context, name string, e entry) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	result := e.checker.Check(checkCtx)
	result.Component = name
	result.Critical = e.critical
	result.Duration = time.Since(start)
	result.Timestamp = start
	return result
}

// calculateOverallStatus collapses component results into one status:
// any critical failure makes the service unhealthy, any degraded or
// non-critical failure makes it degraded (still ready), otherwise
// healthy. With no checkers registered at all, status is unknown.
func calculateOverallStatus(components map[string]CheckResult, summary HealthSummary) OverallHealth {
	if summary.Total == 0 {
		return OverallHealth{Status: StatusUnknown, Message: "no health checks registered"}
	}

	var criticalFailures, nonCriticalFailures, degraded int
	for _, result := range components {
		switch {
		case result.Status == StatusDegraded:
			degraded++
		case result.Status == StatusUnhealthy && result.Critical:
			criticalFailures++
		case result.Status == StatusUnhealthy:
			nonCriticalFailures++
		}
	}

	switch {
	case criticalFailures > 0:
		return OverallHealth{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("%d critical component(s) failing", criticalFailures),
			Ready:   false,
			Live:    true,
		}
	case degraded > 0:
		return OverallHealth{
			Status:   StatusDegraded,
			Message:  fmt.Sprintf("%d component(s) degraded", degraded),
			Degraded: true,
			Ready:    true,
			Live:     true,
		}
	case nonCriticalFailures > 0:
		return OverallHealth{
			Status:   StatusDegraded,
			Message:  fmt.Sprintf("%d non-critical component(s) failing", nonCriticalFailures),
			Degraded: true,
			Ready:    true,
			Live:     true,
		}
	default:
		return OverallHealth{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("all %d components healthy", summary.Total),
			Ready:   true,
			Live:    true,
		}
	}
}

// IsReady reports whether the service should receive traffic.
func (m *Manager) IsReady(ctx context.Context) bool { return m.GetOverallHealth(ctx).Ready }

// IsLive reports whether the process should be restarted.
func (m *Manager) IsLive(ctx context.Context) bool { return m.GetOverallHealth(ctx).Live }

// Start begins a background loop that logs whenever the aggregate
// status changes. It does not block.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	m.started = true
	go m.watch()
	m.logger.Info("health manager started", zap.Duration("check_interval", m.checkInterval), zap.Int("checkers", len(m.checkers)))
	return nil
}

// Stop ends the background loop.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	close(m.stopCh)
	m.started = false
	m.logger.Info("health manager stopped")
	return nil
}

func (m *Manager) watch() {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			overall := m.GetOverallHealth(context.Background())
			m.mu.Lock()
			changed := overall.Status != m.lastOverall
			m.lastOverall = overall.Status
			m.mu.Unlock()
			if changed {
				m.logger.Warn("health status changed", zap.String("status", overall.Status.String()), zap.String("message", overall.Message))
			}
		}
	}
}
