// ABOUTME: Connectivity monitor and gateway health prober
// ABOUTME: An offline-to-online transition triggers the orchestrator's reconnect handling
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/harperreed/vendas/metrics"
	"go.uber.org/zap"
)

// Reconnector is notified when connectivity returns.
type Reconnector interface {
	OnReconnect(ctx context.Context) (ReconnectReport, error)
}

// Monitor tracks online/offline reports. It starts offline, so the first
// online report also counts as a reconnect.
type Monitor struct {
	reconnector Reconnector
	logger      *zap.Logger
	metrics     *metrics.Metrics

	mu     sync.Mutex
	online bool
	since  time.Time
}

// NewMonitor creates a monitor that calls r on every reconnect.
func NewMonitor(r Reconnector, logger *zap.Logger, m *metrics.Metrics) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		reconnector: r,
		logger:      logger.Named("connectivity"),
		metrics:     m,
		since:       time.Now(),
	}
}

// Report records the current connectivity. On an offline-to-online
// transition it runs the reconnect handling before returning and reports
// true.
func (m *Monitor) Report(ctx context.Context, online bool) bool {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	if changed {
		m.since = time.Now()
	}
	m.mu.Unlock()

	m.metrics.SetOnline(online)
	if !changed {
		return false
	}
	if !online {
		m.logger.Info("gateway unreachable, working offline")
		return false
	}

	m.logger.Info("gateway reachable again, reconciling")
	if _, err := m.reconnector.OnReconnect(ctx); err != nil {
		m.logger.Warn("reconnect handling finished with errors", zap.Error(err))
	}
	return true
}

// Online reports the last known connectivity and when it last changed.
func (m *Monitor) Online() (bool, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online, m.since
}

// HealthChecker answers a liveness probe.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Prober turns periodic health checks into monitor reports. It only detects
// connectivity; syncing happens as a consequence of a transition.
type Prober struct {
	checker  HealthChecker
	monitor  *Monitor
	interval time.Duration
	timeout  time.Duration
}

// NewProber creates a prober checking every interval.
func NewProber(checker HealthChecker, monitor *Monitor, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := interval / 2
	if timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &Prober{checker: checker, monitor: monitor, interval: interval, timeout: timeout}
}

// Probe performs one check and reports the result.
func (p *Prober) Probe(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.checker.Health(checkCtx)
	cancel()
	online := err == nil
	p.monitor.Report(ctx, online)
	return online
}

// Run probes immediately and then on every tick until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
