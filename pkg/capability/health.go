package capability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aard-ai/aard/pkg/models"
)

// Prober performs a single liveness probe against one capability (e.g.
// an agent heartbeat, a tool ping, a cheap model completion). A nil
// error means healthy.
type Prober interface {
	Probe(ctx context.Context, rec *models.CapabilityRecord) error
}

// ProberFunc adapts a plain function to the Prober interface.
type ProberFunc func(ctx context.Context, rec *models.CapabilityRecord) error

func (f ProberFunc) Probe(ctx context.Context, rec *models.CapabilityRecord) error {
	return f(ctx, rec)
}

// HealthMonitor periodically probes every active capability and writes
// the verdict back to the registry, independent of the per-capability
// circuit breaker RecordExecution drives off live dispatch traffic.
// Capabilities that see no traffic between ticks (a rarely-used tool,
// say) still get their health refreshed.
type HealthMonitor struct {
	registry *Registry
	prober   Prober

	checkInterval time.Duration
	probeTimeout  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger

	mu sync.Mutex
}

// NewHealthMonitor returns a monitor that probes every active
// capability in registry every checkInterval, bounding each probe to
// probeTimeout.
func NewHealthMonitor(registry *Registry, prober Prober, checkInterval, probeTimeout time.Duration) *HealthMonitor {
	return &HealthMonitor{
		registry:      registry,
		prober:        prober,
		checkInterval: checkInterval,
		probeTimeout:  probeTimeout,
		logger:        slog.Default(),
	}
}

// Start launches the background probe loop. Calling Start on an
// already-running monitor is a no-op.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop gracefully shuts the monitor down. Start may be called again
// after Stop returns.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)

	m.checkAll(ctx)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *HealthMonitor) checkAll(ctx context.Context) {
	active, err := m.registry.List(ctx, models.CapabilityFilter{Status: models.CapabilityActive})
	if err != nil {
		m.logger.Warn("capability health sweep: list failed", "error", err)
		return
	}

	for _, rec := range active {
		m.checkOne(ctx, rec)
	}
}

func (m *HealthMonitor) checkOne(ctx context.Context, rec *models.CapabilityRecord) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	err := m.prober.Probe(probeCtx, rec)

	health := models.HealthHealthy
	if err != nil {
		health = models.HealthDegraded
		if rec.Metrics.ConsecutiveFailures >= consecutiveFailureTrip {
			health = models.HealthUnhealthy
		}
		m.logger.Debug("capability health probe failed", "capability", rec.ID, "error", err)
	}

	if setErr := m.registry.SetHealth(ctx, rec.ID, health); setErr != nil {
		m.logger.Warn("capability health sweep: set health failed", "capability", rec.ID, "error", setErr)
	}
}
