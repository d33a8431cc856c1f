package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/evermore/evermore/internal/resilience"
)

// DefaultHealthTTL is how long a probe result is trusted.
const DefaultHealthTTL = 5 * time.Minute

const defaultProbeTimeout = 5 * time.Second

// ProbeFunc performs a lightweight availability check against a store.
type ProbeFunc func(ctx context.Context) error

// HealthMonitorConfig holds configuration for the health monitor.
type HealthMonitorConfig struct {
	// TTL is how long a probe result is served from cache. Default: 5 minutes
	TTL time.Duration

	// ProbeTimeout bounds each probe. Default: 5 seconds
	ProbeTimeout time.Duration

	Clock  resilience.Clock
	Logger zerolog.Logger

	// OnProbe is called after every live probe.
	OnProbe func(store string, healthy bool)
}

// HealthMonitor caches the last health probe result per store.
type HealthMonitor struct {
	ttl          time.Duration
	probeTimeout time.Duration
	clock        resilience.Clock
	logger       zerolog.Logger
	onProbe      func(store string, healthy bool)
	group        singleflight.Group

	mu       sync.RWMutex
	probes   map[string]ProbeFunc
	statuses map[string]HealthStatus
}

// NewHealthMonitor creates a new health monitor.
func NewHealthMonitor(cfg HealthMonitorConfig) *HealthMonitor {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultHealthTTL
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = resilience.SystemClock
	}

	return &HealthMonitor{
		ttl:          cfg.TTL,
		probeTimeout: cfg.ProbeTimeout,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		onProbe:      cfg.OnProbe,
		probes:       make(map[string]ProbeFunc),
		statuses:     make(map[string]HealthStatus),
	}
}

// Register sets the probe for a store and drops any cached status for it.
func (m *HealthMonitor) Register(store string, probe ProbeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[store] = probe
	delete(m.statuses, store)
}

// IsHealthy returns the cached health of store while it is fresh, probing otherwise.
// Stores without a probe are unhealthy.
func (m *HealthMonitor) IsHealthy(ctx context.Context, store string) bool {
	if status, ok := m.fresh(store); ok {
		return status.Healthy
	}
	return m.Check(ctx, store).Healthy
}

// Check probes store now and caches the result. Concurrent checks of the same store
// share one probe. Probe failures are reported in the status, never as errors.
func (m *HealthMonitor) Check(ctx context.Context, store string) HealthStatus {
	m.mu.RLock()
	probe, ok := m.probes[store]
	m.mu.RUnlock()

	if !ok {
		return HealthStatus{Healthy: false, LastChecked: m.clock.Now(), Error: "no health probe registered for " + store}
	}

	v, _, _ := m.group.Do(store, func() (any, error) {
		return m.runProbe(ctx, store, probe), nil
	})
	return v.(HealthStatus)
}

// Status returns the last recorded status of store, fresh or not.
func (m *HealthMonitor) Status(store string) (HealthStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[store]
	return status, ok
}

// Reset drops every cached status so the next IsHealthy call probes.
func (m *HealthMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = make(map[string]HealthStatus)
}

func (m *HealthMonitor) fresh(store string) (HealthStatus, bool) {
	m.mu.RLock()
	status, ok := m.statuses[store]
	m.mu.RUnlock()

	if !ok || m.clock.Now().Sub(status.LastChecked) >= m.ttl {
		return HealthStatus{}, false
	}
	return status, true
}

func (m *HealthMonitor) runProbe(ctx context.Context, store string, probe ProbeFunc) HealthStatus {
	// The probe result is shared, so one caller's cancellation must not decide it.
	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.probeTimeout)
	defer cancel()

	err := safeProbe(probeCtx, probe)

	status := HealthStatus{Healthy: err == nil, LastChecked: m.clock.Now()}
	if err != nil {
		status.Error = err.Error()
		m.logger.Warn().Err(err).Str("store", store).Msg("storage health probe failed")
	} else {
		m.logger.Debug().Str("store", store).Msg("storage health probe succeeded")
	}

	m.mu.Lock()
	m.statuses[store] = status
	m.mu.Unlock()

	if m.onProbe != nil {
		m.onProbe(store, status.Healthy)
	}
	return status
}

func safeProbe(ctx context.Context, probe ProbeFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = resilience.NewError(resilience.CodeExecution, "health probe panicked")
		}
	}()
	return probe(ctx)
}
