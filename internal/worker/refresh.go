package worker

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/evermore/evermore/internal/resilience"
	"github.com/evermore/evermore/internal/storage"
)

// HealthTarget is the storage the refresher probes.
type HealthTarget interface {
	HasSecondary() bool
	CheckHealth(ctx context.Context) storage.HealthStatus
	CheckSecondaryHealth(ctx context.Context) storage.HealthStatus
}

// HealthRefresher probes the stores on a schedule so uploads usually find a warm
// health cache instead of paying for a probe.
type HealthRefresher struct {
	config RefreshConfig
	target HealthTarget
	clock  resilience.Clock
	logger zerolog.Logger

	metrics *RefreshMetrics

	mu   sync.Mutex
	cron *cron.Cron
}

// RefreshMetrics tracks refresher statistics.
type RefreshMetrics struct {
	mu sync.RWMutex

	TotalRuns          int64
	PrimaryHealthy     int64
	PrimaryUnhealthy   int64
	SecondaryHealthy   int64
	SecondaryUnhealthy int64

	LastRunAt       time.Time
	LastRunDuration time.Duration
}

// HealthRefresherConfig holds configuration for creating a HealthRefresher.
type HealthRefresherConfig struct {
	Config RefreshConfig
	Target HealthTarget
	Clock  resilience.Clock
	Logger zerolog.Logger
}

// NewHealthRefresher creates a new health refresher. Zero config fields take defaults.
func NewHealthRefresher(cfg HealthRefresherConfig) *HealthRefresher {
	if cfg.Clock == nil {
		cfg.Clock = resilience.SystemClock
	}
	return &HealthRefresher{
		config:  cfg.Config.withDefaults(),
		target:  cfg.Target,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		metrics: &RefreshMetrics{},
	}
}

// RefreshResult contains the result of one refresh run.
type RefreshResult struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Primary   storage.HealthStatus

	// Secondary is nil when no secondary is configured or probing it is disabled.
	Secondary *storage.HealthStatus
}

// Usable reports whether at least one store was healthy.
func (r *RefreshResult) Usable() bool {
	return r.Primary.Healthy || (r.Secondary != nil && r.Secondary.Healthy)
}

// Run probes the stores once. Both probes run concurrently.
func (j *HealthRefresher) Run(ctx context.Context) *RefreshResult {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	result := &RefreshResult{StartTime: j.clock.Now()}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		result.Primary = j.target.CheckHealth(ctx)
	}()

	if j.config.ProbeSecondary && j.target.HasSecondary() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := j.target.CheckSecondaryHealth(ctx)
			result.Secondary = &status
		}()
	}
	wg.Wait()

	result.EndTime = j.clock.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	j.updateMetrics(result)

	event := j.logger.Debug()
	if !result.Usable() {
		event = j.logger.Error()
	} else if !result.Primary.Healthy {
		event = j.logger.Warn()
	}
	event = event.
		Dur("duration", result.Duration).
		Bool("primary_healthy", result.Primary.Healthy).
		Str("primary_error", result.Primary.Error)
	if result.Secondary != nil {
		event = event.
			Bool("secondary_healthy", result.Secondary.Healthy).
			Str("secondary_error", result.Secondary.Error)
	}
	event.Msg("storage health refreshed")

	return result
}

// Start schedules Run and returns immediately. Overlapping runs are skipped.
func (j *HealthRefresher) Start(ctx context.Context) error {
	if err := j.config.Validate(); err != nil {
		return err
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(j.config.Schedule, func() {
		if ctx.Err() != nil {
			return
		}
		j.Run(ctx)
	}); err != nil {
		return err
	}

	j.mu.Lock()
	if j.cron != nil {
		j.cron.Stop()
	}
	j.cron = c
	j.mu.Unlock()

	c.Start()
	j.logger.Info().
		Str("schedule", j.config.Schedule).
		Dur("timeout", j.config.Timeout).
		Msg("storage health refresher started")
	return nil
}

// Stop stops the schedule and waits for a running refresh to finish or ctx to end.
func (j *HealthRefresher) Stop(ctx context.Context) {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (j *HealthRefresher) updateMetrics(result *RefreshResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRuns++
	if result.Primary.Healthy {
		j.metrics.PrimaryHealthy++
	} else {
		j.metrics.PrimaryUnhealthy++
	}
	if result.Secondary != nil {
		if result.Secondary.Healthy {
			j.metrics.SecondaryHealthy++
		} else {
			j.metrics.SecondaryUnhealthy++
		}
	}
	j.metrics.LastRunAt = result.EndTime
	j.metrics.LastRunDuration = result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *HealthRefresher) GetMetrics() RefreshMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return RefreshMetrics{
		TotalRuns:          j.metrics.TotalRuns,
		PrimaryHealthy:     j.metrics.PrimaryHealthy,
		PrimaryUnhealthy:   j.metrics.PrimaryUnhealthy,
		SecondaryHealthy:   j.metrics.SecondaryHealthy,
		SecondaryUnhealthy: j.metrics.SecondaryUnhealthy,
		LastRunAt:          j.metrics.LastRunAt,
		LastRunDuration:    j.metrics.LastRunDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *HealthRefresher) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_runs":          m.TotalRuns,
		"primary_healthy":     m.PrimaryHealthy,
		"primary_unhealthy":   m.PrimaryUnhealthy,
		"secondary_healthy":   m.SecondaryHealthy,
		"secondary_unhealthy": m.SecondaryUnhealthy,
		"last_run_at":         m.LastRunAt,
		"last_run_duration":   m.LastRunDuration.String(),
	}
}
