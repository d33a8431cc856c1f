// Package worker runs the background storage jobs: periodic health probing and
// operator commands received over Pub/Sub.
package worker

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Job types accepted on the ops subscription.
const (
	JobHealthCheck  = "health_check"
	JobResetStorage = "reset_storage"
)

// RefreshConfig holds configuration for the health refresher.
type RefreshConfig struct {
	// Schedule is a standard cron expression or descriptor.
	// Default: "@every 1m"
	Schedule string

	// Timeout bounds a single refresh run.
	// Default: 15 seconds
	Timeout time.Duration

	// ProbeSecondary also probes the secondary store when one is configured.
	// Default: true
	ProbeSecondary bool
}

// DefaultRefreshConfig returns the default refresh configuration.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Schedule:       "@every 1m",
		Timeout:        15 * time.Second,
		ProbeSecondary: true,
	}
}

// Validate checks that the schedule parses.
func (c RefreshConfig) Validate() error {
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", c.Schedule, err)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("refresh timeout must not be negative, got %s", c.Timeout)
	}
	return nil
}

func (c RefreshConfig) withDefaults() RefreshConfig {
	defaults := DefaultRefreshConfig()
	if c.Schedule == "" {
		c.Schedule = defaults.Schedule
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.Timeout
	}
	return c
}
