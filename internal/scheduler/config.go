package scheduler

import (
	"time"

	"github.com/smallbiznis/stitchery/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval      time.Duration
	ReconcileBatch   int
	NotificationScan int
	JobTimeout       time.Duration
	LockTTL          time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      time.Minute,
		ReconcileBatch:   200,
		NotificationScan: 100,
		JobTimeout:       30 * time.Second,
		LockTTL:          2 * time.Minute,
	}
}

// ProvideConfig maps the application schedule settings.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:      cfg.Schedule.Interval,
		ReconcileBatch:   cfg.Schedule.ReconcileBatch,
		NotificationScan: cfg.Schedule.NotificationScan,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.ReconcileBatch <= 0 {
		c.ReconcileBatch = defaults.ReconcileBatch
	}
	if c.NotificationScan <= 0 {
		c.NotificationScan = defaults.NotificationScan
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.LockTTL < c.JobTimeout {
		c.LockTTL = c.JobTimeout
	}
	return c
}
