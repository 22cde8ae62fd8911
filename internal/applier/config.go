package applier

import (
	"time"

	"github.com/smallbiznis/contractbilling/internal/config"
)

// Config controls applier cadence, batch sizes and run serialization.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	Concurrency int
	Timeout     time.Duration
	LockTTL     time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Hour,
		BatchSize:   100,
		Concurrency: 1,
		Timeout:     10 * time.Minute,
		LockTTL:     15 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.Applier.RunInterval,
		BatchSize:   cfg.Applier.BatchSize,
		Concurrency: cfg.Applier.Concurrency,
		Timeout:     cfg.Applier.Timeout,
		LockTTL:     cfg.Applier.LockTTL,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	// the lease must outlive a full run
	if c.LockTTL < c.Timeout {
		c.LockTTL = c.Timeout + time.Minute
	}
	return c
}
