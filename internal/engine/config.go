package engine

import (
	"time"

	"maintd/internal/registry"
	"maintd/internal/retention"
)

// Config controls the scheduler loop.
//
// Defaults (zero values):
//   - refresh_interval: 60s
//   - list_concurrency: 4
//   - max_keep: 50
//   - failure_log_interval: 10m
type Config struct {
	RefreshInterval time.Duration
	ListConcurrency int

	// CatchUp runs a scope once right away when its schedule missed an
	// occurrence (e.g. while the daemon was down).
	CatchUp bool
	// DeactivateOnPermanent marks the governing schedule inactive when an
	// action fails permanently.
	DeactivateOnPermanent bool
	// AllowMinuteIntervals admits "<n>m" intervals. Off by default.
	AllowMinuteIntervals bool

	MaxKeep int

	// FailureLogInterval throttles repeated failure logs per scope.
	FailureLogInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		RefreshInterval:       registry.DefaultRefreshInterval,
		CatchUp:               true,
		DeactivateOnPermanent: true,
		MaxKeep:               retention.DefaultMaxKeep,
		FailureLogInterval:    10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = registry.DefaultRefreshInterval
	}
	if c.MaxKeep <= 0 {
		c.MaxKeep = retention.DefaultMaxKeep
	}
	if c.FailureLogInterval <= 0 {
		c.FailureLogInterval = 10 * time.Minute
	}
	return c
}
