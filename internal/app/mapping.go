package app

import (
	"fmt"
	"strings"
	"time"

	"maintd/internal/config"
	"maintd/internal/engine"
	"maintd/internal/export"
	"maintd/internal/observability/debug"
	"maintd/internal/provider"
	"maintd/internal/provider/fssnap"
	"maintd/internal/provider/pooltrash"
	"maintd/internal/registry"
	"maintd/internal/storage"
	logx "maintd/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig defaults to sqlite when the section is omitted.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "sqlite"}, nil
	}
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:       strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:         strings.TrimSpace(sc.Path),
		BusyTimeout:  busy,
		CompactEvery: sc.CompactEvery,
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.DefaultConfig()
	if cfg == nil {
		return out, nil
	}
	ec := cfg.Engine

	var err error
	if out.RefreshInterval, err = config.ParseDurationOrDefault("engine.refresh_interval", ec.RefreshInterval, registry.DefaultRefreshInterval); err != nil {
		return engine.Config{}, err
	}
	if out.FailureLogInterval, err = config.ParseDurationOrDefault("engine.failure_log_interval", ec.FailureLogInterval, out.FailureLogInterval); err != nil {
		return engine.Config{}, err
	}
	if ec.ListConcurrency > 0 {
		out.ListConcurrency = ec.ListConcurrency
	}
	if ec.MaxKeep > 0 {
		out.MaxKeep = ec.MaxKeep
	}
	if ec.CatchUp != nil {
		out.CatchUp = *ec.CatchUp
	}
	if ec.DeactivateOnPermanent != nil {
		out.DeactivateOnPermanent = *ec.DeactivateOnPermanent
	}
	out.AllowMinuteIntervals = ec.AllowMinuteIntervals
	return out, nil
}

// mapProviders builds one provider per configured scope kind.
func mapProviders(cfg *config.Config, log logx.Logger) (provider.Set, error) {
	var ps []provider.Provider
	if pc := cfg.Pools; pc != nil {
		minAge, err := config.ParseDurationOrDefault("pools.min_age", pc.MinAge, 0)
		if err != nil {
			return nil, err
		}
		ps = append(ps, pooltrash.New(pooltrash.Config{Root: pc.Root, MinAge: minAge}, log))
	}
	if fc := cfg.Filesystems; fc != nil {
		ps = append(ps, fssnap.New(fssnap.Config{Root: fc.Root, Prefix: fc.Prefix, MaxDepth: fc.MaxDepth}, log))
	}
	return provider.NewSet(ps...)
}

func mapExportConfig(cfg *config.Config) (export.Config, error) {
	if cfg == nil || cfg.Export == nil {
		return export.Config{}, nil
	}
	xc := cfg.Export
	out := export.Config{
		Enabled:  xc.Enabled,
		Path:     strings.TrimSpace(xc.Path),
		Schedule: strings.TrimSpace(xc.Schedule),
		Timezone: strings.TrimSpace(xc.Timezone),
	}
	if !out.Enabled {
		return out, nil
	}
	if _, err := export.ParseSchedule(out.Schedule); err != nil {
		return export.Config{}, fmt.Errorf("export.schedule: %w", err)
	}
	if out.Timezone != "" {
		if _, err := time.LoadLocation(out.Timezone); err != nil {
			return export.Config{}, fmt.Errorf("export.timezone: invalid %q: %w", out.Timezone, err)
		}
	}
	return out, nil
}

func mapDebugConfig(cfg *config.Config) (debug.Config, error) {
	if cfg == nil || cfg.Debug == nil {
		return debug.Config{}, nil
	}
	dc := cfg.Debug
	out := debug.Config{
		Enabled:       dc.Enabled,
		Addr:          strings.TrimSpace(dc.Addr),
		Token:         strings.TrimSpace(dc.Token),
		AllowInsecure: dc.AllowInsecure,
		Pprof:         dc.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("debug.read_timeout", dc.ReadTimeout, 5*time.Second); err != nil {
		return debug.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("debug.write_timeout", dc.WriteTimeout, 60*time.Second); err != nil {
		return debug.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("debug.idle_timeout", dc.IdleTimeout, 60*time.Second); err != nil {
		return debug.Config{}, err
	}
	return out, nil
}
