package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"maintd/internal/levelspec"
	"maintd/internal/retention"
	"maintd/internal/schedule"
)

// Validate checks everything that can be checked without touching the
// filesystem. It is run on load and before a reload is committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "sqlite", "sqlite3", "file", "memory", "none":
		default:
			add(fmt.Errorf("storage.driver: unknown %q", s.Driver))
		}
		if s.CompactEvery < 0 {
			add(errors.New("storage.compact_every must be >= 0"))
		}
		_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
	}

	e := cfg.Engine
	_, err := ParseDurationField("engine.refresh_interval", e.RefreshInterval)
	add(err)
	_, err = ParseDurationField("engine.failure_log_interval", e.FailureLogInterval)
	add(err)
	if e.ListConcurrency < 0 {
		add(errors.New("engine.list_concurrency must be >= 0"))
	}
	if e.MaxKeep < 0 {
		add(errors.New("engine.max_keep must be >= 0"))
	}

	if p := cfg.Pools; p != nil {
		if strings.TrimSpace(p.Root) == "" {
			add(errors.New("pools.root is required"))
		}
		_, err := ParseDurationField("pools.min_age", p.MinAge)
		add(err)
	}
	if f := cfg.Filesystems; f != nil {
		if strings.TrimSpace(f.Root) == "" {
			add(errors.New("filesystems.root is required"))
		}
		if f.MaxDepth < 0 {
			add(errors.New("filesystems.max_depth must be >= 0"))
		}
		if strings.ContainsAny(f.Prefix, `/\`) {
			add(fmt.Errorf("filesystems.prefix: %q must not contain a path separator", f.Prefix))
		}
	}
	if d := cfg.Debug; d != nil {
		_, err := ParseDurationField("debug.read_timeout", d.ReadTimeout)
		add(err)
		_, err = ParseDurationField("debug.write_timeout", d.WriteTimeout)
		add(err)
		_, err = ParseDurationField("debug.idle_timeout", d.IdleTimeout)
		add(err)
		if addr := strings.TrimSpace(d.Addr); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				add(fmt.Errorf("debug.addr: %w", err))
			}
		}
	}
	if x := cfg.Export; x != nil && x.Enabled {
		if strings.TrimSpace(x.Path) == "" {
			add(errors.New("export.path is required when export.enabled"))
		}
		if tz := strings.TrimSpace(x.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				add(fmt.Errorf("export.timezone: invalid %q: %w", tz, err))
			}
		}
	}

	for i, sc := range cfg.Schedules {
		add(validateSchedule(cfg, fmt.Sprintf("schedules[%d]", i), sc))
	}
	return errors.Join(errs...)
}

func validateSchedule(cfg *Config, path string, sc ScheduleConfig) error {
	ls, err := levelspec.Parse(sc.Level)
	if err != nil {
		return fmt.Errorf("%s.level: %w", path, err)
	}
	switch ls.Kind {
	case levelspec.KindPool:
		if cfg.Pools == nil {
			return fmt.Errorf("%s.level: %q needs a pools section", path, sc.Level)
		}
	case levelspec.KindFS:
		if cfg.Filesystems == nil {
			return fmt.Errorf("%s.level: %q needs a filesystems section", path, sc.Level)
		}
	}
	iv, err := schedule.ParseInterval(sc.Interval)
	if err != nil {
		return fmt.Errorf("%s.interval: %w", path, err)
	}
	if iv.Unit == schedule.Minute && !cfg.Engine.AllowMinuteIntervals {
		return fmt.Errorf("%s.interval: %q needs engine.allow_minute_intervals", path, sc.Interval)
	}
	if _, err := schedule.ParseStart(sc.Start); err != nil {
		return fmt.Errorf("%s.start: %w", path, err)
	}
	if _, err := retention.ParsePolicy(sc.Retention); err != nil {
		return fmt.Errorf("%s.retention: %w", path, err)
	}
	return nil
}
