package config

import (
	"reflect"
	"sort"
	"strings"

	logx "maintd/pkg/logx"
)

// SummarizeChange returns the names of the sections that differ between
// oldCfg and newCfg and log fields describing the new values.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)) {
		s := derefStorage(newCfg.Storage)
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(s.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(s.Path) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		e := newCfg.Engine
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.String("engine.refresh_interval", e.RefreshInterval),
			logx.Int("engine.list_concurrency", e.ListConcurrency),
			logx.Bool("engine.allow_minute_intervals", e.AllowMinuteIntervals),
			logx.Int("engine.max_keep", e.MaxKeep),
		)
	}

	if !reflect.DeepEqual(oldCfg.Pools, newCfg.Pools) {
		changed = append(changed, "pools")
		attrs = append(attrs, logx.Bool("pools.enabled", newCfg.Pools != nil))
	}
	if !reflect.DeepEqual(oldCfg.Filesystems, newCfg.Filesystems) {
		changed = append(changed, "filesystems")
		attrs = append(attrs, logx.Bool("filesystems.enabled", newCfg.Filesystems != nil))
	}

	if !reflect.DeepEqual(oldCfg.Export, newCfg.Export) {
		x := ExportConfig{}
		if newCfg.Export != nil {
			x = *newCfg.Export
		}
		changed = append(changed, "export")
		attrs = append(attrs,
			logx.Bool("export.enabled", x.Enabled),
			logx.String("export.schedule", x.Schedule),
		)
	}

	if !reflect.DeepEqual(oldCfg.Debug, newCfg.Debug) {
		d := DebugConfig{}
		if newCfg.Debug != nil {
			d = *newCfg.Debug
		}
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", d.Enabled),
			logx.String("debug.addr", d.Addr),
			logx.Bool("debug.token_set", d.Token != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Schedules, newCfg.Schedules) {
		changed = append(changed, "schedules")
		attrs = append(attrs, logx.Int("schedules.count", len(newCfg.Schedules)))
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
