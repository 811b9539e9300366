package config

// Config is the daemon configuration. Unknown keys are rejected on load.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging     LoggingConfig      `json:"logging"`
	Storage     *StorageConfig     `json:"storage,omitempty"`
	Engine      EngineConfig       `json:"engine"`
	Pools       *PoolsConfig       `json:"pools,omitempty"`
	Filesystems *FilesystemsConfig `json:"filesystems,omitempty"`
	Export      *ExportConfig      `json:"export,omitempty"`
	Debug       *DebugConfig       `json:"debug,omitempty"`

	// Schedules are upserted at start and on every reload. Schedules added
	// at runtime are kept; removing an entry here does not delete it.
	Schedules []ScheduleConfig `json:"schedules,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the schedule repository.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/maintd.db" }
//
// Drivers: sqlite (default), file, memory.
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`  // sqlite
	CompactEvery int    `json:"compact_every,omitempty"` // file
}

// EngineConfig controls the scheduler loop.
//
// CatchUp and DeactivateOnPermanent are pointers so an omitted key keeps
// the default (true) while an explicit false disables it.
//
// Defaults (when fields are omitted/zero):
//   - refresh_interval: "60s"
//   - list_concurrency: 4
//   - catch_up: true
//   - deactivate_on_permanent: true
//   - allow_minute_intervals: false
//   - max_keep: 50
//   - failure_log_interval: "10m"
type EngineConfig struct {
	RefreshInterval       string `json:"refresh_interval,omitempty"`
	ListConcurrency       int    `json:"list_concurrency,omitempty"`
	CatchUp               *bool  `json:"catch_up,omitempty"`
	DeactivateOnPermanent *bool  `json:"deactivate_on_permanent,omitempty"`
	AllowMinuteIntervals  bool   `json:"allow_minute_intervals,omitempty"`
	MaxKeep               int    `json:"max_keep,omitempty"`
	FailureLogInterval    string `json:"failure_log_interval,omitempty"`
}

// PoolsConfig enables the pool scope kind: every directory under Root is a
// pool, its subdirectories are namespaces.
type PoolsConfig struct {
	Root string `json:"root"`
	// MinAge is how old a trash entry must be before it is purged.
	MinAge string `json:"min_age,omitempty"`
}

// FilesystemsConfig enables the fs scope kind: every directory under Root
// is a filesystem.
type FilesystemsConfig struct {
	Root     string `json:"root"`
	Prefix   string `json:"prefix,omitempty"`    // default: "scheduled"
	MaxDepth int    `json:"max_depth,omitempty"` // default: 2
}

// ExportConfig controls the periodic schedule dump.
//
// Schedule accepts a 5-field cron expression, a descriptor such as
// "@hourly", or "every <duration>". Default: "@hourly".
type ExportConfig struct {
	Enabled  bool   `json:"enabled"`
	Path     string `json:"path"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// DebugConfig controls the optional read-only debug HTTP server (health,
// schedule listing and pprof).
//
// Security: a non-loopback addr requires a token unless allow_insecure.
//
// Defaults:
//   - addr: "127.0.0.1:6060"
//   - read_timeout: "5s", write_timeout: "60s" (pprof profiles), idle_timeout: "60s"
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// ScheduleConfig declares one schedule. Fields use the admin text forms.
type ScheduleConfig struct {
	Level     string `json:"level"`
	Interval  string `json:"interval"`
	Start     string `json:"start,omitempty"`
	Retention string `json:"retention,omitempty"`
}
