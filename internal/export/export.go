// Package export periodically writes every schedule record to a JSON file
// so operators and backups can read the schedule table without opening the
// repository.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"maintd/internal/schedule"
	logx "maintd/pkg/logx"
)

type Config struct {
	Enabled  bool
	Path     string
	Schedule string
	Timezone string
}

// Source yields the records to export.
type Source interface {
	Records() []schedule.Record
}

type Exporter struct {
	src Source
	log logx.Logger
	now func() time.Time

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron

	// writeMu serializes file writes between cron runs and ExportNow.
	writeMu sync.Mutex
}

func New(cfg Config, src Source, log logx.Logger) *Exporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Exporter{
		src: src,
		log: log.With(logx.String("comp", "export")),
		now: time.Now,
		cfg: cfg,
	}
}

// SetClock replaces the time source used for exported_at.
func (x *Exporter) SetClock(now func() time.Time) { x.now = now }

func (x *Exporter) Enabled() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.cfg.Enabled
}

// Start begins periodic exports when enabled. It is a no-op when already
// running.
func (x *Exporter) Start(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.startLocked(ctx)
}

func (x *Exporter) startLocked(ctx context.Context) error {
	if x.c != nil || !x.cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(x.cfg.Path) == "" {
		return errors.New("export path is required")
	}
	sched, err := ParseSchedule(x.cfg.Schedule)
	if err != nil {
		return err
	}
	loc := time.Local
	if tz := strings.TrimSpace(x.cfg.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return fmt.Errorf("export timezone %q: %w", tz, err)
		}
	}

	path := x.cfg.Path
	// A running export is not cut short by ctx; Stop waits for it.
	jobCtx := context.WithoutCancel(ctx)
	c := cron.New(cron.WithLocation(loc))
	c.Schedule(sched, cron.FuncJob(func() {
		if err := x.write(jobCtx, path); err != nil {
			x.log.Warn("schedule export failed", logx.String("path", path), logx.Err(err))
		}
	}))
	c.Start()
	x.c = c
	x.log.Info("export started",
		logx.String("path", path),
		logx.String("schedule", x.cfg.Schedule),
		logx.String("tz", loc.String()),
	)
	return nil
}

// Stop halts the cron and waits for a running export or ctx.
func (x *Exporter) Stop(ctx context.Context) {
	x.mu.Lock()
	c := x.c
	x.c = nil
	x.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		x.log.Warn("export stop timed out", logx.Err(ctx.Err()))
	}
}

// Apply swaps the config, restarting the cron when anything changed.
func (x *Exporter) Apply(ctx context.Context, cfg Config) error {
	x.mu.Lock()
	if cfg == x.cfg {
		x.mu.Unlock()
		return nil
	}
	c := x.c
	x.c = nil
	x.cfg = cfg
	x.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.startLocked(ctx)
}

// ExportNow writes the export file immediately.
func (x *Exporter) ExportNow(ctx context.Context) error {
	x.mu.Lock()
	path := x.cfg.Path
	x.mu.Unlock()
	if strings.TrimSpace(path) == "" {
		return errors.New("export path is required")
	}
	return x.write(ctx, path)
}

type document struct {
	ExportedAt string   `json:"exported_at"`
	Count      int      `json:"count"`
	Schedules  []record `json:"schedules"`
}

type record struct {
	Level       string         `json:"level"`
	Interval    string         `json:"interval"`
	Start       string         `json:"start,omitempty"`
	Retention   map[string]int `json:"retention,omitempty"`
	Active      bool           `json:"active"`
	CreatedAt   string         `json:"created_at"`
	FirstRun    string         `json:"first_run,omitempty"`
	LastRun     string         `json:"last_run,omitempty"`
	LastPruned  string         `json:"last_pruned,omitempty"`
	RunCount    uint64         `json:"run_count"`
	PrunedCount uint64         `json:"pruned_count"`
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (x *Exporter) write(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	recs := x.src.Records()
	doc := document{
		ExportedAt: stamp(x.now()),
		Count:      len(recs),
		Schedules:  make([]record, 0, len(recs)),
	}
	for _, r := range recs {
		out := record{
			Level:       r.Level.String(),
			Interval:    r.Interval.String(),
			Start:       schedule.FormatStart(r.Start),
			Active:      r.Active,
			CreatedAt:   stamp(r.CreatedAt),
			FirstRun:    stamp(r.FirstRun),
			LastRun:     stamp(r.LastRun),
			LastPruned:  stamp(r.LastPruned),
			RunCount:    r.RunCount,
			PrunedCount: r.PrunedCount,
		}
		if len(r.Retention) > 0 {
			out.Retention = r.Retention.Map()
		}
		doc.Schedules = append(doc.Schedules, out)
	}

	x.writeMu.Lock()
	defer x.writeMu.Unlock()
	if err := writeAtomic(path, doc); err != nil {
		return err
	}
	x.log.Debug("schedules exported", logx.String("path", path), logx.Int("count", doc.Count))
	return nil
}

// writeAtomic writes v as indented JSON to a temp file in the target
// directory and renames it into place.
func writeAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
