package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"maintd/internal/schedule"
)

type listItem struct {
	Level       string         `json:"level" yaml:"level"`
	Interval    string         `json:"interval" yaml:"interval"`
	Start       string         `json:"start,omitempty" yaml:"start,omitempty"`
	Retention   map[string]int `json:"retention,omitempty" yaml:"retention,omitempty"`
	Active      bool           `json:"active" yaml:"active"`
	Created     string         `json:"created" yaml:"created"`
	FirstRun    string         `json:"first_run,omitempty" yaml:"first_run,omitempty"`
	LastRun     string         `json:"last_run,omitempty" yaml:"last_run,omitempty"`
	LastPruned  string         `json:"last_pruned,omitempty" yaml:"last_pruned,omitempty"`
	RunCount    uint64         `json:"run_count" yaml:"run_count"`
	PrunedCount uint64         `json:"pruned_count" yaml:"pruned_count"`
}

type statusItem struct {
	Scope    string `json:"scope" yaml:"scope"`
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Due      string `json:"due" yaml:"due"`
}

func toListItem(r schedule.Record) listItem {
	it := listItem{
		Level:       r.Level.String(),
		Interval:    r.Interval.String(),
		Start:       schedule.FormatStart(r.Start),
		Active:      r.Active,
		Created:     stamp(r.CreatedAt),
		FirstRun:    stamp(r.FirstRun),
		LastRun:     stamp(r.LastRun),
		LastPruned:  stamp(r.LastPruned),
		RunCount:    r.RunCount,
		PrunedCount: r.PrunedCount,
	}
	if len(r.Retention) > 0 {
		it.Retention = r.Retention.Map()
	}
	return it
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// render encodes v as json (the default) or yaml. Map keys are sorted by
// both encoders, so identical state renders identically.
func render(v any, format string) Result {
	var (
		b   []byte
		err error
	)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		b, err = json.MarshalIndent(v, "", "  ")
	case "yaml", "yml":
		b, err = yaml.Marshal(v)
	default:
		return fail(fmt.Errorf("%w %q (use json or yaml)", ErrBadFormat, format))
	}
	if err != nil {
		return fail(fmt.Errorf("encode payload: %w", err))
	}
	return Result{Code: CodeOK, Payload: b}
}
