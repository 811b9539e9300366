package storage

import (
	"fmt"
	"time"

	"maintd/internal/levelspec"
	"maintd/internal/retention"
	"maintd/internal/schedule"
)

// recordDoc is the on-disk shape of a schedule.Record. The same document is
// used by the file journal and, column by column, by the sqlite table.
type recordDoc struct {
	Level       string         `json:"level"`
	Interval    string         `json:"interval"`
	Start       string         `json:"start,omitempty"`
	Retention   map[string]int `json:"retention,omitempty"`
	Active      bool           `json:"active"`
	CreatedAt   time.Time      `json:"created_at"`
	Seq         uint64         `json:"seq"`
	FirstRun    time.Time      `json:"first_run,omitzero"`
	LastRun     time.Time      `json:"last_run,omitzero"`
	LastPruned  time.Time      `json:"last_pruned,omitzero"`
	RunCount    uint64         `json:"run_count,omitempty"`
	PrunedCount uint64         `json:"pruned_count,omitempty"`
}

func toDoc(r schedule.Record) recordDoc {
	d := recordDoc{
		Level:       r.Level.String(),
		Interval:    r.Interval.String(),
		Start:       schedule.FormatStart(r.Start),
		Active:      r.Active,
		CreatedAt:   r.CreatedAt.UTC(),
		Seq:         r.Seq,
		FirstRun:    r.FirstRun.UTC(),
		LastRun:     r.LastRun.UTC(),
		LastPruned:  r.LastPruned.UTC(),
		RunCount:    r.RunCount,
		PrunedCount: r.PrunedCount,
	}
	if len(r.Retention) > 0 {
		d.Retention = r.Retention.Map()
	}
	return d
}

func (d recordDoc) record() (schedule.Record, error) {
	level, err := levelspec.Parse(d.Level)
	if err != nil {
		return schedule.Record{}, err
	}
	iv, err := schedule.ParseInterval(d.Interval)
	if err != nil {
		return schedule.Record{}, err
	}
	var start time.Time
	if d.Start != "" {
		start, err = time.Parse(time.RFC3339, d.Start)
		if err != nil {
			return schedule.Record{}, fmt.Errorf("%w %q", schedule.ErrInvalidStart, d.Start)
		}
		start = start.UTC()
	}
	var policy retention.Policy
	if len(d.Retention) > 0 {
		policy, err = retention.PolicyFromMap(d.Retention)
		if err != nil {
			return schedule.Record{}, err
		}
	}
	return schedule.Record{
		Level:       level,
		Interval:    iv,
		Start:       start,
		Retention:   policy,
		Active:      d.Active,
		CreatedAt:   utcOrZero(d.CreatedAt),
		Seq:         d.Seq,
		FirstRun:    utcOrZero(d.FirstRun),
		LastRun:     utcOrZero(d.LastRun),
		LastPruned:  utcOrZero(d.LastPruned),
		RunCount:    d.RunCount,
		PrunedCount: d.PrunedCount,
	}, nil
}

func utcOrZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}
