package schedule

import (
	"time"

	"maintd/internal/levelspec"
	"maintd/internal/retention"
)

// Record is one configured recurrence rule attached to a level spec.
type Record struct {
	Level     levelspec.LevelSpec
	Interval  Interval
	Start     time.Time // zero: aligned to the Unix epoch
	Retention retention.Policy
	Active    bool

	CreatedAt time.Time
	Seq       uint64 // add order; later adds win governing ties

	FirstRun    time.Time
	LastRun     time.Time
	LastPruned  time.Time
	RunCount    uint64
	PrunedCount uint64
}

// Key identifies a record: level, interval and anchor.
func (r Record) Key() string {
	return MakeKey(r.Level, r.Interval, r.Start)
}

func MakeKey(level levelspec.LevelSpec, iv Interval, start time.Time) string {
	return level.String() + "|" + iv.String() + "|" + FormatStart(start)
}

func (r Record) anchor() time.Time {
	if r.Start.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return r.Start
}

// NextRun returns the earliest occurrence at or after now. Occurrences are
// the anchor plus whole multiples of the interval; an anchor in the future
// is itself the next occurrence. The result is minute-aligned.
func (r Record) NextRun(now time.Time) time.Time {
	now = now.UTC()
	a := r.anchor()
	if !now.After(a) {
		return a
	}
	if r.Interval.Unit == Month {
		return r.nextMonthly(a, now)
	}
	p := r.Interval.Duration()
	if p <= 0 {
		return now.Truncate(time.Minute)
	}
	elapsed := now.Sub(a)
	k := elapsed / p
	if elapsed%p != 0 {
		k++
	}
	return a.Add(k * p).Truncate(time.Minute)
}

func (r Record) nextMonthly(a, now time.Time) time.Time {
	step := int(r.Interval.Value)
	months := (now.Year()-a.Year())*12 + int(now.Month()) - int(a.Month())
	k := months/step - 1
	if k < 0 {
		k = 0
	}
	t := addMonths(a, k*step)
	for t.Before(now) {
		k++
		t = addMonths(a, k*step)
	}
	return t.Truncate(time.Minute)
}

// addMonths moves a by n calendar months, clamping the day to the end of
// the target month so a 31st anchor lands on the 30th, 29th or 28th.
func addMonths(a time.Time, n int) time.Time {
	first := time.Date(a.Year(), a.Month()+time.Month(n), 1, a.Hour(), a.Minute(), a.Second(), a.Nanosecond(), a.Location())
	last := first.AddDate(0, 1, -1).Day()
	return first.AddDate(0, 0, min(a.Day(), last)-1)
}

// prevRun returns the last occurrence strictly before next, or zero when
// next is the first occurrence.
func (r Record) prevRun(next time.Time) time.Time {
	a := r.anchor()
	if !next.After(a) {
		return time.Time{}
	}
	if r.Interval.Unit == Month {
		prev := a
		for k := 1; ; k++ {
			t := addMonths(a, k*int(r.Interval.Value))
			if !t.Before(next) {
				return prev
			}
			prev = t
		}
	}
	return next.Add(-r.Interval.Duration())
}

// Overdue reports whether the record missed an occurrence: it has run
// before, but not since the most recent occurrence at or before now.
func (r Record) Overdue(now time.Time) bool {
	if r.LastRun.IsZero() {
		return false
	}
	next := r.NextRun(now)
	last := next
	if next.After(now.UTC()) {
		last = r.prevRun(next)
	}
	if last.IsZero() {
		return false
	}
	return r.LastRun.Before(last)
}

// Clone returns a copy that shares no maps with r.
func (r Record) Clone() Record {
	r.Retention = r.Retention.Clone()
	return r
}
