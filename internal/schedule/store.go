package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"maintd/internal/levelspec"
	"maintd/internal/retention"
	logx "maintd/pkg/logx"
)

var (
	ErrNotFound          = errors.New("schedule not found")
	ErrRetentionConflict = errors.New("retention period already set")
)

// Repository persists records. Implementations guard their own handle.
type Repository interface {
	Load(ctx context.Context) ([]Record, error)
	Put(ctx context.Context, r Record) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Store indexes records in memory and writes every mutation through to a
// Repository before committing it.
//
// Store is not safe for concurrent use; the engine serializes access under
// its own lock.
type Store struct {
	repo Repository
	log  logx.Logger
	now  func() time.Time

	records map[string]*Record
	seq     uint64
}

func NewStore(repo Repository, log logx.Logger, now func() time.Time) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	if now == nil {
		now = time.Now
	}
	return &Store{repo: repo, log: log, now: now, records: map[string]*Record{}}
}

// Load replaces the in-memory index with the repository contents.
func (s *Store) Load(ctx context.Context) error {
	recs, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	s.records = make(map[string]*Record, len(recs))
	s.seq = 0
	for i := range recs {
		r := recs[i]
		s.records[r.Key()] = &r
		if r.Seq > s.seq {
			s.seq = r.Seq
		}
	}
	s.log.Debug("schedules loaded", logx.Int("count", len(recs)))
	return nil
}

func (s *Store) put(ctx context.Context, r Record) error {
	if err := s.repo.Put(ctx, r); err != nil {
		return fmt.Errorf("persist schedule %s: %w", r.Key(), err)
	}
	s.records[r.Key()] = &r
	return nil
}

// Add upserts the record for (level, interval, start). An existing record
// keeps its run bookkeeping, becomes active and most recently added, and
// takes the new retention unless none was given.
func (s *Store) Add(ctx context.Context, level levelspec.LevelSpec, iv Interval, start time.Time, policy retention.Policy) (Record, error) {
	if iv.IsZero() {
		return Record{}, fmt.Errorf("%w: interval required", ErrInvalidInterval)
	}
	key := MakeKey(level, iv, start)
	var r Record
	if cur, ok := s.records[key]; ok {
		r = cur.Clone()
		if len(policy) > 0 {
			r.Retention = policy.Clone()
		}
	} else {
		r = Record{
			Level:     level,
			Interval:  iv,
			Start:     start,
			Retention: policy.Clone(),
			CreatedAt: s.now().UTC(),
		}
	}
	r.Active = true
	r.Seq = s.seq + 1
	if err := s.put(ctx, r); err != nil {
		return Record{}, err
	}
	s.seq = r.Seq
	s.log.Debug("schedule added", logx.String("key", key))
	return r.Clone(), nil
}

// selectExact returns the records attached exactly to level, optionally
// narrowed by interval and anchor.
func (s *Store) selectExact(level levelspec.LevelSpec, iv Interval, start time.Time) []*Record {
	ls := level.String()
	var out []*Record
	for _, r := range s.records {
		if r.Level.String() != ls {
			continue
		}
		if !iv.IsZero() && r.Interval != iv {
			continue
		}
		if !start.IsZero() && !r.Start.Equal(start) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Remove deletes matching records. Removing nothing is not an error.
func (s *Store) Remove(ctx context.Context, level levelspec.LevelSpec, iv Interval, start time.Time) (int, error) {
	n := 0
	for _, r := range s.selectExact(level, iv, start) {
		key := r.Key()
		if err := s.repo.Delete(ctx, key); err != nil {
			return n, fmt.Errorf("delete schedule %s: %w", key, err)
		}
		delete(s.records, key)
		n++
		s.log.Debug("schedule removed", logx.String("key", key))
	}
	return n, nil
}

// SetActive flips the active flag of matching records.
func (s *Store) SetActive(ctx context.Context, level levelspec.LevelSpec, iv Interval, start time.Time, active bool) (int, error) {
	matched := s.selectExact(level, iv, start)
	if len(matched) == 0 {
		return 0, fmt.Errorf("%w for %q", ErrNotFound, level.String())
	}
	for _, cur := range matched {
		r := cur.Clone()
		r.Active = active
		if err := s.put(ctx, r); err != nil {
			return 0, err
		}
	}
	return len(matched), nil
}

// AddRetention merges policy into every record attached to level. Periods
// already present must be removed first.
func (s *Store) AddRetention(ctx context.Context, level levelspec.LevelSpec, policy retention.Policy) error {
	matched := s.selectExact(level, Interval{}, time.Time{})
	if len(matched) == 0 {
		return fmt.Errorf("%w for %q", ErrNotFound, level.String())
	}
	for _, cur := range matched {
		for per := range policy {
			if have, ok := cur.Retention[per]; ok {
				return fmt.Errorf("%w: %s is %d%s, remove it first", ErrRetentionConflict, per, have, per)
			}
		}
	}
	for _, cur := range matched {
		r := cur.Clone()
		if r.Retention == nil {
			r.Retention = retention.Policy{}
		}
		for per, n := range policy {
			r.Retention[per] = n
		}
		if err := s.put(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRetention drops periods from records attached to level. Each
// period must currently be set to exactly the given count.
func (s *Store) RemoveRetention(ctx context.Context, level levelspec.LevelSpec, policy retention.Policy) error {
	matched := s.selectExact(level, Interval{}, time.Time{})
	if len(matched) == 0 {
		return fmt.Errorf("%w for %q", ErrNotFound, level.String())
	}
	for _, cur := range matched {
		for per, n := range policy {
			if have, ok := cur.Retention[per]; !ok || have != n {
				return fmt.Errorf("%w: retention %d%s is not set for %q", ErrNotFound, n, per, level.String())
			}
		}
	}
	for _, cur := range matched {
		r := cur.Clone()
		for per := range policy {
			delete(r.Retention, per)
		}
		if err := s.put(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// FindGoverning returns the active record governing scope: the most
// specific matching level wins, ties go to the most recently added.
func (s *Store) FindGoverning(scope levelspec.Scope) (Record, bool) {
	var best *Record
	for _, r := range s.records {
		if !r.Active || !r.Level.Matches(scope) {
			continue
		}
		if best == nil {
			best = r
			continue
		}
		rs, bs := r.Level.Specificity(), best.Level.Specificity()
		if rs > bs || (rs == bs && r.Seq > best.Seq) {
			best = r
		}
	}
	if best == nil {
		return Record{}, false
	}
	return best.Clone(), true
}

// ListMatching returns records whose level intersects spec, sorted by
// level, interval and anchor.
func (s *Store) ListMatching(spec levelspec.LevelSpec) []Record {
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if spec.Intersects(r.Level) {
			out = append(out, r.Clone())
		}
	}
	sortRecords(out)
	return out
}

// All returns every record in listing order.
func (s *Store) All() []Record { return s.ListMatching(levelspec.All) }

// Get looks a record up by key.
func (s *Store) Get(key string) (Record, bool) {
	r, ok := s.records[key]
	if !ok {
		return Record{}, false
	}
	return r.Clone(), true
}

// Len is the number of records.
func (s *Store) Len() int { return len(s.records) }

// Index snapshots the active records for scope discovery.
func (s *Store) Index() Index {
	idx := Index{}
	for _, r := range s.records {
		if r.Active {
			idx.levels = append(idx.levels, r.Level)
		}
	}
	return idx
}

// Intersects reports whether any active record could govern a scope in spec.
func (s *Store) Intersects(spec levelspec.LevelSpec) bool { return s.Index().Intersects(spec) }

// MarkRun records a successful run at the given time.
func (s *Store) MarkRun(ctx context.Context, key string, at time.Time) error {
	cur, ok := s.records[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	r := cur.Clone()
	r.LastRun = at.UTC()
	if r.FirstRun.IsZero() {
		r.FirstRun = r.LastRun
	}
	r.RunCount++
	return s.put(ctx, r)
}

// MarkPruned records a prune pass that deleted n artifacts.
func (s *Store) MarkPruned(ctx context.Context, key string, at time.Time, n int) error {
	cur, ok := s.records[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	r := cur.Clone()
	r.LastPruned = at.UTC()
	r.PrunedCount += uint64(n)
	return s.put(ctx, r)
}

// Deactivate marks one record inactive.
func (s *Store) Deactivate(ctx context.Context, key string) error {
	cur, ok := s.records[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	r := cur.Clone()
	r.Active = false
	return s.put(ctx, r)
}

func sortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		li, lj := rs[i].Level.String(), rs[j].Level.String()
		if li != lj {
			return li < lj
		}
		ii, ij := rs[i].Interval.String(), rs[j].Interval.String()
		if ii != ij {
			return ii < ij
		}
		return rs[i].Start.Before(rs[j].Start)
	})
}
