package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"maintd/internal/schedule"
	logx "maintd/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore holds one connection; mu serializes statements on it.
type sqliteStore struct {
	mu  sync.Mutex
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = defaultSQLitePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite schedule store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *sqliteStore) Load(ctx context.Context) ([]schedule.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, level, interval, start, retention, active, created_at, seq,
		        first_run, last_run, last_pruned, run_count, pruned_count
		   FROM schedules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Record
	for rows.Next() {
		var (
			key                           string
			d                             recordDoc
			start, ret                    sql.NullString
			createdAt                     string
			firstRun, lastRun, lastPruned sql.NullString
		)
		if err := rows.Scan(&key, &d.Level, &d.Interval, &start, &ret, &d.Active, &createdAt, &d.Seq,
			&firstRun, &lastRun, &lastPruned, &d.RunCount, &d.PrunedCount); err != nil {
			return nil, err
		}
		d.Start = start.String
		if ret.Valid && ret.String != "" {
			if err := json.Unmarshal([]byte(ret.String), &d.Retention); err != nil {
				s.log.Warn("skipping schedule with bad retention", logx.String("key", key), logx.Err(err))
				continue
			}
		}
		d.CreatedAt = parseTime(createdAt)
		d.FirstRun = parseTime(firstRun.String)
		d.LastRun = parseTime(lastRun.String)
		d.LastPruned = parseTime(lastPruned.String)

		r, err := d.record()
		if err != nil {
			s.log.Warn("skipping unreadable schedule", logx.String("key", key), logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Put(ctx context.Context, r schedule.Record) error {
	d := toDoc(r)
	var ret any
	if len(d.Retention) > 0 {
		b, err := json.Marshal(d.Retention)
		if err != nil {
			return err
		}
		ret = string(b)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(key, level, interval, start, retention, active, created_at, seq,
		                       first_run, last_run, last_pruned, run_count, pruned_count)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET
		   retention=excluded.retention, active=excluded.active, seq=excluded.seq,
		   first_run=excluded.first_run, last_run=excluded.last_run, last_pruned=excluded.last_pruned,
		   run_count=excluded.run_count, pruned_count=excluded.pruned_count`,
		r.Key(), d.Level, d.Interval, nullStr(d.Start), ret, d.Active, formatTime(d.CreatedAt), d.Seq,
		nullTime(d.FirstRun), nullTime(d.LastRun), nullTime(d.LastPruned), d.RunCount, d.PrunedCount,
	)
	return err
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE key = ?`, key)
	return err
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
