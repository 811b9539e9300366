package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"maintd/internal/schedule"
	logx "maintd/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json  (all records, rewritten on compaction)
//   - <prefix>.journal.jsonl  (append-only put/delete journal)
//
// The journal is compacted into the snapshot on open and every
// CompactEvery writes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	docs         map[string]recordDoc

	writes       int
	compactEvery int
}

type journalEntry struct {
	Op  string     `json:"op"` // "put" or "del"
	Key string     `json:"key"`
	Doc *recordDoc `json:"rec,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	docs := map[string]recordDoc{}
	if err := loadSnapshot(snapPath, docs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, docs, log); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	every := cfg.CompactEvery
	if every <= 0 {
		every = defaultCompactEvery
	}
	s := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		docs:         docs,
		compactEvery: every,
	}
	s.mu.Lock()
	err = s.compactLocked()
	s.mu.Unlock()
	if err != nil {
		_ = jf.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Load(ctx context.Context) ([]schedule.Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	out := make([]schedule.Record, 0, len(s.docs))
	for key, d := range s.docs {
		r, err := d.record()
		if err != nil {
			s.log.Warn("skipping unreadable schedule", logx.String("key", key), logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fileStore) Put(ctx context.Context, r schedule.Record) error {
	_ = ctx
	d := toDoc(r)
	return s.append(journalEntry{Op: "put", Key: r.Key(), Doc: &d})
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	return s.append(journalEntry{Op: "del", Key: key})
}

func (s *fileStore) append(e journalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(e); err != nil {
		return err
	}
	applyEntry(s.docs, e)

	s.writes++
	if s.writes%s.compactEvery == 0 {
		// Best-effort; the journal still holds every write.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("schedule journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.docs); err != nil {
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
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func applyEntry(docs map[string]recordDoc, e journalEntry) {
	switch e.Op {
	case "put":
		if e.Doc != nil {
			docs[e.Key] = *e.Doc
		}
	case "del":
		delete(docs, e.Key)
	}
}

func loadSnapshot(path string, out map[string]recordDoc) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]recordDoc
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string]recordDoc, log logx.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var e journalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.Key == "" {
			// A torn trailing line from a crash is expected; skip it.
			log.Debug("skipping journal line", logx.Err(err))
			continue
		}
		applyEntry(out, e)
	}
	return sc.Err()
}
