package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintd/internal/levelspec"
	"maintd/internal/retention"
	"maintd/internal/schedule"
	logx "maintd/pkg/logx"
)

func sampleRecord() schedule.Record {
	return schedule.Record{
		Level:       levelspec.MustParse("fs:cephfs/home"),
		Interval:    schedule.Interval{Value: 1, Unit: schedule.Hour},
		Start:       time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC),
		Retention:   retention.Policy{retention.PeriodHour: 24, retention.PeriodDay: 7},
		Active:      true,
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Seq:         4,
		FirstRun:    time.Date(2024, 1, 1, 3, 0, 5, 0, time.UTC),
		LastRun:     time.Date(2024, 2, 1, 3, 0, 5, 0, time.UTC),
		RunCount:    12,
		PrunedCount: 3,
	}
}

func openAll(t *testing.T) map[string]func(t *testing.T) schedule.Repository {
	t.Helper()
	dir := t.TempDir()
	return map[string]func(t *testing.T) schedule.Repository{
		"sqlite": func(t *testing.T) schedule.Repository {
			r, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "maintd.db")}, logx.Nop())
			require.NoError(t, err)
			return r
		},
		"file": func(t *testing.T) schedule.Repository {
			r, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "schedules.json"), CompactEvery: 2}, logx.Nop())
			require.NoError(t, err)
			return r
		},
	}
}

func TestRepositoriesPersistAcrossReopen(t *testing.T) {
	ctx := context.Background()
	for name, open := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			repo := open(t)
			want := sampleRecord()
			other := schedule.Record{
				Level:     levelspec.MustParse("pool:rbd/"),
				Interval:  schedule.Interval{Value: 1, Unit: schedule.Day},
				Active:    false,
				CreatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
				Seq:       5,
			}
			require.NoError(t, repo.Put(ctx, want))
			require.NoError(t, repo.Put(ctx, other))

			// Upsert in place.
			want.RunCount = 13
			require.NoError(t, repo.Put(ctx, want))
			require.NoError(t, repo.Close())

			repo = open(t)
			got, err := repo.Load(ctx)
			require.NoError(t, err)
			require.Len(t, got, 2)
			sort.Slice(got, func(i, j int) bool { return got[i].Seq < got[j].Seq })
			assert.Equal(t, want, got[0])
			assert.Equal(t, other, got[1])

			require.NoError(t, repo.Delete(ctx, other.Key()))
			require.NoError(t, repo.Close())

			repo = open(t)
			defer repo.Close()
			got, err = repo.Load(ctx)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, want.Key(), got[0].Key())
		})
	}
}

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo, err := Open(Config{Driver: "memory"}, logx.Logger{})
	require.NoError(t, err)

	r := sampleRecord()
	require.NoError(t, repo.Put(ctx, r))
	got, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []schedule.Record{r}, got)

	require.NoError(t, repo.Close())
	assert.ErrorIs(t, repo.Put(ctx, r), ErrClosed)
}

func TestFileStoreSkipsTornJournalLine(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "schedules.json")
	repo, err := Open(Config{Driver: "file", Path: path, CompactEvery: 1000}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.Put(ctx, sampleRecord()))

	// Simulate a crash mid-write: no Close, half a line appended.
	journal := filepath.Join(filepath.Dir(path), "schedules.journal.jsonl")
	f, err := os.OpenFile(journal, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"op":"put","key":"pool:x|1d|","rec":{"lev`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, sampleRecord(), got[0])
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "etcd"}, logx.Nop())
	assert.Error(t, err)
}
