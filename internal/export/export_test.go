package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintd/internal/levelspec"
	"maintd/internal/retention"
	"maintd/internal/schedule"
	logx "maintd/pkg/logx"
)

type staticSource struct {
	recs  []schedule.Record
	calls atomic.Int32
}

func (s *staticSource) Records() []schedule.Record {
	s.calls.Add(1)
	return s.recs
}

func TestParseSchedule(t *testing.T) {
	from := time.Date(2024, 1, 1, 10, 7, 0, 0, time.UTC)
	cases := map[string]time.Time{
		"":             time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC),
		"@hourly":      time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC),
		"*/15 * * * *": time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC),
		"0 30 * * * *": time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC),
		"30m":          from.Add(30 * time.Minute),
		"every 2h":     from.Add(2 * time.Hour),
		"every:90s":    from.Add(90 * time.Second),
		"@every 5m":    from.Add(5 * time.Minute),
	}
	for raw, want := range cases {
		sched, err := ParseSchedule(raw)
		require.NoError(t, err, raw)
		got := sched.Next(from)
		assert.True(t, want.Equal(got), "%s: got %s, want %s", raw, got, want)
	}

	for _, raw := range []string{"soon", "every 10ms", "61 * * * *"} {
		_, err := ParseSchedule(raw)
		assert.Error(t, err, raw)
	}
}

func TestExportNowWritesAllRecords(t *testing.T) {
	src := &staticSource{recs: []schedule.Record{
		{
			Level:     levelspec.MustParse("pool:rbd"),
			Interval:  schedule.Interval{Value: 1, Unit: schedule.Day},
			Start:     time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC),
			Retention: retention.Policy{retention.PeriodDay: 7},
			Active:    true,
			CreatedAt: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
			RunCount:  3,
		},
		{
			Level:     levelspec.MustParse("fs:cephfs/home"),
			Interval:  schedule.Interval{Value: 1, Unit: schedule.Hour},
			CreatedAt: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		},
	}}
	path := filepath.Join(t.TempDir(), "out", "schedules.json")
	x := New(Config{Path: path}, src, logx.Nop())
	x.SetClock(func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) })

	require.NoError(t, x.ExportNow(context.Background()))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc document
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, "2024-01-02T00:00:00Z", doc.ExportedAt)
	require.Equal(t, 2, doc.Count)
	assert.Equal(t, "pool:rbd", doc.Schedules[0].Level)
	assert.Equal(t, "2024-01-01T03:00:00Z", doc.Schedules[0].Start)
	assert.Equal(t, map[string]int{"d": 7}, doc.Schedules[0].Retention)
	assert.Equal(t, uint64(3), doc.Schedules[0].RunCount)
	assert.False(t, doc.Schedules[1].Active)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestPeriodicExportAndApply(t *testing.T) {
	src := &staticSource{}
	path := filepath.Join(t.TempDir(), "schedules.json")
	ctx := context.Background()

	x := New(Config{Enabled: false, Path: path, Schedule: "every 1s"}, src, logx.Nop())
	require.NoError(t, x.Start(ctx))
	assert.False(t, x.Enabled())

	require.NoError(t, x.Apply(ctx, Config{Enabled: true, Path: path, Schedule: "every 1s"}))
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 3*time.Second, 50*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	x.Stop(stopCtx)
	n := src.calls.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, n, src.calls.Load(), "no exports after Stop")

	err := x.Apply(ctx, Config{Enabled: true, Path: path, Schedule: "nonsense"})
	assert.Error(t, err)
}
