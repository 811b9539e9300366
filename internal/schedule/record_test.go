package schedule

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Interval
		dur  time.Duration
	}{
		{raw: "30m", want: Interval{30, Minute}, dur: 30 * time.Minute},
		{raw: "6h", want: Interval{6, Hour}, dur: 6 * time.Hour},
		{raw: " 1d ", want: Interval{1, Day}, dur: 24 * time.Hour},
		{raw: "2w", want: Interval{2, Week}, dur: 14 * 24 * time.Hour},
		{raw: "1M", want: Interval{1, Month}},
	}
	for _, tt := range tests {
		got, err := ParseInterval(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.dur, got.Duration())
	}
	for _, bad := range []string{"", "0d", "d", "1s", "1.5h", "-1h"} {
		_, err := ParseInterval(bad)
		assert.ErrorIs(t, err, ErrInvalidInterval, bad)
	}
}

func TestParseStart(t *testing.T) {
	t.Parallel()

	got, err := ParseStart("03:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(1970, 1, 1, 3, 0, 0, 0, time.UTC), got)

	got, err = ParseStart("03:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(1970, 1, 1, 1, 0, 0, 0, time.UTC), got)

	got, err = ParseStart("2024-01-02T03:04:59")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC), got)

	got, err = ParseStart("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = ParseStart("tomorrow")
	assert.ErrorIs(t, err, ErrInvalidStart)
}

func TestTimeOfDayStartRunsDaily(t *testing.T) {
	t.Parallel()
	a, err := ParseStart("06:00")
	require.NoError(t, err)

	r := Record{Interval: Interval{1, Day}, Start: a}
	now := time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 6, 6, 0, 0, 0, time.UTC), r.NextRun(now))
}

func TestNextRunEpochAligned(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, iv := range []Interval{{1, Minute}, {7, Minute}, {1, Hour}, {5, Hour}, {1, Day}, {3, Day}, {1, Week}} {
		r := Record{Interval: iv}
		p := iv.Duration()
		for i := 0; i < 200; i++ {
			now := base.Add(time.Duration(rng.Int63n(int64(400 * 24 * time.Hour))))
			next := r.NextRun(now)
			delta := next.Sub(now)
			require.GreaterOrEqual(t, delta, time.Duration(0), "interval %s now %s", iv, now)
			require.Less(t, delta, p, "interval %s now %s", iv, now)
			require.Zero(t, next.Unix()%int64(p/time.Second), "interval %s next %s", iv, next)
			require.Equal(t, next, r.NextRun(now), "not reproducible")
		}
	}
}

func TestNextRunOnBoundaryIsNow(t *testing.T) {
	t.Parallel()
	r := Record{Interval: Interval{1, Day}}
	now := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now, r.NextRun(now))
}

func TestNextRunWithAnchor(t *testing.T) {
	t.Parallel()
	anchor := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
	r := Record{Interval: Interval{1, Day}, Start: anchor}

	assert.Equal(t, time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC), r.NextRun(time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2024, 3, 11, 3, 0, 0, 0, time.UTC), r.NextRun(time.Date(2024, 3, 10, 3, 0, 1, 0, time.UTC)))
	// A future anchor is the first occurrence.
	assert.Equal(t, anchor, r.NextRun(anchor.Add(-72*time.Hour)))
}

func TestNextRunMonthly(t *testing.T) {
	t.Parallel()
	anchor := time.Date(2024, 1, 15, 2, 0, 0, 0, time.UTC)
	r := Record{Interval: Interval{2, Month}, Start: anchor}

	assert.Equal(t, time.Date(2024, 5, 15, 2, 0, 0, 0, time.UTC), r.NextRun(time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2024, 3, 15, 2, 0, 0, 0, time.UTC), r.NextRun(time.Date(2024, 3, 15, 2, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2025, 1, 15, 2, 0, 0, 0, time.UTC), r.NextRun(time.Date(2024, 11, 20, 0, 0, 0, 0, time.UTC)))
}

func TestNextRunMonthEndAnchor(t *testing.T) {
	t.Parallel()
	anchor := time.Date(2024, 1, 31, 3, 0, 0, 0, time.UTC)
	r := Record{Interval: Interval{1, Month}, Start: anchor}

	now := anchor.Add(time.Minute)
	for _, want := range []time.Time{
		time.Date(2024, 2, 29, 3, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 3, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 30, 3, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 31, 3, 0, 0, 0, time.UTC),
	} {
		got := r.NextRun(now)
		require.Equal(t, want, got)
		now = got.Add(time.Minute)
	}
	assert.Equal(t, time.Date(2025, 2, 28, 3, 0, 0, 0, time.UTC), r.NextRun(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)))

	r.LastRun = time.Date(2024, 2, 29, 3, 0, 1, 0, time.UTC)
	assert.False(t, r.Overdue(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)))
	assert.True(t, r.Overdue(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)))
}

func TestOverdue(t *testing.T) {
	t.Parallel()
	r := Record{Interval: Interval{1, Hour}}
	now := time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)

	assert.False(t, r.Overdue(now), "never-run records wait for the next occurrence")

	r.LastRun = time.Date(2024, 1, 1, 10, 0, 5, 0, time.UTC)
	assert.False(t, r.Overdue(now))

	r.LastRun = time.Date(2024, 1, 1, 8, 0, 5, 0, time.UTC)
	assert.True(t, r.Overdue(now))

	m := Record{Interval: Interval{1, Month}, Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m.LastRun = time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)
	assert.True(t, m.Overdue(time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)))
	assert.False(t, m.Overdue(time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)))
}
