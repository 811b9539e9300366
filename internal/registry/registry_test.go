package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintd/internal/levelspec"
	"maintd/internal/provider"
	"maintd/internal/schedule"
	logx "maintd/pkg/logx"
)

type fakeLister struct {
	mu          sync.Mutex
	tree        map[string][]string
	failParent  map[string]bool
	failTop     bool
	parentCalls int
	childCalls  map[string]int
}

func newFake(tree map[string][]string) *fakeLister {
	return &fakeLister{tree: tree, failParent: map[string]bool{}, childCalls: map[string]int{}}
}

func (f *fakeLister) Kind() levelspec.Kind { return levelspec.KindPool }

func (f *fakeLister) ListParents(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parentCalls++
	if f.failTop {
		return nil, provider.ErrUnavailable
	}
	var out []string
	for p := range f.tree {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeLister) ListChildren(_ context.Context, parent string, wanted []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.childCalls[parent]++
	if f.failParent[parent] {
		return nil, errors.New("timeout")
	}
	if wanted == nil {
		return append([]string(nil), f.tree[parent]...), nil
	}
	var out []string
	for _, c := range f.tree[parent] {
		for _, w := range wanted {
			if c == w {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (f *fakeLister) Execute(context.Context, levelspec.Scope, schedule.Record) provider.Result {
	return provider.OK(0)
}

func (f *fakeLister) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parentCalls
}

func newRegistry(t *testing.T, f *fakeLister, clock *time.Time) *Registry {
	t.Helper()
	set, err := provider.NewSet(f)
	require.NoError(t, err)
	r := New(set, Config{RefreshInterval: time.Minute}, logx.Nop())
	r.SetClock(func() time.Time { return *clock })
	return r
}

func scope(parent, child string) levelspec.Scope {
	return levelspec.Scope{Kind: levelspec.KindPool, Parent: parent, Child: child}
}

func TestRefreshIsThrottled(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFake(map[string][]string{"rbd": {"", "ns1"}})
	r := newRegistry(t, f, &now)
	ctx := context.Background()

	diff, wait, ok := r.Refresh(ctx, nil)
	require.True(t, ok)
	assert.Equal(t, time.Minute, wait)
	assert.Equal(t, []levelspec.Scope{scope("rbd", ""), scope("rbd", "ns1")}, diff.Added)
	first := r.Known()

	now = now.Add(20 * time.Second)
	diff, wait, ok = r.Refresh(ctx, nil)
	assert.False(t, ok)
	assert.True(t, diff.Empty())
	assert.Equal(t, 40*time.Second, wait)
	assert.Equal(t, first, r.Known())
	assert.Equal(t, 1, f.calls(), "second call inside the window must not list")

	now = now.Add(40 * time.Second)
	_, _, ok = r.Refresh(ctx, nil)
	assert.True(t, ok)
	assert.Equal(t, 2, f.calls())

	r.Invalidate()
	_, _, ok = r.Refresh(ctx, nil)
	assert.True(t, ok, "invalidate bypasses the throttle")
}

func TestRefreshDiff(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFake(map[string][]string{"rbd": {"", "ns1"}, "data": {""}})
	r := newRegistry(t, f, &now)
	ctx := context.Background()
	r.Refresh(ctx, nil)

	f.mu.Lock()
	f.tree = map[string][]string{"rbd": {"", "ns2"}, "data": {""}}
	f.mu.Unlock()
	now = now.Add(time.Minute)

	diff, _, ok := r.Refresh(ctx, nil)
	require.True(t, ok)
	assert.Equal(t, []levelspec.Scope{scope("rbd", "ns2")}, diff.Added)
	assert.Equal(t, []levelspec.Scope{scope("rbd", "ns1")}, diff.Removed)
	assert.True(t, r.Contains(scope("data", "")))
	assert.False(t, r.Contains(scope("rbd", "ns1")))
}

func TestRefreshCarriesFailedParentForward(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFake(map[string][]string{"rbd": {"", "ns1"}, "data": {""}})
	r := newRegistry(t, f, &now)
	ctx := context.Background()
	r.Refresh(ctx, nil)

	f.mu.Lock()
	f.failParent["rbd"] = true
	f.tree["data"] = []string{"", "x"}
	f.mu.Unlock()
	now = now.Add(time.Minute)

	diff, _, ok := r.Refresh(ctx, nil)
	require.True(t, ok)
	assert.Equal(t, []levelspec.Scope{scope("data", "x")}, diff.Added, "other parents are still discovered")
	assert.Empty(t, diff.Removed)
	assert.True(t, r.Contains(scope("rbd", "ns1")))

	f.mu.Lock()
	f.failTop = true
	f.mu.Unlock()
	now = now.Add(time.Minute)
	diff, _, ok = r.Refresh(ctx, nil)
	require.True(t, ok)
	assert.True(t, diff.Empty(), "unavailable listing keeps every known scope")
	assert.Len(t, r.Known(), 4)
}

type staticFilter struct{ levels []levelspec.LevelSpec }

func (s staticFilter) Intersects(spec levelspec.LevelSpec) bool {
	for _, l := range s.levels {
		if l.Intersects(spec) {
			return true
		}
	}
	return false
}

func (s staticFilter) Wanted(kind levelspec.Kind, parent string) ([]string, bool) {
	var out []string
	for _, l := range s.levels {
		if !l.Intersects(levelspec.ForParent(kind, parent)) {
			continue
		}
		if !l.HasChild {
			return nil, true
		}
		out = append(out, l.Child)
	}
	return out, false
}

func TestRefreshHonoursFilter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFake(map[string][]string{"rbd": {"", "ns1", "ns2"}, "data": {""}})
	r := newRegistry(t, f, &now)

	filter := staticFilter{levels: []levelspec.LevelSpec{levelspec.MustParse("pool:rbd/ns2")}}
	_, _, ok := r.Refresh(context.Background(), filter)
	require.True(t, ok)
	assert.Equal(t, []levelspec.Scope{scope("rbd", "ns2")}, r.Known())

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Zero(t, f.childCalls["data"], "parents no schedule covers are not listed")
}

func TestRefreshCancelledKeepsState(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFake(map[string][]string{"rbd": {""}})
	r := newRegistry(t, f, &now)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, ok := r.Refresh(ctx, nil)
	assert.False(t, ok)
	assert.Empty(t, r.Known())
}
