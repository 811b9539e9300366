// Package registry tracks the set of scopes that currently exist.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"maintd/internal/levelspec"
	"maintd/internal/provider"
	logx "maintd/pkg/logx"
)

const (
	DefaultRefreshInterval = 60 * time.Second
	defaultConcurrency     = 4
)

type Config struct {
	RefreshInterval time.Duration
	// Concurrency bounds parents listed at once.
	Concurrency int
}

// Filter narrows discovery to parents some schedule could govern.
// schedule.Index implements it.
type Filter interface {
	Intersects(spec levelspec.LevelSpec) bool
	Wanted(kind levelspec.Kind, parent string) (children []string, all bool)
}

// Diff is the change between two refreshes.
type Diff struct {
	Added   []levelspec.Scope
	Removed []levelspec.Scope
}

func (d Diff) Empty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

type parentKey struct {
	kind   levelspec.Kind
	parent string
}

type Registry struct {
	listers []provider.Lister
	cfg     Config
	log     logx.Logger
	now     func() time.Time

	mu        sync.Mutex
	known     map[levelspec.Scope]struct{}
	last      time.Time
	refreshed bool
}

func New(set provider.Set, cfg Config, log logx.Logger) *Registry {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{
		cfg:   cfg,
		log:   log.With(logx.String("comp", "registry")),
		now:   time.Now,
		known: map[levelspec.Scope]struct{}{},
	}
	for _, k := range set.Kinds() {
		r.listers = append(r.listers, set[k])
	}
	return r
}

// SetClock replaces the time source.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Invalidate makes the next Refresh list regardless of the throttle.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.refreshed = false
	r.mu.Unlock()
}

// Refresh lists scopes at most once per RefreshInterval. Inside the window
// it performs no I/O and returns the time until the next allowed refresh
// with refreshed=false. Otherwise it returns the change against the last
// known set and the full interval as wait.
//
// Per-parent failures are logged and that parent's known scopes are kept.
// A kind whose parents cannot be listed keeps all its known scopes.
func (r *Registry) Refresh(ctx context.Context, f Filter) (diff Diff, wait time.Duration, refreshed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.refreshed {
		if next := r.last.Add(r.cfg.RefreshInterval); now.Before(next) {
			return Diff{}, next.Sub(now), false
		}
	}

	next, err := r.list(ctx, f)
	if err != nil {
		// Cancelled mid-listing: keep the old view and let the caller retry.
		return Diff{}, 0, false
	}

	for s := range next {
		if _, ok := r.known[s]; !ok {
			diff.Added = append(diff.Added, s)
		}
	}
	for s := range r.known {
		if _, ok := next[s]; !ok {
			diff.Removed = append(diff.Removed, s)
		}
	}
	SortScopes(diff.Added)
	SortScopes(diff.Removed)

	r.known = next
	r.last = now
	r.refreshed = true
	if !diff.Empty() {
		r.log.Debug("scopes changed",
			logx.Int("added", len(diff.Added)),
			logx.Int("removed", len(diff.Removed)),
			logx.Int("known", len(next)),
		)
	}
	return diff, r.cfg.RefreshInterval, true
}

func (r *Registry) list(ctx context.Context, f Filter) (map[levelspec.Scope]struct{}, error) {
	next := map[levelspec.Scope]struct{}{}
	var mu sync.Mutex
	add := func(ss ...levelspec.Scope) {
		mu.Lock()
		for _, s := range ss {
			next[s] = struct{}{}
		}
		mu.Unlock()
	}

	for _, l := range r.listers {
		kind := l.Kind()
		if f != nil && !f.Intersects(levelspec.LevelSpec{Kind: kind}) {
			continue
		}
		parents, err := l.ListParents(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.log.Warn("listing parents failed; keeping known scopes",
				logx.String("kind", string(kind)), logx.Err(err))
			add(r.carried(parentKey{kind: kind}, true)...)
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Concurrency)
		for _, parent := range parents {
			var wanted []string
			if f != nil {
				if !f.Intersects(levelspec.ForParent(kind, parent)) {
					continue
				}
				children, all := f.Wanted(kind, parent)
				if !all {
					wanted = children
				}
			}
			g.Go(func() error {
				children, err := l.ListChildren(gctx, parent, wanted)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					r.log.Warn("listing children failed; keeping known scopes",
						logx.String("kind", string(kind)),
						logx.String("parent", parent),
						logx.Err(err))
					add(r.carried(parentKey{kind: kind, parent: parent}, false)...)
					return nil
				}
				ss := make([]levelspec.Scope, 0, len(children))
				for _, c := range children {
					ss = append(ss, levelspec.Scope{Kind: kind, Parent: parent, Child: c})
				}
				add(ss...)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return next, nil
}

// carried returns known scopes under k. With wholeKind set the parent is
// ignored. Caller holds r.mu.
func (r *Registry) carried(k parentKey, wholeKind bool) []levelspec.Scope {
	var out []levelspec.Scope
	for s := range r.known {
		if s.Kind == k.kind && (wholeKind || s.Parent == k.parent) {
			out = append(out, s)
		}
	}
	return out
}

// Known returns the scopes seen by the last refresh, sorted.
func (r *Registry) Known() []levelspec.Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]levelspec.Scope, 0, len(r.known))
	for s := range r.known {
		out = append(out, s)
	}
	SortScopes(out)
	return out
}

// Contains reports whether s was seen by the last refresh.
func (r *Registry) Contains(s levelspec.Scope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.known[s]
	return ok
}

// Forget drops s from the known set until a refresh lists it again.
func (r *Registry) Forget(s levelspec.Scope) {
	r.mu.Lock()
	delete(r.known, s)
	r.mu.Unlock()
}

// SortScopes orders scopes by kind, parent and child.
func SortScopes(ss []levelspec.Scope) {
	sort.Slice(ss, func(i, j int) bool {
		a, b := ss[i], ss[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Parent != b.Parent {
			return a.Parent < b.Parent
		}
		return a.Child < b.Child
	})
}
