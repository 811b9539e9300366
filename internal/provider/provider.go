// Package provider defines what the engine needs from a scope kind:
// discovery, the maintenance action and, for snapshot-like actions, the
// artifacts that retention prunes.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"maintd/internal/levelspec"
	"maintd/internal/retention"
	"maintd/internal/schedule"
)

var (
	// ErrUnavailable marks a listing that could not be performed at all.
	ErrUnavailable = errors.New("scope listing unavailable")
	// ErrScopeGone marks an action target that no longer exists.
	ErrScopeGone = errors.New("scope no longer exists")
)

// Lister discovers the scopes of one kind.
type Lister interface {
	Kind() levelspec.Kind
	ListParents(ctx context.Context) ([]string, error)
	// ListChildren lists children of parent. A nil wanted list asks for
	// every child; otherwise only the named children are checked.
	ListChildren(ctx context.Context, parent string, wanted []string) ([]string, error)
}

// Executor runs the maintenance action for one scope.
type Executor interface {
	Execute(ctx context.Context, scope levelspec.Scope, rec schedule.Record) Result
}

// ArtifactStore is implemented by kinds whose action leaves artifacts
// that retention prunes.
type ArtifactStore interface {
	ListArtifacts(ctx context.Context, scope levelspec.Scope) ([]retention.Candidate, error)
	DeleteArtifact(ctx context.Context, scope levelspec.Scope, name string) error
}

// Provider is a complete scope kind.
type Provider interface {
	Lister
	Executor
}

// Set selects a provider by scope kind.
type Set map[levelspec.Kind]Provider

func NewSet(ps ...Provider) (Set, error) {
	s := Set{}
	for _, p := range ps {
		k := p.Kind()
		if !k.Valid() {
			return nil, fmt.Errorf("provider: invalid kind %q", k)
		}
		if _, dup := s[k]; dup {
			return nil, fmt.Errorf("provider: duplicate kind %q", k)
		}
		s[k] = p
	}
	return s, nil
}

// Kinds returns the registered kinds in stable order.
func (s Set) Kinds() []levelspec.Kind {
	out := make([]levelspec.Kind, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
