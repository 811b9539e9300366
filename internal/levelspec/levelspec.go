package levelspec

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidSpec is returned when a level spec name does not parse.
var ErrInvalidSpec = errors.New("invalid level spec")

// Kind tags the family a scope belongs to.
type Kind string

const (
	KindAny  Kind = ""
	KindPool Kind = "pool" // pool/namespace
	KindFS   Kind = "fs"   // filesystem/path
)

// Valid reports whether k is a concrete, known kind.
func (k Kind) Valid() bool { return k == KindPool || k == KindFS }

// Scope is a concrete maintenance target.
//
// For KindPool, Parent is the pool and Child the namespace ("" is the
// default namespace). For KindFS, Parent is the filesystem and Child an
// absolute, cleaned path.
type Scope struct {
	Kind   Kind
	Parent string
	Child  string
}

func (s Scope) String() string {
	if s.Kind == KindFS {
		return string(s.Kind) + ":" + s.Parent + s.Child
	}
	return string(s.Kind) + ":" + s.Parent + "/" + s.Child
}

// LevelSpec is a possibly wildcarded scope matcher.
type LevelSpec struct {
	Kind      Kind
	Parent    string
	HasParent bool
	Child     string
	HasChild  bool
}

// All matches every scope of every kind.
var All = LevelSpec{}

// Parse builds a LevelSpec from its textual form:
//
//	""              every scope
//	"pool"          every pool scope
//	"pool:rbd"      every namespace of pool rbd
//	"pool:rbd/"     default namespace of rbd
//	"pool:rbd/ns1"  namespace ns1 of rbd
//	"fs:cephfs"     every path of filesystem cephfs
//	"fs:cephfs/a/b" path /a/b of cephfs
func Parse(name string) (LevelSpec, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return All, nil
	}
	kindStr, rest, _ := strings.Cut(name, ":")
	kind := Kind(kindStr)
	if !kind.Valid() {
		return LevelSpec{}, fmt.Errorf("%w %q: unknown scope kind %q", ErrInvalidSpec, name, kindStr)
	}
	ls := LevelSpec{Kind: kind}
	if rest == "" {
		return ls, nil
	}

	parent, child, hasChild := strings.Cut(rest, "/")
	if parent == "" {
		return LevelSpec{}, fmt.Errorf("%w %q: empty %s name", ErrInvalidSpec, name, parentLabel(kind))
	}
	ls.Parent, ls.HasParent = parent, true
	if !hasChild {
		return ls, nil
	}

	switch kind {
	case KindPool:
		if strings.Contains(child, "/") {
			return LevelSpec{}, fmt.Errorf("%w %q: too many path segments", ErrInvalidSpec, name)
		}
		ls.Child, ls.HasChild = child, true
	case KindFS:
		p, err := cleanPath("/" + child)
		if err != nil {
			return LevelSpec{}, fmt.Errorf("%w %q: %v", ErrInvalidSpec, name, err)
		}
		ls.Child, ls.HasChild = p, true
	}
	return ls, nil
}

// MustParse is Parse for static inputs; it panics on error.
func MustParse(name string) LevelSpec {
	ls, err := Parse(name)
	if err != nil {
		panic(err)
	}
	return ls
}

// FromScope returns the fully specified spec for s.
func FromScope(s Scope) LevelSpec {
	return LevelSpec{Kind: s.Kind, Parent: s.Parent, HasParent: true, Child: s.Child, HasChild: true}
}

// ForParent returns the spec covering every child of the given parent.
func ForParent(kind Kind, parent string) LevelSpec {
	return LevelSpec{Kind: kind, Parent: parent, HasParent: true}
}

func (ls LevelSpec) String() string {
	if ls.Kind == KindAny {
		return ""
	}
	out := string(ls.Kind)
	if !ls.HasParent {
		return out
	}
	out += ":" + ls.Parent
	if !ls.HasChild {
		return out
	}
	if ls.Kind == KindFS {
		return out + ls.Child
	}
	return out + "/" + ls.Child
}

// Specificity is the number of non-wildcard dimensions.
func (ls LevelSpec) Specificity() int {
	n := 0
	if ls.Kind != KindAny {
		n++
	}
	if ls.HasParent {
		n++
	}
	if ls.HasChild {
		n++
	}
	return n
}

// IsConcrete reports whether the spec names exactly one scope.
func (ls LevelSpec) IsConcrete() bool { return ls.Specificity() == 3 }

// Scope returns the concrete scope named by ls. ok is false for wildcards.
func (ls LevelSpec) Scope() (Scope, bool) {
	if !ls.IsConcrete() {
		return Scope{}, false
	}
	return Scope{Kind: ls.Kind, Parent: ls.Parent, Child: ls.Child}, true
}

// Matches reports whether every non-wildcard dimension equals the scope's.
func (ls LevelSpec) Matches(s Scope) bool {
	if ls.Kind != KindAny && ls.Kind != s.Kind {
		return false
	}
	if ls.HasParent && ls.Parent != s.Parent {
		return false
	}
	if ls.HasChild && ls.Child != s.Child {
		return false
	}
	return true
}

// Intersects reports whether some concrete scope could satisfy both specs.
func (ls LevelSpec) Intersects(other LevelSpec) bool {
	if ls.Kind != KindAny && other.Kind != KindAny && ls.Kind != other.Kind {
		return false
	}
	if ls.HasParent && other.HasParent && ls.Parent != other.Parent {
		return false
	}
	if ls.HasChild && other.HasChild && ls.Child != other.Child {
		return false
	}
	return true
}

func parentLabel(k Kind) string {
	if k == KindFS {
		return "filesystem"
	}
	return "pool"
}

func cleanPath(p string) (string, error) {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", errors.New("path must not contain '..'")
		}
	}
	return path.Clean(p), nil
}
