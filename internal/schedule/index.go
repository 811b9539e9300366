package schedule

import (
	"sort"

	"maintd/internal/levelspec"
)

// Index is an immutable view of the levels active records attach to. It
// is safe to share across goroutines.
type Index struct {
	levels []levelspec.LevelSpec
}

// Intersects reports whether any indexed level could govern a scope in spec.
func (x Index) Intersects(spec levelspec.LevelSpec) bool {
	for _, l := range x.levels {
		if l.Intersects(spec) {
			return true
		}
	}
	return false
}

// Wanted returns the concrete children indexed levels attach to under the
// given parent. all is true when some level covers every child.
func (x Index) Wanted(kind levelspec.Kind, parent string) (children []string, all bool) {
	parentSpec := levelspec.ForParent(kind, parent)
	seen := map[string]bool{}
	for _, l := range x.levels {
		if !l.Intersects(parentSpec) {
			continue
		}
		if !l.HasChild {
			return nil, true
		}
		if !seen[l.Child] {
			seen[l.Child] = true
			children = append(children, l.Child)
		}
	}
	sort.Strings(children)
	return children, false
}
