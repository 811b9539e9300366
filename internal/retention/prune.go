package retention

import (
	"sort"
	"time"
)

// Candidate is an existing periodic artifact.
type Candidate struct {
	Name string
	Time time.Time
}

// PruneSet partitions candidates into the keep-set and the prune-set.
//
// Periods are walked finest first. Within a period candidates are visited
// newest first (by name) and the first candidate of each distinct bucket is
// kept until the period's count of buckets is reached. A candidate already
// kept by a finer period consumes its bucket but not the budget. The keep-set
// is then capped at maxKeep, most recent first, even if that drops a
// bucket's only survivor.
//
// An empty policy keeps the maxKeep most recent candidates.
func PruneSet(cands []Candidate, policy Policy, maxKeep int) (keep, prune []Candidate) {
	if maxKeep <= 0 {
		maxKeep = DefaultMaxKeep
	}
	if len(policy) == 0 {
		policy = Policy{PeriodCount: maxKeep}
	}

	sorted := make([]Candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name > sorted[j].Name })

	kept := make(map[string]bool, len(sorted))
	for _, per := range Periods {
		want := policy[per]
		if want <= 0 {
			continue
		}
		last := ""
		n := 0
		for i, c := range sorted {
			key := per.bucket(c.Time)
			if i > 0 && key == last {
				continue
			}
			last = key
			if kept[c.Name] {
				continue
			}
			kept[c.Name] = true
			n++
			if n == want {
				break
			}
		}
	}

	for _, c := range sorted {
		if kept[c.Name] && len(keep) < maxKeep {
			keep = append(keep, c)
			continue
		}
		prune = append(prune, c)
	}
	return keep, prune
}
