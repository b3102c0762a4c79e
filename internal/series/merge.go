package series

import (
	"sort"
	"time"
)

// Merge combines cached and freshly fetched observations into one collection.
// Rows sharing a natural key collapse to one: the most recently acquired
// instance wins, and on a tie the later argument (fresh over cached) wins.
// The result is ordered by verified time, then generated time, then member.
func Merge(sets ...[]Observation) []Observation {
	total := 0
	for _, set := range sets {
		total += len(set)
	}
	if total == 0 {
		return nil
	}

	index := make(map[NaturalKey]int, total)
	out := make([]Observation, 0, total)

	for _, set := range sets {
		for _, o := range set {
			k := o.Key()
			if i, ok := index[k]; ok {
				if !o.TimeAcquired.Before(out[i].TimeAcquired) {
					out[i] = o
				}
				continue
			}
			index[k] = len(out)
			out = append(out, o)
		}
	}

	SortObservations(out)
	return out
}

// SortObservations orders observations by verified time ascending, breaking
// ties by generated time and ensemble member.
func SortObservations(obs []Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		a, b := obs[i], obs[j]
		if !a.TimeVerified.Equal(b.TimeVerified) {
			return a.TimeVerified.Before(b.TimeVerified)
		}
		if !a.TimeGenerated.Equal(b.TimeGenerated) {
			return a.TimeGenerated.Before(b.TimeGenerated)
		}
		return memberOrder(a.EnsembleMemberID) < memberOrder(b.EnsembleMemberID)
	})
}

func memberOrder(m *int) int {
	if m == nil {
		return -1
	}
	return *m
}

// WithinWindow drops observations verified outside [From, To].
func WithinWindow(obs []Observation, window TimeDescription) []Observation {
	out := obs[:0:0]
	for _, o := range obs {
		if window.Contains(o.TimeVerified) {
			out = append(out, o)
		}
	}
	return out
}

// LatestGenerated returns the most recent TimeGenerated among obs.
func LatestGenerated(obs []Observation) time.Time {
	var latest time.Time
	for _, o := range obs {
		if o.TimeGenerated.After(latest) {
			latest = o.TimeGenerated
		}
	}
	return latest
}
