package series

import (
	"fmt"
	"time"
)

// StalenessReport explains why a cached result does or does not need refetching.
type StalenessReport struct {
	Stale      bool
	Incomplete bool
	TooOld     bool
	Missing    int
	Expected   int
	Freshest   time.Time
	// MultipleGenerations is set when some verified time carries more than one
	// generation. It is reported, never acted on.
	MultipleGenerations bool
	Reason              string
}

// AssessStaleness decides whether cached rows are good enough for window.
//
// The cache is stale when it does not cover every expected slot, or when its
// freshest generation is older than referenceTime - maxAge. Only the most
// recent generation is considered for the age rule. A zero maxAge disables it.
func AssessStaleness(cached []Observation, window TimeDescription, referenceTime time.Time, maxAge time.Duration) StalenessReport {
	expected := window.Times()
	r := StalenessReport{Expected: len(expected)}

	if len(cached) == 0 {
		r.Stale, r.Incomplete, r.Missing = true, true, len(expected)
		r.Reason = "no cached observations"
		return r
	}

	present := make(map[int64]struct{}, len(cached))
	generations := make(map[int64]map[int64]struct{}, len(cached))
	for _, o := range cached {
		tv := o.TimeVerified.UnixNano()
		present[tv] = struct{}{}
		g, ok := generations[tv]
		if !ok {
			g = make(map[int64]struct{}, 1)
			generations[tv] = g
		}
		g[o.TimeGenerated.UnixNano()] = struct{}{}
		if len(g) > 1 {
			r.MultipleGenerations = true
		}
	}

	for _, ts := range expected {
		if _, ok := present[ts.UnixNano()]; !ok {
			r.Missing++
		}
	}
	r.Freshest = LatestGenerated(cached)

	if r.Missing > 0 {
		r.Incomplete = true
		r.Stale = true
		r.Reason = fmt.Sprintf("cache missing %d of %d expected points", r.Missing, r.Expected)
	}
	if maxAge > 0 && r.Freshest.Before(referenceTime.Add(-maxAge)) {
		r.TooOld = true
		r.Stale = true
		age := fmt.Sprintf("freshest generation %s older than %s", r.Freshest.UTC().Format(time.RFC3339), maxAge)
		if r.Reason != "" {
			r.Reason += "; " + age
		} else {
			r.Reason = age
		}
	}
	return r
}
