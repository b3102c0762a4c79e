package series

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func hourlyWindow(hours int) TimeDescription {
	return TimeDescription{From: base, To: base.Add(time.Duration(hours) * time.Hour), Interval: time.Hour}
}

func complete(hours int) []Observation {
	out := make([]Observation, 0, hours+1)
	for h := 0; h <= hours; h++ {
		out = append(out, actual(h, "1.0"))
	}
	return out
}

func TestStalenessEmptyCache(t *testing.T) {
	r := AssessStaleness(nil, hourlyWindow(9), base, time.Hour)
	assert.True(t, r.Stale)
	assert.True(t, r.Incomplete)
	assert.Equal(t, 10, r.Missing)
}

func TestStalenessIncompleteCache(t *testing.T) {
	cached := complete(9)
	cached = append(cached[:4], cached[5:]...)

	r := AssessStaleness(cached, hourlyWindow(9), base.Add(9*time.Hour), 0)
	assert.True(t, r.Stale)
	assert.Equal(t, 1, r.Missing)
	assert.Contains(t, r.Reason, "missing 1 of 10")
}

func TestStalenessOldButCompleteCache(t *testing.T) {
	cached := complete(9)
	ref := base.Add(9 * time.Hour)

	fresh := AssessStaleness(cached, hourlyWindow(9), ref, 2*time.Hour)
	assert.False(t, fresh.Stale)

	// Freshest generation is 12:00; two days later it is too old.
	old := AssessStaleness(cached, hourlyWindow(9), ref.Add(48*time.Hour), 24*time.Hour)
	assert.True(t, old.Stale)
	assert.True(t, old.TooOld)
	assert.False(t, old.Incomplete)

	// A zero window never ages data out.
	assert.False(t, AssessStaleness(cached, hourlyWindow(9), ref.Add(48*time.Hour), 0).Stale)
}

// Several generations for one verified time are flagged, and only the most
// recent generation is used for the age rule.
func TestStalenessMultipleGenerations(t *testing.T) {
	ref := base.Add(30 * time.Hour)
	window := hourlyWindow(2)

	var cached []Observation
	for _, gen := range []time.Duration{-48 * time.Hour, -time.Hour} {
		for h := 0; h <= 2; h++ {
			o := actual(h, "1.0")
			o.IsActual = false
			o.TimeGenerated = ref.Add(gen)
			cached = append(cached, o)
		}
	}

	r := AssessStaleness(cached, window, ref, 6*time.Hour)
	assert.True(t, r.MultipleGenerations)
	assert.False(t, r.Stale, "newest generation is within the window")
	assert.True(t, r.Freshest.Equal(ref.Add(-time.Hour)))

	// With only the old generation left the same cache is too old.
	r = AssessStaleness(cached[:3], window, ref, 6*time.Hour)
	assert.False(t, r.MultipleGenerations)
	assert.True(t, r.Stale)
}
