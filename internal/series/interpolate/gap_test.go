package interpolate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/series-acquisition/internal/series"
)

var t0 = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func hour(h int) time.Time { return t0.Add(time.Duration(h) * time.Hour) }

func hourly(cfg *series.IntegrityConfig, hours int, values map[int]string) *series.Series {
	lat, lon := 27.8, -97.1
	desc := series.SeriesDescription{
		Source: "NOAATANDC", Series: "dWl", Location: "packChan", Unit: "meter",
		Interval: time.Hour, Integrity: cfg,
	}
	s := &series.Series{
		Description: desc,
		Window:      series.TimeDescription{From: hour(0), To: hour(hours - 1), Interval: time.Hour},
		IsComplete:  false,
		Reason:      "dateRange: missing",
	}
	for h := 0; h < hours; h++ {
		v, ok := values[h]
		if !ok {
			continue
		}
		s.Observations = append(s.Observations, series.Observation{
			Value: v, Unit: "meter", TimeVerified: hour(h), TimeGenerated: hour(h),
			TimeAcquired: hour(48), Latitude: &lat, Longitude: &lon, IsActual: true,
			Source: desc.Source, Series: desc.Series, Location: desc.Location,
		})
	}
	return s
}

func valuesOf(s *series.Series) map[time.Time]string {
	out := make(map[time.Time]string, s.Len())
	for _, o := range s.Observations {
		out[o.TimeVerified] = o.Value
	}
	return out
}

func TestFillsSingleHourGapWithinLimit(t *testing.T) {
	cfg := &series.IntegrityConfig{Method: series.MethodLinear, MaxGapSeconds: 7200}
	in := hourly(cfg, 3, map[int]string{0: "1.0", 2: "3.0"})

	out, err := New().Fill(in)
	require.NoError(t, err)
	require.Equal(t, 3, out.Len())
	assert.Equal(t, "2", valuesOf(out)[hour(1)])

	filled := out.Observations[1]
	assert.Equal(t, "meter", filled.Unit)
	assert.Equal(t, hour(1), filled.TimeGenerated, "actuals keep generated == verified")
	require.NotNil(t, filled.Latitude)
	assert.Equal(t, 27.8, *filled.Latitude)
	assert.Equal(t, "packChan", filled.Location)

	assert.Equal(t, 2, in.Len(), "input is not mutated")
	assert.False(t, out.IsComplete, "interpolation does not change the verdict")
	assert.Equal(t, in.Reason, out.Reason)
}

func TestZeroMaxGapDropsMissingRow(t *testing.T) {
	cfg := &series.IntegrityConfig{Method: series.MethodLinear, MaxGapSeconds: 0}
	out, err := New().Fill(hourly(cfg, 3, map[int]string{0: "1.0", 2: "3.0"}))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Len())
	_, ok := valuesOf(out)[hour(1)]
	assert.False(t, ok)
}

func TestRunLongerThanLimitIsNeverFilled(t *testing.T) {
	cfg := &series.IntegrityConfig{Method: series.MethodLinear, MaxGapSeconds: 7200}
	// hours 1,2,3 missing: run of 3 > limit 2; hour 5 missing: run of 1.
	out, err := New().Fill(hourly(cfg, 7, map[int]string{0: "0", 4: "4", 6: "6"}))
	require.NoError(t, err)

	vals := valuesOf(out)
	for _, h := range []int{1, 2, 3} {
		_, ok := vals[hour(h)]
		assert.False(t, ok, "hour %d should stay missing", h)
	}
	assert.Equal(t, "5", vals[hour(5)])
	assert.Equal(t, 4, out.Len())
}

func TestLimitAreaInsideSkipsEdges(t *testing.T) {
	cfg := &series.IntegrityConfig{Method: series.MethodLinear, MaxGapSeconds: 3600, LimitArea: series.LimitAreaInside}
	out, err := New().Fill(hourly(cfg, 5, map[int]string{1: "1", 3: "3"}))
	require.NoError(t, err)

	vals := valuesOf(out)
	assert.Equal(t, "2", vals[hour(2)])
	_, lead := vals[hour(0)]
	_, trail := vals[hour(4)]
	assert.False(t, lead)
	assert.False(t, trail)
}

func TestLimitAreaOutsideFillsOnlyEdges(t *testing.T) {
	cfg := &series.IntegrityConfig{Method: series.MethodLinear, MaxGapSeconds: 3600, LimitArea: series.LimitAreaOutside}
	out, err := New().Fill(hourly(cfg, 5, map[int]string{1: "1", 3: "3"}))
	require.NoError(t, err)

	vals := valuesOf(out)
	assert.Equal(t, "1", vals[hour(0)])
	assert.Equal(t, "3", vals[hour(4)])
	_, mid := vals[hour(2)]
	assert.False(t, mid)

	// The leading row has no earlier neighbour, so it borrows metadata from the next one.
	assert.Equal(t, "meter", out.Observations[0].Unit)
}

func TestFfillLeavesLeadingGap(t *testing.T) {
	cfg := &series.IntegrityConfig{Method: series.MethodFfill, MaxGapSeconds: 3600}
	out, err := New().Fill(hourly(cfg, 4, map[int]string{1: "1.5", 3: "9"}))
	require.NoError(t, err)

	vals := valuesOf(out)
	assert.Equal(t, "1.5", vals[hour(2)])
	_, lead := vals[hour(0)]
	assert.False(t, lead)
}

func TestNearestPicksCloserNeighbour(t *testing.T) {
	cfg := &series.IntegrityConfig{Method: series.MethodNearest, MaxGapSeconds: 3 * 3600}
	out, err := New().Fill(hourly(cfg, 5, map[int]string{0: "0", 4: "8"}))
	require.NoError(t, err)

	vals := valuesOf(out)
	assert.Equal(t, "0", vals[hour(1)])
	assert.Equal(t, "0", vals[hour(2)])
	assert.Equal(t, "8", vals[hour(3)])
}

func TestEnsembleMembersAreIndependentChannels(t *testing.T) {
	cfg := &series.IntegrityConfig{Method: series.MethodLinear, MaxGapSeconds: 3600}
	in := hourly(cfg, 3, nil)
	gen := hour(-6)
	add := func(member, h int, v string) {
		m := member
		in.Observations = append(in.Observations, series.Observation{
			Value: v, Unit: "mps", TimeVerified: hour(h), TimeGenerated: gen,
			EnsembleMemberID: &m,
		})
	}
	add(0, 0, "1")
	add(0, 2, "3")
	add(1, 0, "10")
	add(1, 1, "20")
	add(1, 2, "30")

	out, err := New().Fill(in)
	require.NoError(t, err)
	require.Equal(t, 6, out.Len())

	var member0 []string
	for _, o := range out.Observations {
		require.NotNil(t, o.EnsembleMemberID)
		if *o.EnsembleMemberID == 0 {
			member0 = append(member0, o.Value)
			assert.Equal(t, gen, o.TimeGenerated)
		}
	}
	assert.Equal(t, []string{"1", "2", "3"}, member0)
}

func TestLatestGenerationWinsPerSlot(t *testing.T) {
	cfg := &series.IntegrityConfig{Method: series.MethodLinear, MaxGapSeconds: 3600}
	in := hourly(cfg, 2, map[int]string{0: "1", 1: "2"})
	newer := in.Observations[1]
	newer.IsActual = false
	newer.TimeGenerated = hour(5)
	newer.Value = "7"
	in.Observations = append(in.Observations, newer)

	out, err := New().Fill(in)
	require.NoError(t, err)
	assert.Equal(t, "7", valuesOf(out)[hour(1)])
	assert.Equal(t, 2, out.Len())
}

func TestUnknownMethodIsConfigurationError(t *testing.T) {
	cfg := &series.IntegrityConfig{Method: "spline", MaxGapSeconds: 3600}
	_, err := New().Fill(hourly(cfg, 2, map[int]string{0: "1"}))
	require.Error(t, err)
	assert.True(t, series.IsConfigurationError(err))
}
