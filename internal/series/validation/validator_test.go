package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/series-acquisition/internal/series"
)

func day(d int) time.Time {
	return time.Date(2023, 1, d, 0, 0, 0, 0, time.UTC)
}

func seriesAt(desc series.SeriesDescription, window series.TimeDescription, times ...time.Time) *series.Series {
	s := &series.Series{Description: desc, Window: window}
	for _, ts := range times {
		s.Observations = append(s.Observations, series.Observation{
			Value:         "1.0",
			Unit:          desc.Unit,
			TimeVerified:  ts,
			TimeGenerated: ts,
		})
	}
	return s
}

func countSeries(n int, ov *series.VerificationOverride) *series.Series {
	desc := series.SeriesDescription{Source: "S", Series: "x", Location: "L", Unit: "m", Override: ov}
	window := series.TimeDescription{From: day(1), To: day(1)}
	s := &series.Series{Description: desc, Window: window}
	for i := 0; i < n; i++ {
		s.Observations = append(s.Observations, series.Observation{TimeVerified: day(1).Add(time.Duration(i) * time.Minute)})
	}
	return s
}

func TestDateRangeComplete(t *testing.T) {
	window := series.TimeDescription{From: day(1), To: day(3), Interval: 24 * time.Hour}
	s := seriesAt(series.SeriesDescription{Unit: "m"}, window, day(1), day(2), day(3))

	res, err := DateRange{}.Validate(s)
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestDateRangeMissingDay(t *testing.T) {
	window := series.TimeDescription{From: day(1), To: day(3), Interval: 24 * time.Hour}
	s := seriesAt(series.SeriesDescription{Unit: "m"}, window, day(1), day(3))

	res, err := DateRange{}.Validate(s)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "missing 1 of 3 expected points", res.Reason)
}

func TestDateRangeEmpty(t *testing.T) {
	window := series.TimeDescription{From: day(1), To: day(3), Interval: 24 * time.Hour}
	res, err := DateRange{}.Validate(seriesAt(series.SeriesDescription{}, window))
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestOverride(t *testing.T) {
	tests := []struct {
		name  string
		count int
		ov    series.VerificationOverride
		want  bool
	}{
		{"equals matches", 5, series.VerificationOverride{Label: series.OverrideEquals, Threshold: 5}, true},
		{"equals differs", 5, series.VerificationOverride{Label: series.OverrideEquals, Threshold: 3}, false},
		{"gte above", 6, series.VerificationOverride{Label: series.OverrideGreaterThanOrEqual, Threshold: 3}, true},
		{"gte below", 2, series.VerificationOverride{Label: series.OverrideGreaterThanOrEqual, Threshold: 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ov := tt.ov
			res, err := Override{}.Validate(countSeries(tt.count, &ov))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.OK)
		})
	}
}

func TestOverrideUnknownLabelIsConfigurationError(t *testing.T) {
	_, err := Override{}.Validate(countSeries(3, &series.VerificationOverride{Label: "lessThan", Threshold: 1}))
	require.Error(t, err)
	assert.True(t, series.IsConfigurationError(err))
}

func TestOverrideEmptyGuardRunsFirst(t *testing.T) {
	res, err := Override{}.Validate(countSeries(0, &series.VerificationOverride{Label: "lessThan"}))
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestChainAndsSelectedValidators(t *testing.T) {
	window := series.TimeDescription{From: day(1), To: day(3), Interval: 24 * time.Hour}
	desc := series.SeriesDescription{
		Unit:         "m",
		Verification: []string{NameDateRange, NameOverride},
		Override:     &series.VerificationOverride{Label: series.OverrideEquals, Threshold: 3},
	}
	chain := NewChain()

	ok, reason, err := chain.Validate(seriesAt(desc, window, day(1), day(2), day(3)))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reason)

	ok, reason, err = chain.Validate(seriesAt(desc, window, day(1), day(3)))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "dateRange: missing 1 of 3 expected points")
	assert.Contains(t, reason, "override: expected exactly 3 observations, got 2")
}

func TestChainNoSelectionAccepts(t *testing.T) {
	window := series.TimeDescription{From: day(1), To: day(3), Interval: 24 * time.Hour}
	ok, _, err := NewChain().Validate(seriesAt(series.SeriesDescription{}, window, day(1)))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChainCheckRejectsUnknownName(t *testing.T) {
	err := NewChain().Check([]string{NameDateRange, "completeness"})
	require.Error(t, err)
	assert.True(t, series.IsConfigurationError(err))
	assert.NoError(t, NewChain().Check([]string{NameOverride}))
}
