package series_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/series-acquisition/internal/mapping"
	"github.com/i474232898/series-acquisition/internal/series"
	"github.com/i474232898/series-acquisition/internal/series/ingestion"
	"github.com/i474232898/series-acquisition/internal/series/interpolate"
	"github.com/i474232898/series-acquisition/internal/series/validation"
	"github.com/i474232898/series-acquisition/internal/store"
)

var (
	windowFrom = time.Date(2000, 1, 1, 3, 0, 0, 0, time.UTC)
	windowTo   = time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)
	acquiredAt = time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC)
)

func packChan() series.SeriesDescription {
	return series.SeriesDescription{
		Source:       "NOAATANDC",
		Series:       "dWl",
		Location:     "packChan",
		Unit:         "meter",
		Interval:     time.Hour,
		Verification: []string{validation.NameDateRange},
	}
}

func window() series.TimeDescription {
	return series.TimeDescription{From: windowFrom, To: windowTo, Interval: time.Hour}
}

type fixture struct {
	store    *store.MemoryStore
	adapter  series.Adapter
	provider *series.SeriesProvider
}

func (f *fixture) calls() []string {
	if a, ok := f.adapter.(*ingestion.TestAdapter); ok {
		return a.Calls()
	}
	return nil
}

func newFixture(t *testing.T, adapter series.Adapter, entries []mapping.Entry, opts ...series.Option) *fixture {
	t.Helper()
	reg := ingestion.NewRegistry()
	require.NoError(t, reg.Register(ingestion.Route{Source: "NOAATANDC", Series: "dWl", Interval: time.Hour, Default: true, Adapter: adapter}))

	table, err := mapping.NewTable(entries)
	require.NoError(t, err)

	mem := store.NewMemoryStore(0)
	opts = append([]series.Option{
		series.WithClock(func() time.Time { return acquiredAt }),
		series.WithInterpolator(interpolate.New()),
	}, opts...)
	return &fixture{
		store:    mem,
		adapter:  adapter,
		provider: series.NewSeriesProvider(mem, reg, table, validation.NewChain(), opts...),
	}
}

func testAdapter(t *testing.T, opts ingestion.TestOptions) *ingestion.TestAdapter {
	t.Helper()
	a, err := ingestion.NewTestAdapter(opts)
	require.NoError(t, err)
	return a
}

var primary = []mapping.Entry{{Location: "packChan", Source: "NOAATANDC", External: "8775792", Priority: 0}}

func TestAcquireHourlyWaterLevel(t *testing.T) {
	f := newFixture(t, testAdapter(t, ingestion.TestOptions{Value: 0.5, Step: 0.01}), primary)

	s, err := f.provider.Acquire(context.Background(), packChan(), window(), windowTo)
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Len(t, s.Observations, 10)
	assert.True(t, s.IsComplete)
	assert.Empty(t, s.Reason)
	assert.Equal(t, []string{"8775792"}, f.calls())
	assert.Equal(t, 10, f.store.Len(), "fetched rows are persisted")

	first := s.Observations[0]
	assert.Equal(t, "NOAATANDC", first.Source)
	assert.Equal(t, "packChan", first.Location)
	assert.Equal(t, "dWl", first.Series)
	assert.True(t, first.TimeAcquired.Equal(acquiredAt))
}

func TestAcquireFreshCacheSkipsIngestion(t *testing.T) {
	f := newFixture(t, testAdapter(t, ingestion.TestOptions{}), primary, series.WithStalenessWindow(48*time.Hour))
	ctx := context.Background()

	_, err := f.provider.Acquire(ctx, packChan(), window(), windowTo)
	require.NoError(t, err)
	s, err := f.provider.Acquire(ctx, packChan(), window(), windowTo)
	require.NoError(t, err)

	assert.True(t, s.IsComplete)
	assert.Len(t, s.Observations, 10)
	assert.Len(t, f.calls(), 1, "second acquisition is served from the store")
	assert.Equal(t, 10, f.store.Len())
}

func TestAcquireFallsBackByPriority(t *testing.T) {
	adapter := testAdapter(t, ingestion.TestOptions{Locations: map[string]string{"8775792": ingestion.ModeUnavailable}})
	f := newFixture(t, adapter, []mapping.Entry{
		{Location: "packChan", Source: "NOAATANDC", External: "8775870", Priority: 2},
		{Location: "packChan", Source: "NOAATANDC", External: "8775792", Priority: 0},
	})

	s, err := f.provider.Acquire(context.Background(), packChan(), window(), windowTo)
	require.NoError(t, err)
	assert.Equal(t, []string{"8775792", "8775870"}, f.calls())
	assert.True(t, s.IsComplete)
	assert.Len(t, s.Observations, 10)
}

func TestAcquireEmptyResultFallsBack(t *testing.T) {
	adapter := testAdapter(t, ingestion.TestOptions{Locations: map[string]string{"8775792": ingestion.ModeEmpty}})
	f := newFixture(t, adapter, []mapping.Entry{
		{Location: "packChan", Source: "NOAATANDC", External: "8775792", Priority: 0},
		{Location: "packChan", Source: "NOAATANDC", External: "8775870", Priority: 1},
	})

	s, err := f.provider.Acquire(context.Background(), packChan(), window(), windowTo)
	require.NoError(t, err)
	assert.Equal(t, []string{"8775792", "8775870"}, f.calls())
	assert.True(t, s.IsComplete)
}

func TestAcquireValidationFailureDoesNotFallBack(t *testing.T) {
	adapter := testAdapter(t, ingestion.TestOptions{Mode: ingestion.ModeGaps})
	f := newFixture(t, adapter, []mapping.Entry{
		{Location: "packChan", Source: "NOAATANDC", External: "8775792", Priority: 0},
		{Location: "packChan", Source: "NOAATANDC", External: "8775870", Priority: 1},
	})

	s, err := f.provider.Acquire(context.Background(), packChan(), window(), windowTo)
	require.NoError(t, err)
	assert.Equal(t, []string{"8775792"}, f.calls())
	assert.False(t, s.IsComplete)
	assert.Contains(t, s.Reason, "dateRange: missing 3 of 10 expected points")
	assert.Len(t, s.Observations, 7)
}

func TestAcquireStaleCacheIsRefetched(t *testing.T) {
	f := newFixture(t, testAdapter(t, ingestion.TestOptions{Value: 2}), primary, series.WithStalenessWindow(time.Hour))
	ctx := context.Background()

	// A complete cache acquired long ago, with its freshest generation at 12:00.
	var cached []series.Observation
	for i, ts := range window().Times() {
		cached = append(cached, series.Observation{
			Value: "1." + strconv.Itoa(i), Unit: "meter", IsActual: true,
			TimeVerified: ts, TimeGenerated: ts, TimeAcquired: windowTo,
			Source: "NOAATANDC", Series: "dWl", Location: "packChan",
		})
	}
	_, err := f.store.UpsertObservations(ctx, cached)
	require.NoError(t, err)

	reference := windowTo.Add(24 * time.Hour)
	s, err := f.provider.Acquire(ctx, packChan(), window(), reference)
	require.NoError(t, err)

	assert.Equal(t, []string{"8775792"}, f.calls(), "complete but old data is refetched")
	require.Len(t, s.Observations, 10)
	assert.Equal(t, "2", s.Observations[0].Value, "the more recent acquisition wins the merge")
	assert.True(t, s.IsComplete)
}

func TestAcquireUnmappedAdapterIsConfigurationError(t *testing.T) {
	f := newFixture(t, testAdapter(t, ingestion.TestOptions{}), primary)
	desc := packChan()
	desc.Series = "pWl"

	s, err := f.provider.Acquire(context.Background(), desc, window(), windowTo)
	assert.Nil(t, s)
	assert.True(t, series.IsConfigurationError(err))

	desc = packChan()
	desc.Interval = 6 * time.Minute
	w := window()
	w.Interval = 6 * time.Minute
	_, err = f.provider.Acquire(context.Background(), desc, w, windowTo)
	assert.True(t, series.IsConfigurationError(err))
}

func TestAcquireUnknownValidatorIsConfigurationError(t *testing.T) {
	f := newFixture(t, testAdapter(t, ingestion.TestOptions{}), primary)
	desc := packChan()
	desc.Verification = []string{"spline"}

	_, err := f.provider.Acquire(context.Background(), desc, window(), windowTo)
	assert.True(t, series.IsConfigurationError(err))
}

func TestAcquireAdapterFaultPropagates(t *testing.T) {
	f := newFixture(t, testAdapter(t, ingestion.TestOptions{Mode: ingestion.ModeFault}), primary)

	_, err := f.provider.Acquire(context.Background(), packChan(), window(), windowTo)
	var pe *series.ProgrammingError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Error(), "test adapter fault")
}

func TestAcquireTotalFailureReturnsEmptySeries(t *testing.T) {
	adapter := testAdapter(t, ingestion.TestOptions{Mode: ingestion.ModeUnavailable})
	f := newFixture(t, adapter, []mapping.Entry{
		{Location: "packChan", Source: "NOAATANDC", External: "8775792", Priority: 0},
		{Location: "packChan", Source: "NOAATANDC", External: "8775870", Priority: 2},
	})

	s, err := f.provider.Acquire(context.Background(), packChan(), window(), windowTo)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Empty(t, s.Observations)
	assert.False(t, s.IsComplete)
	assert.Contains(t, s.Reason, "ingestion exhausted after 2 attempt(s)")
	assert.Equal(t, 0, f.store.Len())
}

func TestAcquireWithoutLocationMapping(t *testing.T) {
	f := newFixture(t, testAdapter(t, ingestion.TestOptions{}), nil)

	s, err := f.provider.Acquire(context.Background(), packChan(), window(), windowTo)
	require.NoError(t, err)
	assert.False(t, s.IsComplete)
	assert.Contains(t, s.Reason, "no location mapping for packChan/NOAATANDC")
	assert.Empty(t, f.calls())
}

// sprayAdapter returns points on both sides of the requested window.
type sprayAdapter struct{}

func (sprayAdapter) Name() string { return "spray" }

func (sprayAdapter) Fetch(_ context.Context, req series.FetchRequest) ([]series.Observation, error) {
	var out []series.Observation
	for ts := req.Window.From.Add(-3 * time.Hour); !ts.After(req.Window.To.Add(3 * time.Hour)); ts = ts.Add(time.Hour) {
		out = append(out, series.Observation{Value: "1", TimeVerified: ts, IsActual: true})
	}
	return out, nil
}

func TestAcquireKeepsObservationsInsideWindow(t *testing.T) {
	f := newFixture(t, sprayAdapter{}, primary)

	s, err := f.provider.Acquire(context.Background(), packChan(), window(), windowTo)
	require.NoError(t, err)
	require.Len(t, s.Observations, 10)
	for _, o := range s.Observations {
		assert.True(t, s.Window.Contains(o.TimeVerified), "%s outside window", o.TimeVerified)
		assert.Equal(t, "meter", o.Unit, "unit stamped from the description")
		assert.True(t, o.TimeGenerated.Equal(o.TimeVerified))
	}
	assert.Equal(t, 10, f.store.Len(), "out-of-window rows are not persisted")
}

func TestAcquireInterpolatesAfterValidation(t *testing.T) {
	f := newFixture(t, testAdapter(t, ingestion.TestOptions{Mode: ingestion.ModeGaps, Value: 1, Step: 1}), primary)
	desc := packChan()
	desc.Integrity = &series.IntegrityConfig{Method: series.MethodLinear, MaxGapSeconds: 7200}

	s, err := f.provider.Acquire(context.Background(), desc, window(), windowTo)
	require.NoError(t, err)

	assert.False(t, s.IsComplete, "the verdict is taken before gaps are filled")
	require.Len(t, s.Observations, 10)
	// Slot 2 was missing between 2 and 4.
	assert.Equal(t, "3", s.Observations[2].Value)
	assert.Equal(t, 7, f.store.Len(), "interpolated rows are not persisted")
}

func TestAcquireOverrideValidator(t *testing.T) {
	f := newFixture(t, testAdapter(t, ingestion.TestOptions{Mode: ingestion.ModeGaps}), primary)
	desc := packChan()
	desc.Verification = []string{validation.NameOverride}
	desc.Override = &series.VerificationOverride{Label: series.OverrideGreaterThanOrEqual, Threshold: 5}

	s, err := f.provider.Acquire(context.Background(), desc, window(), windowTo)
	require.NoError(t, err)
	assert.True(t, s.IsComplete)
	assert.Len(t, s.Observations, 7)
}

func TestAcquireEnsembleChannels(t *testing.T) {
	f := newFixture(t, testAdapter(t, ingestion.TestOptions{Mode: ingestion.ModeEnsemble, Members: 4}), primary)
	desc := packChan()
	desc.Verification = nil

	s, err := f.provider.Acquire(context.Background(), desc, window(), windowTo)
	require.NoError(t, err)
	assert.True(t, s.IsComplete)
	assert.Len(t, s.Observations, 40)

	seen := map[series.NaturalKey]bool{}
	for _, o := range s.Observations {
		require.False(t, seen[o.Key()])
		seen[o.Key()] = true
	}
}

func TestAcquireRejectsBadInput(t *testing.T) {
	f := newFixture(t, testAdapter(t, ingestion.TestOptions{}), primary)

	reversed := series.TimeDescription{From: windowTo, To: windowFrom, Interval: time.Hour}
	_, err := f.provider.Acquire(context.Background(), packChan(), reversed, windowTo)
	assert.True(t, series.IsConfigurationError(err))

	desc := packChan()
	desc.Override = &series.VerificationOverride{Label: "atMost"}
	_, err = f.provider.Acquire(context.Background(), desc, window(), windowTo)
	assert.True(t, series.IsConfigurationError(err))
	assert.Empty(t, f.calls())
}

func TestAcquireCancelledContext(t *testing.T) {
	f := newFixture(t, testAdapter(t, ingestion.TestOptions{}), primary)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.provider.Acquire(ctx, packChan(), window(), windowTo)
	assert.True(t, errors.Is(err, context.Canceled))
}

// failingStore fails every call; the engine carries on without a cache.
type failingStore struct{}

func (failingStore) QueryObservations(context.Context, series.ObservationFilter, series.TimeDescription) ([]series.Observation, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) UpsertObservations(context.Context, []series.Observation) (int, error) {
	return 0, errors.New("connection refused")
}

func TestAcquireSurvivesStoreOutage(t *testing.T) {
	reg := ingestion.NewRegistry()
	adapter := testAdapter(t, ingestion.TestOptions{})
	require.NoError(t, reg.Register(ingestion.Route{Source: "NOAATANDC", Series: "dWl", Interval: time.Hour, Adapter: adapter}))
	table, err := mapping.NewTable(primary)
	require.NoError(t, err)

	p := series.NewSeriesProvider(failingStore{}, reg, table, validation.NewChain())
	s, err := p.Acquire(context.Background(), packChan(), window(), windowTo)
	require.NoError(t, err)
	assert.True(t, s.IsComplete)
	assert.Len(t, s.Observations, 10)
}
