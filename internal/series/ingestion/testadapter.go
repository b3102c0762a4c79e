package ingestion

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/i474232898/series-acquisition/internal/series"
)

// Test adapter modes.
const (
	ModeFixed       = "fixed"
	ModeGaps        = "gaps"
	ModeEnsemble    = "ensemble"
	ModeEmpty       = "empty"
	ModeUnavailable = "unavailable"
	ModeFault       = "fault"
)

// TestOptions configures the deterministic test adapter.
type TestOptions struct {
	// Mode applies to any external code not listed in Locations.
	Mode string `yaml:"mode"`
	// Locations overrides the mode per external location code.
	Locations map[string]string `yaml:"locations"`
	// Value is the first value; Step is added per slot.
	Value float64 `yaml:"value"`
	Step  float64 `yaml:"step"`
	// MissingEvery drops every Nth slot in gaps mode.
	MissingEvery int `yaml:"missingEvery"`
	// Members is the ensemble size in ensemble mode.
	Members int `yaml:"members"`
}

// TestAdapter produces fixed, gappy, failing or faulting fixtures without
// any network access. It is a regular registry entry.
type TestAdapter struct {
	opts TestOptions

	mu    sync.Mutex
	calls []string
}

// NewTestAdapter validates opts and returns a TestAdapter.
func NewTestAdapter(opts TestOptions) (*TestAdapter, error) {
	if opts.Mode == "" {
		opts.Mode = ModeFixed
	}
	modes := []string{opts.Mode}
	for _, m := range opts.Locations {
		modes = append(modes, m)
	}
	for _, m := range modes {
		switch m {
		case ModeFixed, ModeGaps, ModeEnsemble, ModeEmpty, ModeUnavailable, ModeFault:
		default:
			return nil, series.NewConfigurationError("ingestion.NewTestAdapter", "unknown test mode %q", m)
		}
	}
	if opts.MissingEvery <= 0 {
		opts.MissingEvery = 3
	}
	if opts.Members <= 0 {
		opts.Members = 3
	}
	return &TestAdapter{opts: opts}, nil
}

func (a *TestAdapter) Name() string { return "test" }

// Calls lists the external codes fetched so far, in order.
func (a *TestAdapter) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func (a *TestAdapter) Fetch(_ context.Context, req series.FetchRequest) ([]series.Observation, error) {
	a.mu.Lock()
	a.calls = append(a.calls, req.ExternalLocation)
	a.mu.Unlock()

	mode := a.opts.Mode
	if m, ok := a.opts.Locations[req.ExternalLocation]; ok {
		mode = m
	}

	switch mode {
	case ModeEmpty:
		return nil, nil
	case ModeUnavailable:
		return nil, &series.IngestionFailure{
			Adapter:  a.Name(),
			Location: req.ExternalLocation,
			Err:      errors.New("test source unavailable"),
		}
	case ModeFault:
		return nil, errors.New("test adapter fault")
	}

	var out []series.Observation
	for i, ts := range req.Window.Times() {
		if mode == ModeGaps && i%a.opts.MissingEvery == a.opts.MissingEvery-1 {
			continue
		}
		v := a.opts.Value + a.opts.Step*float64(i)
		if mode != ModeEnsemble {
			out = append(out, series.Observation{
				Value:         strconv.FormatFloat(v, 'f', -1, 64),
				Unit:          req.Description.Unit,
				TimeVerified:  ts,
				TimeGenerated: ts,
				TimeAcquired:  req.AcquiredAt,
				IsActual:      true,
			})
			continue
		}
		for m := 0; m < a.opts.Members; m++ {
			member := m
			out = append(out, series.Observation{
				Value:            strconv.FormatFloat(v+float64(m), 'f', -1, 64),
				Unit:             req.Description.Unit,
				TimeVerified:     ts,
				TimeGenerated:    req.Window.From,
				TimeAcquired:     req.AcquiredAt,
				EnsembleMemberID: &member,
			})
		}
	}
	return out, nil
}
