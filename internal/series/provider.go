package series

import (
	"context"
	"time"
)

// FetchRequest is what an adapter receives: the description, the window and
// the provider-specific location code chosen from the mapping table.
type FetchRequest struct {
	Description      SeriesDescription
	Window           TimeDescription
	ExternalLocation string
	AcquiredAt       time.Time
}

// Adapter abstracts one upstream source (NOAA CO-OPS, an ensemble API, model output, ...).
//
// Transient upstream trouble and "no data" must come back as an *IngestionFailure.
// Any other error is treated as a defect and propagates to the caller.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, req FetchRequest) ([]Observation, error)
}

// AdapterResolver picks the adapter for a (source, series, interval) combination.
// An unmapped combination is a *ConfigurationError.
type AdapterResolver interface {
	Resolve(source, series string, interval time.Duration) (Adapter, error)
}

// LocationResolver maps an internal location + source to provider codes,
// ordered by ascending priority. Missing rows wrap ErrNotFound.
type LocationResolver interface {
	Resolve(ctx context.Context, location, source string) ([]string, error)
}

// Store is the contract any observation store must satisfy. Upserts are
// keyed by the natural key; inserting an existing key is a no-op.
type Store interface {
	QueryObservations(ctx context.Context, filter ObservationFilter, window TimeDescription) ([]Observation, error)
	UpsertObservations(ctx context.Context, obs []Observation) (int, error)
}

// ModelOutputReader reads prior internal-model outputs.
type ModelOutputReader interface {
	QueryModelOutputs(ctx context.Context, filter ModelOutputFilter) ([]ModelOutput, error)
}

// ValidationChain scores a series. ok is the AND of every selected validator;
// reason names the validators that failed and why.
type ValidationChain interface {
	Validate(s *Series) (ok bool, reason string, err error)
}

// Interpolator fills bounded gaps and returns a new series.
type Interpolator interface {
	Fill(s *Series) (*Series, error)
}

// Recorder receives acquisition metrics. Implementations must be safe for
// concurrent use.
type Recorder interface {
	AcquisitionFinished(source, series, outcome string, d time.Duration)
	IngestionAttempt(source, adapter, outcome string)
	ObservationsFetched(source string, fetched, persisted int)
	MultipleGenerations(source, series string)
}

type noopRecorder struct{}

func (noopRecorder) AcquisitionFinished(string, string, string, time.Duration) {}
func (noopRecorder) IngestionAttempt(string, string, string)                   {}
func (noopRecorder) ObservationsFetched(string, int, int)                      {}
func (noopRecorder) MultipleGenerations(string, string)                        {}
